package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"breakerd/internal/domain"
)

// Report is the single canonical tap-in / usage record. Everything
// arriving on any transport is parsed into this before it touches the
// engine; nothing loosely typed crosses that boundary.
type Report struct {
	UID        string  `json:"uid"`
	Amount     float64 `json:"amount"`
	BreakerID  string  `json:"breaker_id"`
	Controller string  `json:"controller,omitempty"`
}

// wireReport tolerates the field aliases the firmware actually sends:
// uid/rfid/nfc for the card, seconds/amount for the credit,
// controller/origen/arduino for the node.
type wireReport struct {
	UID        string   `json:"uid"`
	RFID       string   `json:"rfid"`
	NFC        string   `json:"nfc"`
	Seconds    *float64 `json:"seconds"`
	Amount     *float64 `json:"amount"`
	BreakerID  string   `json:"breaker_id"`
	Controller string   `json:"controller"`
	Origen     string   `json:"origen"`
	Arduino    string   `json:"arduino"`
}

func (w wireReport) canonical() (Report, error) {
	r := Report{BreakerID: w.BreakerID}
	switch {
	case w.UID != "":
		r.UID = w.UID
	case w.RFID != "":
		r.UID = w.RFID
	case w.NFC != "":
		r.UID = w.NFC
	default:
		return Report{}, fmt.Errorf("%w: missing card uid", domain.ErrInvalidPayload)
	}
	switch {
	case w.Seconds != nil:
		r.Amount = *w.Seconds
	case w.Amount != nil:
		r.Amount = *w.Amount
	default:
		return Report{}, fmt.Errorf("%w: missing seconds/amount", domain.ErrInvalidPayload)
	}
	if r.Amount < 0 {
		return Report{}, fmt.Errorf("%w: negative amount", domain.ErrInvalidPayload)
	}
	if r.BreakerID == "" {
		return Report{}, fmt.Errorf("%w: missing breaker_id", domain.ErrInvalidPayload)
	}
	switch {
	case w.Controller != "":
		r.Controller = w.Controller
	case w.Origen != "":
		r.Controller = w.Origen
	case w.Arduino != "":
		r.Controller = w.Arduino
	}
	return r, nil
}

// ParseJSON parses the structured wire form.
func ParseJSON(raw []byte) (Report, error) {
	var w wireReport
	if err := json.Unmarshal(raw, &w); err != nil {
		return Report{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return w.canonical()
}

// ParseKV parses the compact key-value form the firmware emits on the
// raw socket: uid=...;seconds=...;breaker_id=...
func ParseKV(line string) (Report, error) {
	var w wireReport
	for _, field := range strings.Split(line, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Report{}, fmt.Errorf("%w: bad field %q", domain.ErrInvalidPayload, field)
		}
		switch strings.TrimSpace(key) {
		case "uid", "rfid", "nfc":
			w.UID = strings.TrimSpace(value)
		case "seconds", "amount":
			n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return Report{}, fmt.Errorf("%w: bad number %q", domain.ErrInvalidPayload, value)
			}
			w.Seconds = &n
		case "breaker_id", "breaker":
			w.BreakerID = strings.TrimSpace(value)
		case "controller", "origen", "arduino":
			w.Controller = strings.TrimSpace(value)
		}
	}
	return w.canonical()
}

// ParseLine accepts either wire shape: JSON objects start with '{',
// everything else is treated as key-value.
func ParseLine(line string) (Report, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Report{}, fmt.Errorf("%w: empty line", domain.ErrInvalidPayload)
	}
	if strings.HasPrefix(trimmed, "{") {
		return ParseJSON([]byte(trimmed))
	}
	return ParseKV(trimmed)
}
