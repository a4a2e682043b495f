package domain

import "time"

// Card is a prepaid RFID credential. Balance is in watt-seconds and
// never goes negative.
type Card struct {
	UID     string  `json:"uid"`
	Balance float64 `json:"balance"`
}

// Breaker is a controllable outlet gated by the balance of its
// associated card. Balance mirrors the card's balance; the card is
// authoritative.
type Breaker struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	On      bool    `json:"power_state"`
	CardUID string  `json:"associated_card_uid,omitempty"`
	Balance float64 `json:"balance"`
	// Rate is debited from the card on every metering tick while the
	// breaker is on and associated.
	Rate float64 `json:"consumption_rate"`
	// Discrepancy is set when the physical switch could not be driven
	// to match On; cleared on the next successful backend call.
	Discrepancy bool `json:"discrepancy,omitempty"`
}

// Controller is a microcontroller node that reports card taps and
// usage. Purely observational.
type Controller struct {
	ID       string    `json:"controller_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot is a point-in-time copy of all entities, keyed by
// identifier. It doubles as the persistence document.
type Snapshot struct {
	Cards       map[string]Card       `json:"cards"`
	Breakers    map[string]Breaker    `json:"breakers"`
	Controllers map[string]Controller `json:"controllers"`
}

// EmptySnapshot returns a snapshot with all collections allocated.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Cards:       map[string]Card{},
		Breakers:    map[string]Breaker{},
		Controllers: map[string]Controller{},
	}
}
