package ingest

import (
	"errors"
	"testing"

	"breakerd/internal/domain"
)

func TestParseJSON(t *testing.T) {
	r, err := ParseJSON([]byte(`{"uid":"04A1","seconds":30,"breaker_id":"B1","controller":"node-1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Report{UID: "04A1", Amount: 30, BreakerID: "B1", Controller: "node-1"}
	if r != want {
		t.Fatalf("got %+v, want %+v", r, want)
	}
}

func TestParseJSONAliases(t *testing.T) {
	r, err := ParseJSON([]byte(`{"rfid":"04A1","amount":12.5,"breaker_id":"B2","origen":"arduino-3"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.UID != "04A1" || r.Amount != 12.5 || r.Controller != "arduino-3" {
		t.Fatalf("alias fields not mapped: %+v", r)
	}
}

func TestParseKV(t *testing.T) {
	r, err := ParseKV("uid=04A1;seconds=30;breaker_id=B1;controller=node-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := Report{UID: "04A1", Amount: 30, BreakerID: "B1", Controller: "node-1"}
	if r != want {
		t.Fatalf("got %+v, want %+v", r, want)
	}
}

func TestParseLineBothShapesAgree(t *testing.T) {
	fromJSON, err := ParseLine(`{"uid":"X","seconds":5,"breaker_id":"B1"}`)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	fromKV, err := ParseLine("uid=X;seconds=5;breaker_id=B1")
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	if fromJSON != fromKV {
		t.Fatalf("wire shapes disagree: %+v vs %+v", fromJSON, fromKV)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"{not json",
		`{"seconds":5,"breaker_id":"B1"}`, // no uid
		`{"uid":"X","breaker_id":"B1"}`,   // no amount
		`{"uid":"X","seconds":5}`,         // no breaker
		`{"uid":"X","seconds":-5,"breaker_id":"B1"}`, // negative
		"uid=X;seconds=abc;breaker_id=B1",
		"uid=X;garbage;breaker_id=B1",
	}
	for _, line := range cases {
		if _, err := ParseLine(line); !errors.Is(err, domain.ErrInvalidPayload) {
			t.Errorf("line %q: expected ErrInvalidPayload, got %v", line, err)
		}
	}
}
