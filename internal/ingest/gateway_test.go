package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"breakerd/internal/broadcast"
	"breakerd/internal/domain"
	"breakerd/internal/engine"
	"breakerd/internal/power"
	"breakerd/internal/store"
)

func newTestGateway(t *testing.T) (*Gateway, *engine.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	seed := `{"cards":{},"breakers":{"B1":{"id":"B1","consumption_rate":1}},"controllers":{}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng := engine.New(store.NewFile(path), power.NopBackend{}, broadcast.NewHub())
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return NewGateway(eng), eng
}

func TestApplyCreditsAssociatesAndPowersOn(t *testing.T) {
	gw, eng := newTestGateway(t)
	res, err := gw.Apply(context.Background(), Report{UID: "C1", Amount: 30, BreakerID: "B1", Controller: "node-1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Card.Balance != 30 {
		t.Fatalf("expected balance 30, got %f", res.Card.Balance)
	}
	if !res.Breaker.On || res.Breaker.CardUID != "C1" {
		t.Fatalf("expected B1 on and associated: %+v", res.Breaker)
	}
	snap := eng.Snapshot()
	if _, ok := snap.Controllers["node-1"]; !ok {
		t.Fatal("controller last-seen not recorded")
	}
}

func TestApplyZeroCreditStaysOff(t *testing.T) {
	gw, _ := newTestGateway(t)
	res, err := gw.Apply(context.Background(), Report{UID: "C1", Amount: 0, BreakerID: "B1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Breaker.On {
		t.Fatal("zero-balance tap must not power the breaker")
	}
	if res.Breaker.CardUID != "C1" {
		t.Fatal("tap must still associate the card")
	}
}

func TestApplyUnknownBreaker(t *testing.T) {
	gw, eng := newTestGateway(t)
	_, err := gw.Apply(context.Background(), Report{UID: "C1", Amount: 10, BreakerID: "nope"})
	if !errors.Is(err, domain.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
	if _, ok := eng.Card("C1"); ok {
		t.Fatal("rejected report must not create the card")
	}
}

func TestApplyRepeatedReportsAccumulate(t *testing.T) {
	gw, eng := newTestGateway(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := gw.Apply(ctx, Report{UID: "C1", Amount: 10, BreakerID: "B1"}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	card, _ := eng.Card("C1")
	if card.Balance != 30 {
		t.Fatalf("expected 30, got %f", card.Balance)
	}
}
