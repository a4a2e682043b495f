package ingest

import (
	"context"
	"fmt"

	"breakerd/internal/domain"
	"breakerd/internal/engine"
)

// Gateway applies canonical reports to the engine. Both transports
// (and the optional MQTT feed) funnel through Apply.
type Gateway struct {
	engine *engine.Engine
}

func NewGateway(e *engine.Engine) *Gateway {
	return &Gateway{engine: e}
}

// Result summarizes the state after an accepted report.
type Result struct {
	Card    domain.Card    `json:"card"`
	Breaker domain.Breaker `json:"breaker"`
}

// Apply resolves (or creates) the card, credits it, associates it with
// the breaker and powers the breaker on when the post-credit balance
// allows. The controller's last-seen is refreshed first so even a
// zero-credit tap leaves a trace once the report persists.
func (g *Gateway) Apply(ctx context.Context, r Report) (Result, error) {
	if _, ok := g.engine.Breaker(r.BreakerID); !ok {
		return Result{}, fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, r.BreakerID)
	}
	g.engine.TouchController(r.Controller)

	card, err := g.engine.Credit(ctx, r.UID, r.Amount)
	if err != nil {
		return Result{}, err
	}
	b, ok := g.engine.Breaker(r.BreakerID)
	if !ok {
		return Result{}, fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, r.BreakerID)
	}
	if b.CardUID != r.UID {
		if b, err = g.engine.Associate(ctx, r.BreakerID, r.UID); err != nil {
			return Result{}, err
		}
	}
	if card.Balance > 0 && !b.On {
		if b, err = g.engine.SetPower(ctx, r.BreakerID, true); err != nil {
			return Result{}, err
		}
	}
	return Result{Card: card, Breaker: b}, nil
}
