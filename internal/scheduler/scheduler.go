package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Metered is the slice of the engine the loop needs.
type Metered interface {
	PoweredBreakerIDs() []string
	DebitTick(ctx context.Context, breakerID string) error
}

// Loop debits powered, card-associated breakers once per interval.
// time.Ticker drops ticks when a tick overruns the period, so a slow
// tick is skipped rather than queued. Per-breaker failures are logged
// and do not stop the rest of the tick.
type Loop struct {
	engine   Metered
	interval time.Duration
}

func New(engine Metered, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{engine: engine, interval: interval}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", l.interval).Msg("metering loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("metering loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one metering pass.
func (l *Loop) Tick(ctx context.Context) {
	for _, id := range l.engine.PoweredBreakerIDs() {
		if err := l.engine.DebitTick(ctx, id); err != nil {
			log.Error().Err(err).Str("breaker", id).Msg("tick debit failed")
		}
	}
}
