package power

import (
	"context"

	"github.com/rs/zerolog/log"
)

// NopBackend logs requested transitions without driving hardware. Used
// when no bridge URL is configured.
type NopBackend struct{}

func (NopBackend) SetState(_ context.Context, breakerID string, on bool) error {
	log.Debug().Str("breaker", breakerID).Bool("on", on).Msg("power backend disabled, state not driven")
	return nil
}

func (NopBackend) GetState(_ context.Context, _ string) (bool, error) {
	return false, nil
}
