package power

import "context"

// Backend drives the physical switch behind a breaker. Implementations
// must be safe for concurrent use; calls are made outside the engine's
// serialization domain.
type Backend interface {
	SetState(ctx context.Context, breakerID string, on bool) error
	GetState(ctx context.Context, breakerID string) (bool, error)
}
