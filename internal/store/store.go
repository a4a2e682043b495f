package store

import (
	"context"

	"breakerd/internal/domain"
)

// Store persists the full entity document. Save replaces the whole
// document; there is no incremental write path.
type Store interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Save(ctx context.Context, snap domain.Snapshot) error
}
