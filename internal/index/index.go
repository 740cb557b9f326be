package index

import (
	"context"

	"github.com/starford/relink/internal/models"
)

// EventIndex is the local persisted lookup consumed by the two-tier store.
// Find* methods return apperr.ErrNotFound on a miss.
type EventIndex interface {
	FindEvent(ctx context.Context, id string) (*models.Event, error)
	FindProfile(ctx context.Context, pubkey string) (*models.Event, error)
	FindAddressable(ctx context.Context, kind int, author, slug string) (*models.Event, error)
	SaveEvent(ctx context.Context, ev models.Event) error
}

// Verify *DB satisfies EventIndex at compile time.
var _ EventIndex = (*DB)(nil)
