package pastes

import (
	"context"
	"time"
)

// Store is the storage collaborator required by the lifecycle engine.
//
// ConsumeView must be a single atomic operation: it evaluates liveness against now
// and, only when alive, increments view_count by one and returns the record with the
// post-increment counter. Dead and absent records both yield ErrNotFound.
type Store interface {
	Insert(ctx context.Context, paste *Paste) error
	Get(ctx context.Context, id PasteID) (*Paste, error)
	ConsumeView(ctx context.Context, id PasteID, now time.Time) (*Paste, error)
	Ping(ctx context.Context) error
	Close() error
}

// Purger is implemented by stores that can delete dead pastes out of band.
// Pastes whose expiry lies before the cutoff of before, or whose quota is exhausted, are removed.
type Purger interface {
	PurgeDead(ctx context.Context, before time.Time) (int, error)
}
