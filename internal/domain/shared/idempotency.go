package shared

import (
	"context"
	"time"
)

// IdempotencyStore guards a write behind a caller-supplied key so a retried
// request replays the first outcome instead of repeating the write.
type IdempotencyStore interface {
	// Reserve claims the key for an in-flight request.
	// Returns false if the key is already reserved or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Complete stores the outcome of the request that reserved the key.
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error

	// Lookup returns the stored outcome. found is true for reserved keys;
	// result is nil while the request is still in flight.
	Lookup(ctx context.Context, key string) (result []byte, found bool, err error)

	// Release drops a reservation so the request may be retried.
	Release(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}
