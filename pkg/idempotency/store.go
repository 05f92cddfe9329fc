package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL matches the longest redelivery window of the supported billing providers.
const DefaultTTL = 72 * time.Hour

var (
	ErrEmptyKey         = errors.New("idempotency: empty key")
	ErrStoreUnavailable = errors.New("idempotency: store unavailable")
)

// Store records keys that have already been processed.
type Store interface {
	// Seen reports whether key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key as processed. Marking an existing key refreshes nothing
	// and is not an error.
	Mark(ctx context.Context, key string) error
}
