package subscription

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

// Resetter zeroes every user's usage counters at the start of a billing period.
type Resetter struct {
	store  Store
	apiKey string
	log    *slog.Logger
}

// NewResetter creates a Resetter guarded by apiKey.
// An empty apiKey disables key-authorized resets entirely.
func NewResetter(store Store, apiKey string, log *slog.Logger) *Resetter {
	if store == nil {
		panic("subscription: Store is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resetter{store: store, apiKey: apiKey, log: log}
}

// Reset checks apiKey against the internal secret and resets all counters.
func (r *Resetter) Reset(ctx context.Context, apiKey string) (int64, error) {
	if !r.Authorize(apiKey) {
		return 0, ErrUnauthorized
	}
	return r.ResetAll(ctx)
}

// Authorize reports whether apiKey matches the configured secret.
func (r *Resetter) Authorize(apiKey string) bool {
	if r.apiKey == "" || apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.apiKey), []byte(apiKey)) == 1
}

// ResetAll resets all counters without a key check. Used by trusted in-process
// schedulers.
func (r *Resetter) ResetAll(ctx context.Context) (int64, error) {
	n, err := r.store.ResetAllUsage(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "usage reset failed",
			logger.Error(err),
			logger.Component("usage_reset"),
		)
		return n, errors.Join(ErrUpstreamFailure, err)
	}

	r.log.InfoContext(ctx, "usage counters reset",
		logger.Affected(n),
		logger.Component("usage_reset"),
	)
	return n, nil
}
