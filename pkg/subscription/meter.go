package subscription

import (
	"context"
	"errors"
)

// Meter records feature usage for the current billing period.
type Meter struct {
	store Store
}

// NewMeter creates a Meter backed by store.
// Panics if store is nil to fail fast during initialization.
func NewMeter(store Store) *Meter {
	if store == nil {
		panic("subscription: Store is required")
	}
	return &Meter{store: store}
}

// RecordUsage increments the counter for feature by exactly one, creating a
// default free-tier record if the user has none, and returns the new counters.
func (m *Meter) RecordUsage(ctx context.Context, userID string, feature Feature) (Usage, error) {
	if userID == "" {
		return Usage{}, errors.Join(ErrInvalidInput, ErrInvalidUserID)
	}
	if !feature.Valid() {
		return Usage{}, errors.Join(ErrInvalidInput, ErrInvalidFeature)
	}

	usage, err := m.store.IncrementUsage(ctx, userID, feature, Unlimited)
	if err != nil {
		return Usage{}, errors.Join(ErrUpstreamFailure, err)
	}
	return usage, nil
}

// CurrentUsage returns the stored record for userID, or a synthetic free,
// active record with zero counters when none exists. Nothing is persisted.
func (m *Meter) CurrentUsage(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, errors.Join(ErrInvalidInput, ErrInvalidUserID)
	}

	rec, err := m.store.Find(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return &Record{UserID: userID, PlanType: PlanFree, Status: StatusActive}, nil
	}
	if err != nil {
		return nil, errors.Join(ErrUpstreamFailure, err)
	}
	return rec, nil
}
