package subscription

import "time"

// Record is the per-user subscription and usage document.
// Exactly one record exists per UserID.
type Record struct {
	UserID                 string
	PlanType               PlanType
	BillingCustomerRef     string // empty until a paid checkout completes
	BillingSubscriptionRef string // empty until a paid checkout completes
	Status                 Status
	CurrentPeriodEnd       *time.Time
	Usage                  Usage
	LastEventAt            *time.Time // newest billing event applied
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewDefaultRecord returns a free, active record with zeroed counters.
func NewDefaultRecord(userID string, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		UserID:    userID,
		PlanType:  PlanFree,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the provider reports the subscription as active.
func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

// EntitlementSuspended reports whether a paid plan is blocked by its status.
func (r *Record) EntitlementSuspended() bool {
	return r.PlanType.IsPaid() && !r.IsActive()
}

// Clone returns a deep copy so callers can't mutate store internals.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.CurrentPeriodEnd != nil {
		t := *r.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	if r.LastEventAt != nil {
		t := *r.LastEventAt
		c.LastEventAt = &t
	}
	return &c
}
