package subscription

import "context"

// Store defines the interface for subscription record persistence.
// Each user has exactly one record, so UserID serves as the primary key.
type Store interface {
	// Find retrieves a record by user ID.
	// Returns ErrRecordNotFound if no record exists.
	Find(ctx context.Context, userID string) (*Record, error)

	// CreateDefault inserts a free/active record with zeroed counters unless one
	// already exists, and returns the stored record. Must be an upsert-by-key so
	// concurrent first requests never produce two records.
	CreateDefault(ctx context.Context, userID string) (*Record, error)

	// Save persists plan, billing and status fields and refreshes UpdatedAt.
	// Usage counters are not written; they change only through IncrementUsage
	// and ResetAllUsage.
	Save(ctx context.Context, record *Record) error

	// FindByBillingSubscriptionRef retrieves a record by the provider's subscription ID.
	// Returns ErrRecordNotFound if no record references it.
	FindByBillingSubscriptionRef(ctx context.Context, ref string) (*Record, error)

	// IncrementUsage atomically creates the record if absent and increments the
	// feature counter by one. With limit >= 0 the increment only happens while
	// the counter is below limit; otherwise ErrQuotaExceeded is returned and
	// nothing changes. Pass Unlimited to increment unconditionally.
	IncrementUsage(ctx context.Context, userID string, feature Feature, limit int64) (Usage, error)

	// ResetAllUsage zeroes the counters of every record and returns how many
	// records were updated.
	ResetAllUsage(ctx context.Context) (int64, error)
}
