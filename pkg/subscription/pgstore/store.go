// Package pgstore implements subscription.Store on PostgreSQL.
//
// The store works on *sql.DB; with pgx use pg.OpenDB to bridge a pool. The
// schema lives in the migrations package. Counter updates are single
// conditional UPDATE statements, so concurrent requests for the same user
// never lose increments and never overrun a quota.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/usagegate/pkg/pg"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

const selectColumns = `user_id, plan_type, COALESCE(billing_customer_ref, ''), COALESCE(billing_subscription_ref, ''),
	status, current_period_end, detections, humanizations, last_event_at, created_at, updated_at`

const (
	queryFind = `SELECT ` + selectColumns + ` FROM subscriptions WHERE user_id = $1`

	queryFindByRef = `SELECT ` + selectColumns + ` FROM subscriptions WHERE billing_subscription_ref = $1 LIMIT 1`

	queryInsertDefault = `INSERT INTO subscriptions (user_id, plan_type, status, created_at, updated_at)
	VALUES ($1, 'free', 'active', $2, $2)
	ON CONFLICT (user_id) DO NOTHING`

	querySave = `INSERT INTO subscriptions (user_id, plan_type, billing_customer_ref, billing_subscription_ref,
		status, current_period_end, last_event_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (user_id) DO UPDATE SET
		plan_type = EXCLUDED.plan_type,
		billing_customer_ref = EXCLUDED.billing_customer_ref,
		billing_subscription_ref = EXCLUDED.billing_subscription_ref,
		status = EXCLUDED.status,
		current_period_end = EXCLUDED.current_period_end,
		last_event_at = EXCLUDED.last_event_at,
		updated_at = EXCLUDED.updated_at`

	queryIncrementDetections = `UPDATE subscriptions SET detections = detections + 1, updated_at = $3
	WHERE user_id = $1 AND ($2 < 0 OR detections < $2)
	RETURNING detections, humanizations`

	queryIncrementHumanizations = `UPDATE subscriptions SET humanizations = humanizations + 1, updated_at = $3
	WHERE user_id = $1 AND ($2 < 0 OR humanizations < $2)
	RETURNING detections, humanizations`

	queryUsage = `SELECT detections, humanizations FROM subscriptions WHERE user_id = $1`

	queryResetAll = `UPDATE subscriptions SET detections = 0, humanizations = 0, updated_at = $1`
)

var incrementQueries = map[subscription.Feature]string{
	subscription.FeatureDetection:    queryIncrementDetections,
	subscription.FeatureHumanization: queryIncrementHumanizations,
}

// Store is a PostgreSQL-backed subscription.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store on db.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Find(ctx context.Context, userID string) (*subscription.Record, error) {
	return s.queryRecord(ctx, queryFind, userID)
}

func (s *Store) FindByBillingSubscriptionRef(ctx context.Context, ref string) (*subscription.Record, error) {
	if ref == "" {
		return nil, subscription.ErrRecordNotFound
	}
	return s.queryRecord(ctx, queryFindByRef, ref)
}

func (s *Store) CreateDefault(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, subscription.ErrInvalidUserID
	}
	if err := s.insertDefault(ctx, userID); err != nil {
		return nil, err
	}
	return s.Find(ctx, userID)
}

func (s *Store) Save(ctx context.Context, record *subscription.Record) error {
	if record == nil || record.UserID == "" {
		return subscription.ErrInvalidUserID
	}

	now := s.now().UTC()
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, querySave,
		record.UserID,
		string(record.PlanType),
		nullString(record.BillingCustomerRef),
		nullString(record.BillingSubscriptionRef),
		string(record.Status),
		nullTime(record.CurrentPeriodEnd),
		nullTime(record.LastEventAt),
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	record.UpdatedAt = now
	return nil
}

func (s *Store) IncrementUsage(ctx context.Context, userID string, feature subscription.Feature, limit int64) (subscription.Usage, error) {
	if userID == "" {
		return subscription.Usage{}, subscription.ErrInvalidUserID
	}
	query, ok := incrementQueries[feature]
	if !ok {
		return subscription.Usage{}, subscription.ErrInvalidFeature
	}

	if err := s.insertDefault(ctx, userID); err != nil {
		return subscription.Usage{}, err
	}

	var usage subscription.Usage
	err := s.db.QueryRowContext(ctx, query, userID, limit, s.now().UTC()).
		Scan(&usage.Detections, &usage.Humanizations)
	if pg.IsNotFoundError(err) {
		if err := s.db.QueryRowContext(ctx, queryUsage, userID).Scan(&usage.Detections, &usage.Humanizations); err != nil {
			return subscription.Usage{}, fmt.Errorf("read usage: %w", err)
		}
		return usage, subscription.ErrQuotaExceeded
	}
	if err != nil {
		return subscription.Usage{}, fmt.Errorf("increment %s: %w", feature, err)
	}
	return usage, nil
}

func (s *Store) ResetAllUsage(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, queryResetAll, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	return n, nil
}

func (s *Store) insertDefault(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, queryInsertDefault, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("create default record: %w", err)
	}
	return nil
}

func (s *Store) queryRecord(ctx context.Context, query string, arg string) (*subscription.Record, error) {
	var (
		rec         subscription.Record
		plan        string
		status      string
		periodEnd   sql.NullTime
		lastEventAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.UserID,
		&plan,
		&rec.BillingCustomerRef,
		&rec.BillingSubscriptionRef,
		&status,
		&periodEnd,
		&rec.Usage.Detections,
		&rec.Usage.Humanizations,
		&lastEventAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscription.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}

	rec.PlanType = subscription.PlanType(plan)
	rec.Status = subscription.Status(status)
	rec.CurrentPeriodEnd = timePtr(periodEnd)
	rec.LastEventAt = timePtr(lastEventAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

var _ subscription.Store = (*Store)(nil)
