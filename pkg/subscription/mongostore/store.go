// Package mongostore implements subscription.Store on MongoDB.
//
// Each user is one document keyed by user ID. Counter updates are single
// conditional $inc operations, so concurrent requests for the same user
// never lose increments and never overrun a quota.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

// CollectionName is the default collection holding subscription records.
const CollectionName = "subscriptions"

type document struct {
	UserID                 string             `bson:"_id"`
	PlanType               string             `bson:"plan_type"`
	BillingCustomerRef     string             `bson:"billing_customer_ref,omitempty"`
	BillingSubscriptionRef string             `bson:"billing_subscription_ref,omitempty"`
	Status                 string             `bson:"status"`
	CurrentPeriodEnd       *time.Time         `bson:"current_period_end,omitempty"`
	Usage                  subscription.Usage `bson:"usage"`
	LastEventAt            *time.Time         `bson:"last_event_at,omitempty"`
	CreatedAt              time.Time          `bson:"created_at"`
	UpdatedAt              time.Time          `bson:"updated_at"`
}

func (d *document) record() *subscription.Record {
	return &subscription.Record{
		UserID:                 d.UserID,
		PlanType:               subscription.PlanType(d.PlanType),
		BillingCustomerRef:     d.BillingCustomerRef,
		BillingSubscriptionRef: d.BillingSubscriptionRef,
		Status:                 subscription.Status(d.Status),
		CurrentPeriodEnd:       utcPtr(d.CurrentPeriodEnd),
		Usage:                  d.Usage,
		LastEventAt:            utcPtr(d.LastEventAt),
		CreatedAt:              d.CreatedAt.UTC(),
		UpdatedAt:              d.UpdatedAt.UTC(),
	}
}

// Store is a MongoDB-backed subscription.Store.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// New creates a store on the subscriptions collection of db.
func New(db *mongo.Database) *Store {
	return NewWithCollection(db.Collection(CollectionName))
}

// NewWithCollection creates a store on an explicit collection.
func NewWithCollection(coll *mongo.Collection) *Store {
	return &Store{coll: coll, now: time.Now}
}

// EnsureIndexes creates the lookup index used by billing webhooks.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "billing_subscription_ref", Value: 1}},
		Options: options.Index().SetName("billing_subscription_ref_idx").SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("create subscription ref index: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, userID string) (*subscription.Record, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: userID}})
}

func (s *Store) FindByBillingSubscriptionRef(ctx context.Context, ref string) (*subscription.Record, error) {
	if ref == "" {
		return nil, subscription.ErrRecordNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "billing_subscription_ref", Value: ref}})
}

func (s *Store) CreateDefault(ctx context.Context, userID string) (*subscription.Record, error) {
	if userID == "" {
		return nil, subscription.ErrInvalidUserID
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc document
	err := s.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: userID}}, s.insertDefault(), opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race; the winner's document is there now
		return s.Find(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create default record: %w", err)
	}
	return doc.record(), nil
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

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "plan_type", Value: string(record.PlanType)},
			{Key: "billing_customer_ref", Value: record.BillingCustomerRef},
			{Key: "billing_subscription_ref", Value: record.BillingSubscriptionRef},
			{Key: "status", Value: string(record.Status)},
			{Key: "current_period_end", Value: record.CurrentPeriodEnd},
			{Key: "last_event_at", Value: record.LastEventAt},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "usage", Value: subscription.Usage{}},
			{Key: "created_at", Value: createdAt},
		}},
	}

	_, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: record.UserID}}, update, options.UpdateOne().SetUpsert(true))
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
	if !feature.Valid() {
		return subscription.Usage{}, subscription.ErrInvalidFeature
	}

	_, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, s.insertDefault(), options.UpdateOne().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return subscription.Usage{}, fmt.Errorf("ensure record: %w", err)
	}

	counter := "usage." + feature.Field()
	filter := bson.D{{Key: "_id", Value: userID}}
	if limit != subscription.Unlimited {
		filter = append(filter, bson.E{Key: counter, Value: bson.D{{Key: "$lt", Value: limit}}})
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: counter, Value: int64(1)}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: s.now().UTC()}}},
	}

	var doc document
	err = s.coll.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, findErr := s.Find(ctx, userID)
		if findErr != nil {
			return subscription.Usage{}, findErr
		}
		return current.Usage, subscription.ErrQuotaExceeded
	}
	if err != nil {
		return subscription.Usage{}, fmt.Errorf("increment %s: %w", feature, err)
	}
	return doc.Usage, nil
}

func (s *Store) ResetAllUsage(ctx context.Context) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, bson.D{}, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "usage", Value: subscription.Usage{}},
			{Key: "updated_at", Value: s.now().UTC()},
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	return res.MatchedCount, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (*subscription.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, subscription.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return doc.record(), nil
}

func (s *Store) insertDefault() bson.D {
	now := s.now().UTC()
	return bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "plan_type", Value: string(subscription.PlanFree)},
		{Key: "status", Value: string(subscription.StatusActive)},
		{Key: "usage", Value: subscription.Usage{}},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}}}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ subscription.Store = (*Store)(nil)
