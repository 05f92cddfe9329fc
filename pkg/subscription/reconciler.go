package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

// SubscriptionCreated is applied when a paid checkout completes.
type SubscriptionCreated struct {
	SubscriptionRef string
	UserID          string
	PlanType        PlanType // optional; derived from the provider price when empty
	CustomerRef     string
	OccurredAt      time.Time
}

// SubscriptionUpdated is applied when the provider reports a state change.
// It carries no user ID, so the record is located by SubscriptionRef.
type SubscriptionUpdated struct {
	SubscriptionRef  string
	Status           Status
	CurrentPeriodEnd *time.Time
	PriceRef         string
	OccurredAt       time.Time
}

// SubscriptionCanceled is applied when the provider ends a subscription.
type SubscriptionCanceled struct {
	SubscriptionRef string
	Status          Status // provider-reported terminal status; defaults to canceled
	OccurredAt      time.Time
}

// EventDeduplicator remembers processed provider event IDs in a store shared
// by every instance.
type EventDeduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// EventObserver receives the outcome of every applied event, e.g. for metrics.
type EventObserver interface {
	ObserveEvent(kind EventKind, outcome string)
}

// Event outcomes reported to EventObserver.
const (
	OutcomeApplied   = "applied"
	OutcomeNotFound  = "not_found"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the reconciler logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithDeduplicator skips provider events whose ID was already processed.
func WithDeduplicator(d EventDeduplicator) ReconcilerOption {
	return func(r *Reconciler) {
		r.dedup = d
	}
}

// WithOrderingGuard drops events older than the newest event already applied
// to the record. Off by default: without it, a late "updated" event may
// overwrite a newer cancellation.
func WithOrderingGuard() ReconcilerOption {
	return func(r *Reconciler) {
		r.orderingGuard = true
	}
}

// WithEventObserver registers an event outcome observer.
func WithEventObserver(o EventObserver) ReconcilerOption {
	return func(r *Reconciler) {
		if o != nil {
			r.observer = o
		}
	}
}

// Reconciler applies billing provider events to the record store.
// Every handler uses set semantics, so replaying an event converges to the
// same state.
type Reconciler struct {
	store         Store
	provider      BillingProvider
	prices        PriceMap
	log           *slog.Logger
	dedup         EventDeduplicator
	observer      EventObserver
	orderingGuard bool
}

// NewReconciler creates a Reconciler.
// Panics if store or provider is nil to fail fast during initialization.
func NewReconciler(store Store, provider BillingProvider, prices PriceMap, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: Store is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}
	r := &Reconciler{
		store:    store,
		provider: provider,
		prices:   prices,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook verifies, parses and applies a raw provider webhook.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}
	return r.Apply(ctx, event)
}

// Apply dispatches a normalized event. Events already processed (by ID) are
// skipped; an event is marked processed only after it was applied.
func (r *Reconciler) Apply(ctx context.Context, event *BillingEvent) error {
	if event == nil {
		return ErrInvalidWebhookPayload
	}

	if event.Kind == EventIgnored {
		r.log.DebugContext(ctx, "billing event ignored",
			logger.EventID(event.ID),
			logger.EventType(event.ProviderEvent),
			logger.Component("billing_reconciler"),
		)
		r.observe(event.Kind, OutcomeIgnored)
		return nil
	}

	if r.dedup != nil && event.ID != "" {
		seen, err := r.dedup.Seen(ctx, event.ID)
		if err != nil {
			// Handlers are replay-safe, so a broken dedup store only costs extra work
			r.log.WarnContext(ctx, "event dedup lookup failed",
				logger.EventID(event.ID),
				logger.Error(err),
				logger.Component("billing_reconciler"),
			)
		} else if seen {
			r.observe(event.Kind, OutcomeDuplicate)
			return nil
		}
	}

	var err error
	switch event.Kind {
	case EventSubscriptionCreated:
		if event.UserID == "" {
			// No user to attach to: the subscription may already be tracked by ref
			err = r.HandleSubscriptionUpdated(ctx, SubscriptionUpdated{
				SubscriptionRef:  event.SubscriptionRef,
				Status:           event.Status,
				CurrentPeriodEnd: event.CurrentPeriodEnd,
				PriceRef:         event.PriceRef,
				OccurredAt:       event.OccurredAt,
			})
			break
		}
		err = r.HandleSubscriptionCreated(ctx, SubscriptionCreated{
			SubscriptionRef: event.SubscriptionRef,
			UserID:          event.UserID,
			PlanType:        event.PlanType,
			CustomerRef:     event.CustomerRef,
			OccurredAt:      event.OccurredAt,
		})
	case EventSubscriptionUpdated:
		err = r.HandleSubscriptionUpdated(ctx, SubscriptionUpdated{
			SubscriptionRef:  event.SubscriptionRef,
			Status:           event.Status,
			CurrentPeriodEnd: event.CurrentPeriodEnd,
			PriceRef:         event.PriceRef,
			OccurredAt:       event.OccurredAt,
		})
	case EventSubscriptionCanceled:
		err = r.HandleSubscriptionCanceled(ctx, SubscriptionCanceled{
			SubscriptionRef: event.SubscriptionRef,
			Status:          event.Status,
			OccurredAt:      event.OccurredAt,
		})
	default:
		r.observe(event.Kind, OutcomeIgnored)
		return nil
	}
	if err != nil {
		return err
	}

	if r.dedup != nil && event.ID != "" {
		if err := r.dedup.Mark(ctx, event.ID); err != nil {
			r.log.WarnContext(ctx, "failed to mark event processed",
				logger.EventID(event.ID),
				logger.Error(err),
				logger.Component("billing_reconciler"),
			)
		}
	}
	return nil
}

// HandleSubscriptionCreated attaches a paid subscription to a user.
// Status, period end and price come from the provider at handling time,
// not from the event payload.
func (r *Reconciler) HandleSubscriptionCreated(ctx context.Context, ev SubscriptionCreated) error {
	if ev.UserID == "" {
		return errors.Join(ErrInvalidInput, ErrInvalidUserID)
	}
	if ev.SubscriptionRef == "" {
		return errors.Join(ErrInvalidInput, ErrMissingSubscriptionRef)
	}
	if ev.PlanType != "" && !ev.PlanType.Valid() {
		return errors.Join(ErrInvalidInput, ErrInvalidPlanType)
	}

	current, err := r.provider.RetrieveSubscription(ctx, ev.SubscriptionRef)
	if err != nil {
		r.observe(EventSubscriptionCreated, OutcomeFailed)
		return errors.Join(ErrUpstreamFailure, fmt.Errorf("retrieve subscription %s: %w", ev.SubscriptionRef, err))
	}

	rec, err := r.store.CreateDefault(ctx, ev.UserID)
	if err != nil {
		r.observe(EventSubscriptionCreated, OutcomeFailed)
		return errors.Join(ErrUpstreamFailure, err)
	}

	if r.isStale(rec, ev.OccurredAt) {
		r.logStale(ctx, EventSubscriptionCreated, ev.SubscriptionRef, rec)
		return nil
	}

	plan := ev.PlanType
	if plan == "" {
		mapped, ok := r.prices.PlanFor(current.PriceRef)
		if !ok {
			r.log.WarnContext(ctx, "unknown price for new subscription, defaulting to monthly",
				logger.SubscriptionRef(ev.SubscriptionRef),
				slog.String("price_ref", current.PriceRef),
				logger.Component("billing_reconciler"),
			)
			mapped = PlanMonthly
		}
		plan = mapped
	}

	rec.PlanType = plan
	rec.BillingSubscriptionRef = ev.SubscriptionRef
	if ev.CustomerRef != "" {
		rec.BillingCustomerRef = ev.CustomerRef
	} else if current.CustomerRef != "" {
		rec.BillingCustomerRef = current.CustomerRef
	}
	rec.Status = current.Status
	rec.CurrentPeriodEnd = current.CurrentPeriodEnd
	r.touchEvent(rec, ev.OccurredAt)

	if err := r.store.Save(ctx, rec); err != nil {
		r.observe(EventSubscriptionCreated, OutcomeFailed)
		return errors.Join(ErrUpstreamFailure, fmt.Errorf("save subscription for user %s: %w", ev.UserID, err))
	}

	r.log.InfoContext(ctx, "subscription created",
		logger.UserID(ev.UserID),
		logger.SubscriptionRef(ev.SubscriptionRef),
		logger.PlanType(string(plan)),
		slog.String("status", string(rec.Status)),
		logger.Component("billing_reconciler"),
	)
	r.observe(EventSubscriptionCreated, OutcomeApplied)
	return nil
}

// HandleSubscriptionUpdated refreshes status, period end and plan of the
// record holding the subscription. Unknown subscriptions are ignored.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated) error {
	rec, err := r.findByRef(ctx, EventSubscriptionUpdated, ev.SubscriptionRef)
	if err != nil || rec == nil {
		return err
	}

	if r.isStale(rec, ev.OccurredAt) {
		r.logStale(ctx, EventSubscriptionUpdated, ev.SubscriptionRef, rec)
		return nil
	}

	if ev.Status != "" {
		rec.Status = ev.Status
	}
	rec.CurrentPeriodEnd = ev.CurrentPeriodEnd
	if plan, ok := r.prices.PlanFor(ev.PriceRef); ok {
		rec.PlanType = plan
	} else if ev.PriceRef != "" {
		r.log.WarnContext(ctx, "unknown price on subscription update, plan unchanged",
			logger.SubscriptionRef(ev.SubscriptionRef),
			slog.String("price_ref", ev.PriceRef),
			logger.Component("billing_reconciler"),
		)
	}
	r.touchEvent(rec, ev.OccurredAt)

	if err := r.store.Save(ctx, rec); err != nil {
		r.observe(EventSubscriptionUpdated, OutcomeFailed)
		return errors.Join(ErrUpstreamFailure, fmt.Errorf("update subscription %s: %w", ev.SubscriptionRef, err))
	}

	r.observe(EventSubscriptionUpdated, OutcomeApplied)
	return nil
}

// HandleSubscriptionCanceled moves the record back to the free plan with the
// provider's terminal status. Unknown subscriptions are ignored.
func (r *Reconciler) HandleSubscriptionCanceled(ctx context.Context, ev SubscriptionCanceled) error {
	rec, err := r.findByRef(ctx, EventSubscriptionCanceled, ev.SubscriptionRef)
	if err != nil || rec == nil {
		return err
	}

	if r.isStale(rec, ev.OccurredAt) {
		r.logStale(ctx, EventSubscriptionCanceled, ev.SubscriptionRef, rec)
		return nil
	}

	status := ev.Status
	if status == "" {
		status = StatusCanceled
	}
	rec.Status = status
	rec.PlanType = PlanFree
	r.touchEvent(rec, ev.OccurredAt)

	if err := r.store.Save(ctx, rec); err != nil {
		r.observe(EventSubscriptionCanceled, OutcomeFailed)
		return errors.Join(ErrUpstreamFailure, fmt.Errorf("cancel subscription %s: %w", ev.SubscriptionRef, err))
	}

	r.log.InfoContext(ctx, "subscription canceled",
		logger.UserID(rec.UserID),
		logger.SubscriptionRef(ev.SubscriptionRef),
		slog.String("status", string(status)),
		logger.Component("billing_reconciler"),
	)
	r.observe(EventSubscriptionCanceled, OutcomeApplied)
	return nil
}

// findByRef returns (nil, nil) when no record holds ref.
func (r *Reconciler) findByRef(ctx context.Context, kind EventKind, ref string) (*Record, error) {
	if ref == "" {
		return nil, errors.Join(ErrInvalidInput, ErrMissingSubscriptionRef)
	}

	rec, err := r.store.FindByBillingSubscriptionRef(ctx, ref)
	if errors.Is(err, ErrRecordNotFound) {
		r.log.InfoContext(ctx, "billing event for untracked subscription",
			logger.SubscriptionRef(ref),
			logger.EventType(string(kind)),
			logger.Component("billing_reconciler"),
		)
		r.observe(kind, OutcomeNotFound)
		return nil, nil
	}
	if err != nil {
		r.observe(kind, OutcomeFailed)
		return nil, errors.Join(ErrUpstreamFailure, err)
	}
	return rec, nil
}

func (r *Reconciler) isStale(rec *Record, occurredAt time.Time) bool {
	if !r.orderingGuard || occurredAt.IsZero() || rec.LastEventAt == nil {
		return false
	}
	return occurredAt.Before(*rec.LastEventAt)
}

func (r *Reconciler) touchEvent(rec *Record, occurredAt time.Time) {
	if occurredAt.IsZero() {
		return
	}
	if rec.LastEventAt == nil || occurredAt.After(*rec.LastEventAt) {
		t := occurredAt.UTC()
		rec.LastEventAt = &t
	}
}

func (r *Reconciler) logStale(ctx context.Context, kind EventKind, ref string, rec *Record) {
	r.log.InfoContext(ctx, "stale billing event skipped",
		logger.SubscriptionRef(ref),
		logger.EventType(string(kind)),
		slog.Time("last_event_at", *rec.LastEventAt),
		logger.Component("billing_reconciler"),
	)
	r.observe(kind, OutcomeStale)
}

func (r *Reconciler) observe(kind EventKind, outcome string) {
	if r.observer != nil {
		r.observer.ObserveEvent(kind, outcome)
	}
}
