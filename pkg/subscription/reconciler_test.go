package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

var testPrices = subscription.NewPriceMap([]string{"price_monthly"}, []string{"price_yearly"})

func periodEnd() *time.Time {
	t := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func newReconcilerFixture(t *testing.T, opts ...subscription.ReconcilerOption) (subscription.Store, *fakeProvider, *subscription.Reconciler) {
	t.Helper()
	store := subscription.NewMemoryStore()
	provider := newFakeProvider()
	provider.put(&subscription.ProviderSubscription{
		Ref:              "sub_1",
		CustomerRef:      "cus_1",
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: periodEnd(),
		PriceRef:         "price_monthly",
	})
	return store, provider, subscription.NewReconciler(store, provider, testPrices, opts...)
}

func TestReconciler_SubscriptionCreated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, rec := newReconcilerFixture(t)

	_, err := store.IncrementUsage(ctx, "u1", subscription.FeatureDetection, subscription.Unlimited)
	require.NoError(t, err)

	err = rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{
		SubscriptionRef: "sub_1",
		UserID:          "u1",
	})
	require.NoError(t, err)

	got, err := store.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanMonthly, got.PlanType)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, "sub_1", got.BillingSubscriptionRef)
	assert.Equal(t, "cus_1", got.BillingCustomerRef)
	assert.Equal(t, periodEnd(), got.CurrentPeriodEnd)
	assert.Equal(t, int64(1), got.Usage.Detections, "counters survive plan changes")
}

func TestReconciler_SubscriptionCreatedForNewUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, rec := newReconcilerFixture(t)

	err := rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{
		SubscriptionRef: "sub_1",
		UserID:          "u2",
		PlanType:        subscription.PlanYearly,
		CustomerRef:     "cus_checkout",
	})
	require.NoError(t, err)

	got, err := store.Find(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanYearly, got.PlanType, "explicit plan wins over price lookup")
	assert.Equal(t, "cus_checkout", got.BillingCustomerRef)
	assert.Equal(t, subscription.Usage{}, got.Usage)
}

func TestReconciler_SubscriptionCreatedUnknownPrice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, provider, rec := newReconcilerFixture(t)
	provider.put(&subscription.ProviderSubscription{Ref: "sub_x", Status: subscription.StatusTrialing, PriceRef: "price_legacy"})

	require.NoError(t, rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{
		SubscriptionRef: "sub_x",
		UserID:          "u1",
	}))

	got, err := store.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanMonthly, got.PlanType)
	assert.Equal(t, subscription.StatusTrialing, got.Status)
}

func TestReconciler_SubscriptionCreatedFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("provider unavailable", func(t *testing.T) {
		t.Parallel()
		store, provider, rec := newReconcilerFixture(t)
		provider.err = errBoom

		err := rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{SubscriptionRef: "sub_1", UserID: "u1"})
		require.ErrorIs(t, err, subscription.ErrUpstreamFailure)

		_, err = store.Find(ctx, "u1")
		assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		_, _, rec := newReconcilerFixture(t)

		err := rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{SubscriptionRef: "sub_1"})
		assert.ErrorIs(t, err, subscription.ErrInvalidInput)

		err = rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{UserID: "u1"})
		assert.ErrorIs(t, err, subscription.ErrInvalidInput)

		err = rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{
			SubscriptionRef: "sub_1", UserID: "u1", PlanType: "lifetime",
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanType)
	})
}

func TestReconciler_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, rec := newReconcilerFixture(t)
	require.NoError(t, rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{SubscriptionRef: "sub_1", UserID: "u1"}))

	next := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, rec.HandleSubscriptionUpdated(ctx, subscription.SubscriptionUpdated{
		SubscriptionRef:  "sub_1",
		Status:           subscription.StatusPastDue,
		CurrentPeriodEnd: &next,
		PriceRef:         "price_yearly",
	}))

	got, err := store.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, got.Status)
	assert.Equal(t, subscription.PlanYearly, got.PlanType)
	assert.True(t, got.CurrentPeriodEnd.Equal(next))

	// Unknown price keeps the plan
	require.NoError(t, rec.HandleSubscriptionUpdated(ctx, subscription.SubscriptionUpdated{
		SubscriptionRef: "sub_1",
		Status:          subscription.StatusActive,
		PriceRef:        "price_unknown",
	}))
	got, err = store.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanYearly, got.PlanType)
	assert.Equal(t, subscription.StatusActive, got.Status)
}

func TestReconciler_UntrackedSubscriptionIsIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	obs := &outcomes{}
	store, _, rec := newReconcilerFixture(t, subscription.WithEventObserver(obs))

	require.NoError(t, rec.HandleSubscriptionUpdated(ctx, subscription.SubscriptionUpdated{
		SubscriptionRef: "sub_ghost",
		Status:          subscription.StatusActive,
	}))
	require.NoError(t, rec.HandleSubscriptionCanceled(ctx, subscription.SubscriptionCanceled{
		SubscriptionRef: "sub_ghost",
	}))

	n, err := store.ResetAllUsage(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no record may be created for unknown subscriptions")
	assert.Equal(t, []string{"subscription_updated:not_found", "subscription_canceled:not_found"}, obs.eventList())
}

func TestReconciler_SubscriptionCanceledIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, rec := newReconcilerFixture(t)
	require.NoError(t, rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{SubscriptionRef: "sub_1", UserID: "u1"}))
	_, err := store.IncrementUsage(ctx, "u1", subscription.FeatureHumanization, subscription.Unlimited)
	require.NoError(t, err)

	cancel := subscription.SubscriptionCanceled{SubscriptionRef: "sub_1"}
	require.NoError(t, rec.HandleSubscriptionCanceled(ctx, cancel))
	first, err := store.Find(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, rec.HandleSubscriptionCanceled(ctx, cancel))
	second, err := store.Find(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, subscription.PlanFree, second.PlanType)
	assert.Equal(t, subscription.StatusCanceled, second.Status)
	assert.Equal(t, "sub_1", second.BillingSubscriptionRef)
	assert.Equal(t, int64(1), second.Usage.Humanizations)
	assert.Equal(t, first.PlanType, second.PlanType)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Usage, second.Usage)
}

func TestReconciler_StoreFailureIsUpstream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{Store: subscription.NewMemoryStore(), failFindByRef: true}
	rec := subscription.NewReconciler(store, newFakeProvider(), testPrices)

	err := rec.HandleSubscriptionUpdated(ctx, subscription.SubscriptionUpdated{SubscriptionRef: "sub_1"})
	assert.ErrorIs(t, err, subscription.ErrUpstreamFailure)

	err = rec.HandleSubscriptionCanceled(ctx, subscription.SubscriptionCanceled{SubscriptionRef: "sub_1"})
	assert.ErrorIs(t, err, subscription.ErrUpstreamFailure)
}

func TestReconciler_Apply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("ignored events are acknowledged", func(t *testing.T) {
		t.Parallel()
		obs := &outcomes{}
		_, _, rec := newReconcilerFixture(t, subscription.WithEventObserver(obs))
		require.NoError(t, rec.Apply(ctx, &subscription.BillingEvent{ID: "evt_0", Kind: subscription.EventIgnored}))
		assert.Equal(t, []string{"ignored:ignored"}, obs.eventList())
	})

	t.Run("nil event", func(t *testing.T) {
		t.Parallel()
		_, _, rec := newReconcilerFixture(t)
		assert.ErrorIs(t, rec.Apply(ctx, nil), subscription.ErrInvalidWebhookPayload)
	})

	t.Run("created without user falls back to ref lookup", func(t *testing.T) {
		t.Parallel()
		store, _, rec := newReconcilerFixture(t)
		require.NoError(t, rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{SubscriptionRef: "sub_1", UserID: "u1"}))

		require.NoError(t, rec.Apply(ctx, &subscription.BillingEvent{
			ID:              "evt_1",
			Kind:            subscription.EventSubscriptionCreated,
			SubscriptionRef: "sub_1",
			Status:          subscription.StatusPastDue,
		}))

		got, err := store.Find(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
	})

	t.Run("duplicate events are skipped", func(t *testing.T) {
		t.Parallel()
		obs := &outcomes{}
		dedup := newMemDedup()
		_, provider, rec := newReconcilerFixture(t,
			subscription.WithDeduplicator(dedup),
			subscription.WithEventObserver(obs),
		)
		event := &subscription.BillingEvent{
			ID:              "evt_2",
			Kind:            subscription.EventSubscriptionCreated,
			SubscriptionRef: "sub_1",
			UserID:          "u1",
		}

		require.NoError(t, rec.Apply(ctx, event))
		require.NoError(t, rec.Apply(ctx, event))

		assert.Equal(t, 1, provider.retrieved)
		assert.Equal(t, []string{"subscription_created:applied", "subscription_created:duplicate"}, obs.eventList())
	})

	t.Run("failed events are not marked processed", func(t *testing.T) {
		t.Parallel()
		dedup := newMemDedup()
		_, provider, rec := newReconcilerFixture(t, subscription.WithDeduplicator(dedup))
		provider.err = errBoom

		event := &subscription.BillingEvent{
			ID:              "evt_3",
			Kind:            subscription.EventSubscriptionCreated,
			SubscriptionRef: "sub_1",
			UserID:          "u1",
		}
		require.ErrorIs(t, rec.Apply(ctx, event), subscription.ErrUpstreamFailure)

		seen, err := dedup.Seen(ctx, "evt_3")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("broken dedup store still applies", func(t *testing.T) {
		t.Parallel()
		dedup := newMemDedup()
		dedup.err = errBoom
		store, _, rec := newReconcilerFixture(t, subscription.WithDeduplicator(dedup))

		require.NoError(t, rec.Apply(ctx, &subscription.BillingEvent{
			ID:              "evt_4",
			Kind:            subscription.EventSubscriptionCreated,
			SubscriptionRef: "sub_1",
			UserID:          "u1",
		}))

		got, err := store.Find(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanMonthly, got.PlanType)
	})
}

func TestReconciler_OrderingGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	t1 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	run := func(t *testing.T, opts ...subscription.ReconcilerOption) *subscription.Record {
		t.Helper()
		store, _, rec := newReconcilerFixture(t, opts...)
		require.NoError(t, rec.HandleSubscriptionCreated(ctx, subscription.SubscriptionCreated{
			SubscriptionRef: "sub_1", UserID: "u1", OccurredAt: t1.Add(-time.Hour),
		}))
		require.NoError(t, rec.HandleSubscriptionCanceled(ctx, subscription.SubscriptionCanceled{
			SubscriptionRef: "sub_1", OccurredAt: t2,
		}))
		// Late delivery of an older update
		require.NoError(t, rec.HandleSubscriptionUpdated(ctx, subscription.SubscriptionUpdated{
			SubscriptionRef: "sub_1", Status: subscription.StatusActive, PriceRef: "price_monthly", OccurredAt: t1,
		}))
		got, err := store.Find(ctx, "u1")
		require.NoError(t, err)
		return got
	}

	t.Run("with guard the newer cancel wins", func(t *testing.T) {
		t.Parallel()
		got := run(t, subscription.WithOrderingGuard())
		assert.Equal(t, subscription.StatusCanceled, got.Status)
		assert.Equal(t, subscription.PlanFree, got.PlanType)
		require.NotNil(t, got.LastEventAt)
		assert.True(t, got.LastEventAt.Equal(t2))
	})

	t.Run("without guard the last delivery wins", func(t *testing.T) {
		t.Parallel()
		got := run(t)
		assert.Equal(t, subscription.StatusActive, got.Status)
		assert.Equal(t, subscription.PlanMonthly, got.PlanType)
	})
}

func TestReconciler_HandleWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("verification failure", func(t *testing.T) {
		t.Parallel()
		_, provider, rec := newReconcilerFixture(t)
		provider.parseErr = subscription.ErrWebhookVerificationFailed
		err := rec.HandleWebhook(ctx, []byte(`{}`), "bad")
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
	})

	t.Run("applies parsed event", func(t *testing.T) {
		t.Parallel()
		store, provider, rec := newReconcilerFixture(t)
		provider.event = &subscription.BillingEvent{
			ID:              "evt_5",
			Kind:            subscription.EventSubscriptionCreated,
			SubscriptionRef: "sub_1",
			UserID:          "u9",
		}
		require.NoError(t, rec.HandleWebhook(ctx, []byte(`{}`), "sig"))

		got, err := store.Find(ctx, "u9")
		require.NoError(t, err)
		assert.Equal(t, "sub_1", got.BillingSubscriptionRef)
	})
}

func TestNewReconciler_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { subscription.NewReconciler(nil, newFakeProvider(), testPrices) })
	assert.Panics(t, func() { subscription.NewReconciler(subscription.NewMemoryStore(), nil, testPrices) })
}
