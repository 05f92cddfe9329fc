// Package subscription meters feature usage per user, gates metered features
// behind plan quotas and mirrors billing provider subscription state.
//
// Every user has one Record holding their plan type, the provider's
// subscription status and the usage counters for the current period. The
// package is built from a few small pieces around the Store interface:
//
//   - Meter counts one unit of usage per call (RecordUsage) and reads the
//     current counters (CurrentUsage).
//   - Gate decides, before the expensive work runs, whether a user may invoke
//     a feature, and consumes one unit of quota when it allows. Paid plans in a
//     status other than active are denied; free users are denied at their
//     Policy limit. The limit check and the increment are one atomic store
//     operation, so concurrent requests cannot overrun the quota.
//   - Reconciler applies provider webhook events (created, updated, canceled)
//     to the store. Handlers use set semantics and are safe to replay; an
//     optional EventDeduplicator skips event IDs already processed and
//     WithOrderingGuard drops events older than the last applied one.
//   - Resetter zeroes all counters at the start of a billing period, either
//     through a key-guarded call or from an in-process scheduler.
//
// # Billing providers
//
// BillingProvider abstracts the payment processor. StripeProvider and
// PaddleProvider verify webhook signatures, normalize events into
// BillingEvent, fetch live subscription state and create checkout and
// customer portal links. PriceMap translates provider price IDs into plan
// types.
//
// # Stores
//
// NewMemoryStore serves tests and single-instance development. Durable
// implementations live in the mongostore and pgstore sub-packages; both
// honour the Store contract that Save never touches usage counters.
//
// # Usage
//
//	store := subscription.NewMemoryStore()
//	gate := subscription.NewGate(store,
//	    subscription.WithFailurePolicy(subscription.FailOpen),
//	)
//
//	r.With(gate.Middleware(subscription.FeatureDetection,
//	    subscription.HeaderUserID("X-User-ID"),
//	)).Post("/detect", detectHandler)
//
// # Errors
//
// Validation failures wrap ErrInvalidInput, store and provider outages wrap
// ErrUpstreamFailure and bad webhook signatures wrap
// ErrWebhookVerificationFailed. Use errors.Is to classify them.
package subscription
