package subscription

import (
	"context"
	"time"
)

// BillingProvider defines the minimal interface for payment provider integrations.
// The provider is the system of record for paid subscriptions; this package only
// mirrors its state. Implementations should use official provider SDKs and handle
// provider-specific quirks internally (Stripe's client_reference_id, Paddle's custom_data).
type BillingProvider interface {
	// RetrieveSubscription fetches the current state of a provider subscription.
	RetrieveSubscription(ctx context.Context, ref string) (*ProviderSubscription, error)

	// ParseWebhook validates the signature and parses incoming webhook data.
	// Must return an error wrapping ErrWebhookVerificationFailed for bad signatures.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*BillingEvent, error)

	// SignatureHeader returns the HTTP header carrying the webhook signature.
	SignatureHeader() string

	// CreateCheckoutLink creates a hosted checkout session.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// GetCustomerPortalLink returns a temporary link to the customer portal
	// where users can update payment methods or cancel.
	GetCustomerPortalLink(ctx context.Context, record *Record, returnURL string) (*PortalLink, error)
}

// ProviderSubscription is the provider's current view of a subscription.
type ProviderSubscription struct {
	Ref              string
	CustomerRef      string
	Status           Status
	CurrentPeriodEnd *time.Time
	PriceRef         string
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID     string   // Provider's price identifier
	UserID      string   // Internal user ID, echoed back in webhooks
	PlanType    PlanType // Plan being bought, echoed back in webhooks
	CustomerRef string   // Existing provider customer, if any
	Email       string   // Optional billing email
	SuccessURL  string   // Redirect after successful payment
	CancelURL   string   // Redirect if customer cancels
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// PortalLink represents a customer portal session.
type PortalLink struct {
	URL       string
	ExpiresAt time.Time
}

// EventKind is the normalized billing event type.
// Each provider implementation maps its specific events to these kinds.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription_created"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	EventIgnored              EventKind = "ignored"
)

// BillingEvent is a verified, normalized webhook event.
type BillingEvent struct {
	ID               string // provider event ID, used for deduplication
	Kind             EventKind
	ProviderEvent    string // original provider event name
	OccurredAt       time.Time
	SubscriptionRef  string
	CustomerRef      string
	UserID           string   // set when the provider echoes our user ID back
	PlanType         PlanType // set when checkout metadata names the plan
	Status           Status
	PriceRef         string
	CurrentPeriodEnd *time.Time
}
