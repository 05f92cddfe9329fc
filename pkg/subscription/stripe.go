package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys written at checkout and read back from webhooks.
const (
	MetadataUserID   = "user_id"
	MetadataPlanType = "plan_type"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithStripeBackend overrides the Stripe API backend (tests, proxies).
func WithStripeBackend(b stripe.Backend) StripeOption {
	return func(p *StripeProvider) {
		if b != nil {
			p.backend = b
		}
	}
}

// StripeProvider implements BillingProvider for Stripe.
type StripeProvider struct {
	backend       stripe.Backend
	apiKey        string
	webhookSecret string
}

// NewStripeProvider creates a Stripe billing provider.
// The API key is kept on the provider rather than in the global stripe.Key.
func NewStripeProvider(config StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(config.WebhookSecret) == "" {
		return nil, ErrMissingWebhookSecret
	}

	p := &StripeProvider{
		backend:       stripe.GetBackend(stripe.APIBackend),
		apiKey:        strings.TrimSpace(config.APIKey),
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SignatureHeader implements BillingProvider.
func (p *StripeProvider) SignatureHeader() string {
	return "Stripe-Signature"
}

// RetrieveSubscription fetches the live subscription from Stripe.
func (p *StripeProvider) RetrieveSubscription(ctx context.Context, ref string) (*ProviderSubscription, error) {
	if ref == "" {
		return nil, ErrMissingSubscriptionRef
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	client := stripesub.Client{B: p.backend, Key: p.apiKey}
	sub, err := client.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stripe subscription: %w", err)
	}

	result := &ProviderSubscription{
		Ref:    sub.ID,
		Status: ParseStatus(string(sub.Status)),
	}
	if sub.Customer != nil {
		result.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil && result.PriceRef == "" {
				result.PriceRef = item.Price.ID
			}
			if item.CurrentPeriodEnd > 0 && result.CurrentPeriodEnd == nil {
				result.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
		}
	}
	return result, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*BillingEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, errors.Join(ErrWebhookVerificationFailed, errors.New("missing signature"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	result := &BillingEvent{
		ID:            event.ID,
		Kind:          EventIgnored,
		ProviderEvent: string(event.Type),
		OccurredAt:    time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return result, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("decode checkout.session: %w", err))
		}
		if sess.Mode != "subscription" || sess.Subscription == "" {
			return result, nil
		}
		result.Kind = EventSubscriptionCreated
		result.SubscriptionRef = sess.Subscription
		result.CustomerRef = sess.Customer
		result.UserID = sess.ClientReferenceID
		if result.UserID == "" {
			result.UserID = sess.Metadata[MetadataUserID]
		}
		result.PlanType = PlanType(sess.Metadata[MetadataPlanType])

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("decode subscription: %w", err))
		}
		result.SubscriptionRef = sub.ID
		result.CustomerRef = sub.Customer
		result.Status = ParseStatus(sub.Status)
		result.PriceRef = sub.firstPriceID()
		result.CurrentPeriodEnd = sub.periodEnd()

		switch event.Type {
		case "customer.subscription.created":
			result.Kind = EventSubscriptionCreated
			result.UserID = sub.Metadata[MetadataUserID]
			result.PlanType = PlanType(sub.Metadata[MetadataPlanType])
		case "customer.subscription.updated":
			result.Kind = EventSubscriptionUpdated
		default:
			result.Kind = EventSubscriptionCanceled
		}
	}

	return result, nil
}

// CreateCheckoutLink creates a hosted Stripe Checkout session in subscription mode.
func (p *StripeProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.UserID == "" {
		return nil, ErrInvalidUserID
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: req.UserID},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserID, req.UserID)
	if req.PlanType != "" {
		params.SubscriptionData.Metadata[MetadataPlanType] = string(req.PlanType)
		params.AddMetadata(MetadataPlanType, string(req.PlanType))
	}
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	client := checkoutsession.Client{B: p.backend, Key: p.apiKey}
	sess, err := client.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	link := &CheckoutLink{URL: sess.URL, SessionID: sess.ID}
	if sess.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return link, nil
}

// GetCustomerPortalLink creates a Stripe billing portal session for the record's customer.
func (p *StripeProvider) GetCustomerPortalLink(ctx context.Context, record *Record, returnURL string) (*PortalLink, error) {
	if record == nil || record.BillingCustomerRef == "" {
		return nil, ErrMissingProviderCustomerID
	}

	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(record.BillingCustomerRef),
	}
	params.Context = ctx
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	client := portalsession.Client{B: p.backend, Key: p.apiKey}
	sess, err := client.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe portal session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalLink{URL: sess.URL, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

// stripeCheckoutSession is a minimal representation of a checkout.session payload.
type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// stripeSubscription is a minimal representation of a subscription payload.
// Period end lives on items in recent API versions and on the subscription in older ones.
type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscription) firstPriceID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

func (s *stripeSubscription) periodEnd() *time.Time {
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			return unixTime(item.CurrentPeriodEnd)
		}
	}
	if s.CurrentPeriodEnd > 0 {
		return unixTime(s.CurrentPeriodEnd)
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}
