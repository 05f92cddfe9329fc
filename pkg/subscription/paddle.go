package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	BaseURL       string `env:"PADDLE_BASE_URL"`
}

// PaddleProvider implements BillingProvider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var opts []paddle.Option
	if config.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(config.BaseURL))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(config.APIKey, opts...)
	default:
		return nil, errors.Join(ErrInvalidProviderEnvironment, fmt.Errorf("environment %q", config.Environment))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

// SignatureHeader implements BillingProvider.
func (p *PaddleProvider) SignatureHeader() string {
	return "Paddle-Signature"
}

// RetrieveSubscription fetches the live subscription from Paddle.
func (p *PaddleProvider) RetrieveSubscription(ctx context.Context, ref string) (*ProviderSubscription, error) {
	if ref == "" {
		return nil, ErrMissingSubscriptionRef
	}

	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: ref,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve paddle subscription: %w", err)
	}

	result := &ProviderSubscription{
		Ref:         sub.ID,
		CustomerRef: sub.CustomerID,
		Status:      ParseStatus(string(sub.Status)),
	}
	if sub.CurrentBillingPeriod != nil {
		result.CurrentPeriodEnd = parseRFC3339(sub.CurrentBillingPeriod.EndsAt)
	}
	if len(sub.Items) > 0 {
		result.PriceRef = sub.Items[0].Price.ID
	}
	return result, nil
}

// CreateCheckoutLink creates a hosted checkout transaction in Paddle.
func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.UserID == "" {
		return nil, ErrInvalidUserID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			MetadataUserID: req.UserID,
		},
	}
	if req.PlanType != "" {
		transactionReq.CustomData[MetadataPlanType] = string(req.PlanType)
	}
	if req.CustomerRef != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerRef)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetCustomerPortalLink returns a link to Paddle's customer portal.
func (p *PaddleProvider) GetCustomerPortalLink(ctx context.Context, record *Record, _ string) (*PortalLink, error) {
	if record == nil || record.BillingCustomerRef == "" {
		return nil, ErrMissingProviderCustomerID
	}

	req := &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: record.BillingCustomerRef,
	}
	if record.BillingSubscriptionRef != "" {
		req.SubscriptionIDs = []string{record.BillingSubscriptionRef}
	}

	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalLink{
		URL:       session.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*BillingEvent, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, errors.Join(ErrWebhookVerificationFailed, errors.New("missing signature"))
	}

	// The SDK verifier works on requests, so wrap the payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var envelope paddleEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	event := &BillingEvent{
		ID:            envelope.EventID,
		Kind:          EventIgnored,
		ProviderEvent: envelope.EventType,
	}
	if t := parseRFC3339(envelope.OccurredAt); t != nil {
		event.OccurredAt = *t
	}

	switch envelope.EventType {
	case "subscription.created":
		event.Kind = EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.past_due",
		"subscription.paused", "subscription.resumed", "subscription.trialing":
		event.Kind = EventSubscriptionUpdated
	case "subscription.canceled":
		event.Kind = EventSubscriptionCanceled
	default:
		return event, nil
	}

	var sub paddleSubscription
	if err := json.Unmarshal(envelope.Data, &sub); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("decode subscription: %w", err))
	}

	event.SubscriptionRef = sub.ID
	event.CustomerRef = sub.CustomerID
	event.Status = ParseStatus(sub.Status)
	if len(sub.Items) > 0 {
		event.PriceRef = sub.Items[0].Price.ID
	}
	if sub.CurrentBillingPeriod != nil {
		event.CurrentPeriodEnd = parseRFC3339(sub.CurrentBillingPeriod.EndsAt)
	}
	if v, ok := sub.CustomData[MetadataUserID].(string); ok {
		event.UserID = v
	}
	if v, ok := sub.CustomData[MetadataPlanType].(string); ok {
		event.PlanType = PlanType(v)
	}

	return event, nil
}

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *struct {
		EndsAt string `json:"ends_at"`
	} `json:"current_billing_period"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func parseRFC3339(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
