package subscription

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidUserID   = errors.New("user ID is required")
	ErrInvalidFeature  = errors.New("invalid feature type")
	ErrInvalidPlanType = errors.New("invalid plan type")
	ErrUnauthorized    = errors.New("unauthorized")

	ErrRecordNotFound  = errors.New("subscription record not found")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUpstreamFailure = errors.New("upstream failure")

	ErrFailedToLoadPolicy       = errors.New("failed to load quota policy")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")

	// Provider-specific errors
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload      = errors.New("invalid webhook payload")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL                = errors.New("no portal URL returned from provider")
	ErrMissingProviderCustomerID  = errors.New("provider customer ID not available")
	ErrMissingPriceID             = errors.New("price ID is required")
	ErrMissingSubscriptionRef     = errors.New("billing subscription reference is required")
	ErrProviderNotConfigured      = errors.New("billing provider not configured")
)
