package metering

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrymomot/usagegate/core"
	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

type checkoutRequest struct {
	UserID   string                `json:"userId"`
	PlanType subscription.PlanType `json:"planType"`
	Email    string                `json:"email,omitempty"`
}

type checkoutResponse struct {
	URL       string    `json:"url"`
	SessionID string    `json:"sessionId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type portalRequest struct {
	UserID string `json:"userId"`
}

type portalResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// webhook verifies and applies a billing provider event. Infrastructure
// failures return 500 so the provider retries; replays are harmless.
func (m *Module) webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		if m.opts.Metrics != nil {
			m.opts.Metrics.ObserveWebhook(status, time.Since(start).Seconds())
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, m.opts.Config.MaxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = httpError(err).Code
		m.fail(w, r, "webhook: read body failed", err)
		return
	}

	signature := r.Header.Get(m.opts.Provider.SignatureHeader())
	if err := m.opts.Reconciler.HandleWebhook(r.Context(), payload, signature); err != nil {
		status = httpError(err).Code
		if errors.Is(err, subscription.ErrWebhookVerificationFailed) {
			m.log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
			core.Render(w, r, core.JSONError(httpError(err)))
			return
		}
		m.fail(w, r, "webhook processing failed", err)
		return
	}

	core.Render(w, r, core.JSON(map[string]bool{"received": true}))
}

func (m *Module) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "checkout: bad body", err)
		return
	}
	if !req.PlanType.IsPaid() {
		m.fail(w, r, "checkout: bad plan", errors.Join(subscription.ErrInvalidInput, subscription.ErrInvalidPlanType))
		return
	}

	// Reuses the provider customer of a returning subscriber.
	rec, err := m.opts.Meter.CurrentUsage(r.Context(), req.UserID)
	if err != nil {
		m.fail(w, r, "checkout: load record failed", err)
		return
	}

	priceID, ok := m.opts.Prices.PriceFor(req.PlanType)
	if !ok {
		m.fail(w, r, "checkout: no price configured",
			fmt.Errorf("%w: %s", subscription.ErrMissingPriceID, req.PlanType))
		return
	}

	link, err := m.opts.Provider.CreateCheckoutLink(r.Context(), subscription.CheckoutRequest{
		PriceID:     priceID,
		UserID:      req.UserID,
		PlanType:    req.PlanType,
		CustomerRef: rec.BillingCustomerRef,
		Email:       req.Email,
		SuccessURL:  m.opts.Config.CheckoutSuccessURL,
		CancelURL:   m.opts.Config.CheckoutCancelURL,
	})
	if err != nil {
		m.fail(w, r, "checkout: provider failed", err)
		return
	}

	m.log.InfoContext(r.Context(), "checkout created",
		logger.UserID(req.UserID),
		logger.PlanType(string(req.PlanType)),
	)
	core.Render(w, r, core.JSON(checkoutResponse{URL: link.URL, SessionID: link.SessionID, ExpiresAt: link.ExpiresAt}))
}

func (m *Module) portal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "portal: bad body", err)
		return
	}

	rec, err := m.opts.Meter.CurrentUsage(r.Context(), req.UserID)
	if err != nil {
		m.fail(w, r, "portal: load record failed", err)
		return
	}

	link, err := m.opts.Provider.GetCustomerPortalLink(r.Context(), rec, m.opts.Config.PortalReturnURL)
	if err != nil {
		m.fail(w, r, "portal: provider failed", err)
		return
	}
	core.Render(w, r, core.JSON(portalResponse{URL: link.URL, ExpiresAt: link.ExpiresAt}))
}
