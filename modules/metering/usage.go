package metering

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/usagegate/core"
	"github.com/dmitrymomot/usagegate/pkg/logger"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

type subscriptionResponse struct {
	PlanType         subscription.PlanType `json:"planType"`
	Status           subscription.Status   `json:"status"`
	UsageThisMonth   subscription.Usage    `json:"usageThisMonth"`
	CurrentPeriodEnd *time.Time            `json:"currentPeriodEnd,omitempty"`
}

type updateUsageRequest struct {
	UserID string               `json:"userId"`
	Type   subscription.Feature `json:"type"`
}

type resetUsageRequest struct {
	APIKey string `json:"apiKey"`
}

type resetUsageResponse struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// getSubscription returns the stored record or the free-tier default.
func (m *Module) getSubscription(w http.ResponseWriter, r *http.Request) {
	rec, err := m.opts.Meter.CurrentUsage(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		m.fail(w, r, "get subscription failed", err)
		return
	}

	core.Render(w, r, core.JSON(subscriptionResponse{
		PlanType:         rec.PlanType,
		Status:           rec.Status,
		UsageThisMonth:   rec.Usage,
		CurrentPeriodEnd: rec.CurrentPeriodEnd,
	}))
}

func (m *Module) updateUsage(w http.ResponseWriter, r *http.Request) {
	var req updateUsageRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "update usage: bad body", err)
		return
	}

	usage, err := m.opts.Meter.RecordUsage(r.Context(), req.UserID, req.Type)
	if err != nil {
		m.fail(w, r, "update usage failed", err)
		return
	}

	m.log.DebugContext(r.Context(), "usage recorded",
		logger.UserID(req.UserID),
		logger.Feature(string(req.Type)),
	)
	core.Render(w, r, core.JSON(usage))
}

func (m *Module) resetUsage(w http.ResponseWriter, r *http.Request) {
	var req resetUsageRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "reset usage: bad body", err)
		return
	}

	n, err := m.opts.Resetter.Reset(r.Context(), req.APIKey)
	if m.opts.Metrics != nil && !errors.Is(err, subscription.ErrUnauthorized) {
		m.opts.Metrics.ObserveReset("api", n, err)
	}
	if err != nil {
		if errors.Is(err, subscription.ErrUnauthorized) {
			m.log.WarnContext(r.Context(), "usage reset rejected")
		}
		m.fail(w, r, "reset usage failed", err)
		return
	}

	core.Render(w, r, core.JSON(resetUsageResponse{Message: "usage reset", Count: n}))
}
