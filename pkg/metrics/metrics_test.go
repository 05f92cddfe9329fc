package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/metrics"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

var (
	_ subscription.GateObserver  = (*metrics.Metrics)(nil)
	_ subscription.EventObserver = (*metrics.Metrics)(nil)
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.ObserveDecision(subscription.FeatureDetection, subscription.Decision{Allowed: true})
	m.ObserveDecision(subscription.FeatureDetection, subscription.Decision{Allowed: false, Reason: subscription.ReasonQuotaExceeded})
	m.ObserveDecision(subscription.FeatureHumanization, subscription.Decision{Allowed: true, FailedOpen: true})
	m.ObserveEvent(subscription.EventSubscriptionCreated, subscription.OutcomeApplied)
	m.ObserveEvent(subscription.EventSubscriptionCreated, subscription.OutcomeApplied)
	m.ObserveReset("api", 5, nil)
	m.ObserveReset("schedule", 0, errors.New("boom"))

	count, err := testutil.GatherAndCount(m.Registry(), "usagegate_gate_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expected := `
# HELP usagegate_webhook_events_total Billing events by kind and outcome.
# TYPE usagegate_webhook_events_total counter
usagegate_webhook_events_total{kind="subscription_created",outcome="applied"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "usagegate_webhook_events_total"))

	expected = `
# HELP usagegate_usage_reset_records_total Subscription records whose counters were reset.
# TYPE usagegate_usage_reset_records_total counter
usagegate_usage_reset_records_total 5
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "usagegate_usage_reset_records_total"))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveWebhook(http.StatusOK, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "usagegate_webhook_duration_seconds")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
