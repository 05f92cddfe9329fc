// Package metrics exposes Prometheus counters for gate decisions, webhook
// events and usage resets.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/usagegate/pkg/subscription"
)

const namespace = "usagegate"

// Metrics implements subscription.GateObserver and subscription.EventObserver.
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions  *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	usageResets    *prometheus.CounterVec
	resetRecords   prometheus.Counter
	webhookLatency *prometheus.HistogramVec
}

// New registers all collectors, plus Go runtime and process collectors, on
// a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Entitlement gate decisions by feature, result and deny reason.",
		}, []string{"feature", "allowed", "reason"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Billing events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		webhookLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Webhook request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		usageResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "resets_total",
			Help:      "Usage reset runs by trigger and result.",
		}, []string{"trigger", "result"}),
		resetRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "reset_records_total",
			Help:      "Subscription records whose counters were reset.",
		}),
	}
}

func (m *Metrics) ObserveDecision(feature subscription.Feature, d subscription.Decision) {
	reason := string(d.Reason)
	if d.FailedOpen {
		reason = "failed_open"
	}
	m.gateDecisions.WithLabelValues(string(feature), strconv.FormatBool(d.Allowed), reason).Inc()
}

func (m *Metrics) ObserveEvent(kind subscription.EventKind, outcome string) {
	m.webhookEvents.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveWebhook records how long a webhook request took and its HTTP status.
func (m *Metrics) ObserveWebhook(status int, seconds float64) {
	m.webhookLatency.WithLabelValues(strconv.Itoa(status)).Observe(seconds)
}

// ObserveReset records one reset run. trigger is "api" or "schedule".
func (m *Metrics) ObserveReset(trigger string, affected int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.usageResets.WithLabelValues(trigger, result).Inc()
	if affected > 0 {
		m.resetRecords.Add(float64(affected))
	}
}

// Registry returns the underlying registry, e.g. for tests or extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
