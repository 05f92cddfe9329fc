package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/usagegate/pkg/logger"
)

// DenyReason explains why the gate refused a request.
type DenyReason string

const (
	ReasonSubscriptionInactive   DenyReason = "subscription inactive"
	ReasonQuotaExceeded          DenyReason = "quota exceeded"
	ReasonEntitlementUnavailable DenyReason = "entitlement unavailable"
)

// FailurePolicy decides what the gate does when the store is unreachable.
type FailurePolicy string

const (
	// FailOpen allows the request, favouring availability.
	FailOpen FailurePolicy = "open"
	// FailClosed denies the request, favouring strict quota enforcement.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy converts a config string to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FailOpen, "":
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	}
	return "", fmt.Errorf("%w: unknown gate failure policy %q", ErrInvalidInput, s)
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed    bool
	Reason     DenyReason // empty when allowed
	Usage      *Usage     // counters after consumption; nil for anonymous or failed-open calls
	FailedOpen bool       // allowed only because the store failed
}

// GateObserver receives every decision, e.g. for metrics.
type GateObserver interface {
	ObserveDecision(feature Feature, d Decision)
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithFailurePolicy sets the behaviour on infrastructure errors.
func WithFailurePolicy(p FailurePolicy) GateOption {
	return func(g *Gate) {
		if p != "" {
			g.failurePolicy = p
		}
	}
}

// WithPolicy overrides the default quota table.
func WithPolicy(p Policy) GateOption {
	return func(g *Gate) {
		if p.limits != nil {
			g.policy = p
		}
	}
}

// WithGateLogger sets the logger used for failed-open decisions.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithGateObserver registers a decision observer.
func WithGateObserver(o GateObserver) GateOption {
	return func(g *Gate) {
		if o != nil {
			g.observer = o
		}
	}
}

// Gate decides whether a user may invoke a metered feature and consumes one
// unit of quota when it allows.
type Gate struct {
	store         Store
	policy        Policy
	failurePolicy FailurePolicy
	log           *slog.Logger
	observer      GateObserver
}

// NewGate creates a Gate. Defaults: DefaultPolicy and FailOpen.
func NewGate(store Store, opts ...GateOption) *Gate {
	if store == nil {
		panic("subscription: Store is required")
	}
	g := &Gate{
		store:         store,
		policy:        DefaultPolicy(),
		failurePolicy: FailOpen,
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAndConsume runs before the feature's expensive work.
// Anonymous callers (empty userID) are never metered. A paid plan in any
// status other than active is denied, free users are denied at their quota,
// everyone else is allowed and their counter is incremented exactly once.
// Only an unknown feature for an identified caller yields an error.
func (g *Gate) CheckAndConsume(ctx context.Context, userID string, feature Feature) (Decision, error) {
	if userID == "" {
		return g.decide(feature, Decision{Allowed: true}), nil
	}
	if !feature.Valid() {
		return Decision{}, errors.Join(ErrInvalidInput, ErrInvalidFeature)
	}

	rec, err := g.store.CreateDefault(ctx, userID)
	if err != nil {
		return g.decide(feature, g.onFailure(ctx, userID, feature, err)), nil
	}

	if rec.EntitlementSuspended() {
		return g.decide(feature, Decision{Reason: ReasonSubscriptionInactive}), nil
	}

	limit := g.policy.Limit(rec.PlanType, feature)
	usage, err := g.store.IncrementUsage(ctx, userID, feature, limit)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return g.decide(feature, Decision{Reason: ReasonQuotaExceeded}), nil
	case err != nil:
		return g.decide(feature, g.onFailure(ctx, userID, feature, err)), nil
	}

	return g.decide(feature, Decision{Allowed: true, Usage: &usage}), nil
}

func (g *Gate) onFailure(ctx context.Context, userID string, feature Feature, err error) Decision {
	g.log.WarnContext(ctx, "entitlement check failed",
		logger.UserID(userID),
		logger.Feature(string(feature)),
		slog.String("failure_policy", string(g.failurePolicy)),
		logger.Error(err),
		logger.Component("entitlement_gate"),
	)
	if g.failurePolicy == FailClosed {
		return Decision{Reason: ReasonEntitlementUnavailable}
	}
	return Decision{Allowed: true, FailedOpen: true}
}

func (g *Gate) decide(feature Feature, d Decision) Decision {
	if g.observer != nil {
		g.observer.ObserveDecision(feature, d)
	}
	return d
}
