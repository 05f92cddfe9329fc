package subscription

import "context"

type decisionCtxKey struct{}

// SetDecisionToContext stores the gate decision for downstream handlers.
func SetDecisionToContext(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionCtxKey{}, d)
}

// GetDecisionFromContext returns the gate decision stored by Gate.Middleware.
func GetDecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionCtxKey{}).(Decision)
	return d, ok
}
