package subscription

import (
	"net/http"

	"github.com/dmitrymomot/usagegate/core"
)

// UserIDFunc extracts the caller's user ID from a request.
// An empty result means the caller is anonymous.
type UserIDFunc func(r *http.Request) string

// HeaderUserID reads the user ID from the given request header.
func HeaderUserID(header string) UserIDFunc {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// denyResponse extends core.ErrorBody with the gate's deny reason.
type denyResponse struct {
	core.ErrorBody
	Reason DenyReason `json:"reason"`
}

// Middleware gates next behind CheckAndConsume for feature.
// Denied requests get a 403 error envelope carrying the deny reason; allowed
// requests carry the decision in their context.
func (g *Gate) Middleware(feature Feature, userID UserIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := g.CheckAndConsume(r.Context(), userID(r), feature)
			if err != nil {
				core.Render(w, r, core.JSONError(core.ErrBadRequest.WithMessage(err.Error())))
				return
			}
			if !decision.Allowed {
				core.Render(w, r, core.JSONStatus(http.StatusForbidden, denyResponse{
					ErrorBody: core.ErrorBody{Error: "feature not available", Code: core.ErrForbidden.Key},
					Reason:    decision.Reason,
				}))
				return
			}

			next.ServeHTTP(w, r.WithContext(SetDecisionToContext(r.Context(), decision)))
		})
	}
}
