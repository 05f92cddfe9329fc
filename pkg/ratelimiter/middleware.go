package ratelimiter

import (
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
)

// maxKeyLength caps storage key size; longer composite keys are hashed.
const maxKeyLength = 64

// KeyFunc extracts a rate limit key from the request.
// An empty key skips limiting for that request.
type KeyFunc func(r *http.Request) string

// ErrorResponder writes the response for a denied request or a store failure.
// Exactly one of result (denied) and err (failure) is set.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, result *Result, err error)

// Composite combines multiple key functions into one.
// Long keys (>64 chars) are hashed using FNV-1a.
func Composite(keyFuncs ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(keyFuncs))
		for _, fn := range keyFuncs {
			if key := fn(r); key != "" {
				parts = append(parts, key)
			}
		}

		if len(parts) == 0 {
			return ""
		}
		if len(parts) == 1 && len(parts[0]) <= maxKeyLength {
			return parts[0]
		}

		combined := strings.Join(parts, ":")
		if len(combined) > maxKeyLength {
			h := fnv.New64a()
			h.Write([]byte(combined))
			return strconv.FormatUint(h.Sum64(), 36)
		}

		return combined
	}
}

// HeaderKey returns a KeyFunc reading the named request header.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}

type middlewareOptions struct {
	responder ErrorResponder
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithErrorResponder overrides the default plain-text 429/500 responses.
func WithErrorResponder(fn ErrorResponder) MiddlewareOption {
	return func(o *middlewareOptions) {
		if fn != nil {
			o.responder = fn
		}
	}
}

func defaultResponder(w http.ResponseWriter, r *http.Request, result *Result, err error) {
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

// Middleware creates an HTTP middleware for rate limiting.
func Middleware(limiter RateLimiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{responder: defaultResponder}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				o.responder(w, r, nil, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed() {
				if retryAfter := int(result.RetryAfter().Seconds()); retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
				o.responder(w, r, result, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
