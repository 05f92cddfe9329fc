package ratelimiter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/ratelimiter"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*ratelimiter.Result, error) {
	return nil, errors.New("store down")
}

func (failingLimiter) AllowN(context.Context, string, int) (*ratelimiter.Result, error) {
	return nil, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	config := ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour}

	t.Run("limits per key and sets headers", func(t *testing.T) {
		t.Parallel()
		limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), config)
		require.NoError(t, err)
		handler := ratelimiter.Middleware(limiter, ratelimiter.HeaderKey("X-User-ID"))(okHandler())

		do := func(user string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/detect", nil)
			req.Header.Set("X-User-ID", user)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		rec := do("u1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

		assert.Equal(t, http.StatusOK, do("u1").Code)

		rec = do("u1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		assert.Equal(t, http.StatusOK, do("u2").Code)
	})

	t.Run("empty key bypasses limiting", func(t *testing.T) {
		t.Parallel()
		handler := ratelimiter.Middleware(failingLimiter{}, ratelimiter.HeaderKey("X-User-ID"))(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("store failure uses the responder", func(t *testing.T) {
		t.Parallel()
		var got error
		handler := ratelimiter.Middleware(failingLimiter{}, ratelimiter.HeaderKey("X-User-ID"),
			ratelimiter.WithErrorResponder(func(w http.ResponseWriter, r *http.Request, result *ratelimiter.Result, err error) {
				got = err
				w.WriteHeader(http.StatusServiceUnavailable)
			}),
		)(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Error(t, got)
	})
}

func TestComposite(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Long", strings.Repeat("x", 80))

	assert.Equal(t, "u1", ratelimiter.Composite(ratelimiter.HeaderKey("X-User-ID"), ratelimiter.HeaderKey("X-Missing"))(req))
	assert.Equal(t, "", ratelimiter.Composite(ratelimiter.HeaderKey("X-Missing"))(req))

	hashed := ratelimiter.Composite(ratelimiter.HeaderKey("X-User-ID"), ratelimiter.HeaderKey("X-Long"))(req)
	assert.NotEmpty(t, hashed)
	assert.LessOrEqual(t, len(hashed), 64)
}
