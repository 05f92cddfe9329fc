package ratelimiter

import (
	"context"
	"time"
)

// Config is the token bucket shape shared by every key.
type Config struct {
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"60"`        // burst size
	RefillRate     int           `env:"RATE_LIMIT_REFILL_RATE" envDefault:"1"`      // tokens per interval
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"` // refill period
}

// Store persists bucket state. ConsumeTokens refills and takes tokens
// atomically; a negative remaining count means the request is denied.
// Taking zero tokens only refreshes the bucket.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// Result is the outcome of one limiter call.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // negative once the caller is over the limit
	ResetAt   time.Time // next refill
}

// Allowed reports whether the call fit in the bucket.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter is the wait until the next refill, or zero when allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(time.Until(r.ResetAt), 0)
}
