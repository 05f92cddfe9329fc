package ratelimiter

import "errors"

var (
	ErrInvalidConfig     = errors.New("ratelimiter: invalid configuration")
	ErrInvalidTokenCount = errors.New("ratelimiter: invalid token count")
	// ErrStoreUnavailable wraps every backend failure so callers can pick
	// a fail-open or fail-closed response.
	ErrStoreUnavailable = errors.New("ratelimiter: store unavailable")
)
