// Package ratelimiter provides token bucket rate limiting with memory and
// Redis storage plus an HTTP middleware.
//
// A bucket holds up to Config.Capacity tokens and gains RefillRate tokens
// every RefillInterval. Each request consumes tokens; a negative remainder
// means the request is denied.
//
//	store := ratelimiter.NewRedisStore(redisClient)
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       60,
//		RefillRate:     1,
//		RefillInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	r.Use(ratelimiter.Middleware(limiter, ratelimiter.HeaderKey("X-User-ID")))
//
// MemoryStore is process-local and drops buckets idle for an hour.
// RedisStore runs the refill and the consume as a single Lua script, so
// replicas sharing a Redis instance share limits.
//
// The middleware sets X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every limited request and Retry-After on denials.
// Use WithErrorResponder to change the denial and failure bodies.
package ratelimiter
