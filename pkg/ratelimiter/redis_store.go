package ratelimiter

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes in one round trip. Bucket state is
// a hash of the token count and the last refill time in milliseconds.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local tokens = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refill')
local current = tonumber(state[1])
local refill = tonumber(state[2])
if current == nil or refill == nil then
	current = capacity
	refill = now
end

local intervals = math.floor((now - refill) / interval)
local cap_intervals = math.floor(capacity / rate) + 1
if intervals > cap_intervals then
	intervals = cap_intervals
end
if intervals > 0 then
	current = math.min(current + intervals * rate, capacity)
	refill = now
end

current = current - tokens
redis.call('HSET', KEYS[1], 'tokens', current, 'refill', refill)
redis.call('PEXPIRE', KEYS[1], ttl)
return {current, refill}
`)

// RedisStore keeps buckets in Redis so limits hold across replicas.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the prefix prepended to every bucket key.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) {
		rs.prefix = prefix
	}
}

// NewRedisStore creates a store backed by the given client.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	rs := &RedisStore{
		client: client,
		prefix: "ratelimit:",
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

func (rs *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error) {
	interval := config.RefillInterval.Milliseconds()
	if interval <= 0 {
		interval = 1
	}
	// Keep the key until a drained bucket would be full again.
	ttl := max(int64(config.Capacity/config.RefillRate+1)*interval, time.Second.Milliseconds())

	res, err := tokenBucketScript.Run(ctx, rs.client, []string{rs.prefix + key},
		config.Capacity, config.RefillRate, interval, tokens, time.Now().UnixMilli(), ttl,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, ErrStoreUnavailable
	}

	refill := time.UnixMilli(res[1])
	return int(res[0]), refill.Add(config.RefillInterval), nil
}

func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.prefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
