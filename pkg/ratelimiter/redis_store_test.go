package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/usagegate/pkg/ratelimiter"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisStore_ConsumeTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	config := ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Hour}

	t.Run("spends down the bucket", func(t *testing.T) {
		t.Parallel()
		client, mr := newRedisClient(t)
		store := ratelimiter.NewRedisStore(client)

		remaining, resetAt, err := store.ConsumeTokens(ctx, "user_1", 2, config)
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
		assert.True(t, resetAt.After(time.Now()))

		remaining, _, err = store.ConsumeTokens(ctx, "user_1", 2, config)
		require.NoError(t, err)
		assert.Equal(t, -1, remaining)

		assert.True(t, mr.Exists("ratelimit:user_1"))
		assert.Positive(t, mr.TTL("ratelimit:user_1"))
	})

	t.Run("custom prefix and reset", func(t *testing.T) {
		t.Parallel()
		client, mr := newRedisClient(t)
		store := ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix("rl:"))

		_, _, err := store.ConsumeTokens(ctx, "k", 3, config)
		require.NoError(t, err)
		assert.True(t, mr.Exists("rl:k"))

		require.NoError(t, store.Reset(ctx, "k"))
		assert.False(t, mr.Exists("rl:k"))

		remaining, _, err := store.ConsumeTokens(ctx, "k", 1, config)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})

	t.Run("refills after the interval", func(t *testing.T) {
		t.Parallel()
		client, _ := newRedisClient(t)
		store := ratelimiter.NewRedisStore(client)
		fast := ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: 20 * time.Millisecond}

		remaining, _, err := store.ConsumeTokens(ctx, "k", 2, fast)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)

		time.Sleep(50 * time.Millisecond)

		remaining, _, err = store.ConsumeTokens(ctx, "k", 0, fast)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})

	t.Run("unavailable server", func(t *testing.T) {
		t.Parallel()
		client, mr := newRedisClient(t)
		store := ratelimiter.NewRedisStore(client)
		mr.Close()

		_, _, err := store.ConsumeTokens(ctx, "k", 1, config)
		assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
	})
}
