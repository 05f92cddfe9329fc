package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMaxKeys = 100_000
	defaultIdleTTL = time.Hour
)

type bucketState struct {
	tokens     int
	lastRefill time.Time
}

// MemoryStore keeps buckets in a bounded in-process LRU. Buckets idle for
// longer than the TTL are evicted and start full on their next use, as
// do the least recently used buckets once the key limit is reached.
type MemoryStore struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucketState]
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	maxKeys int
	idleTTL time.Duration
}

// WithMaxKeys caps the number of tracked callers.
func WithMaxKeys(n int) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		if n > 0 {
			c.maxKeys = n
		}
	}
}

// WithIdleTTL sets how long an untouched bucket is kept.
func WithIdleTTL(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		if d > 0 {
			c.idleTTL = d
		}
	}
}

// NewMemoryStore creates an in-memory store for a single process.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := memoryStoreConfig{maxKeys: defaultMaxKeys, idleTTL: defaultIdleTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryStore{
		buckets: expirable.NewLRU[string, *bucketState](cfg.maxKeys, nil, cfg.idleTTL),
	}
}

// ConsumeTokens refills the bucket for the intervals elapsed since the last
// refill, then takes tokens. Denied requests still take their tokens, so
// callers that keep hammering stay blocked until they back off.
func (ms *MemoryStore) ConsumeTokens(_ context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	b, ok := ms.buckets.Get(key)
	if !ok {
		b = &bucketState{tokens: config.Capacity, lastRefill: now}
	}

	// Capped so that long idle periods cannot overflow the multiplication.
	maxIntervals := int64(config.Capacity/config.RefillRate + 1)
	if n := int(min(int64(now.Sub(b.lastRefill)/config.RefillInterval), maxIntervals)); n > 0 {
		b.tokens = min(b.tokens+n*config.RefillRate, config.Capacity)
		b.lastRefill = now
	}

	b.tokens -= tokens
	// Add refreshes the idle TTL.
	ms.buckets.Add(key, b)

	return b.tokens, b.lastRefill.Add(config.RefillInterval), nil
}

// Reset forgets the bucket for key.
func (ms *MemoryStore) Reset(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.buckets.Remove(key)
	return nil
}

// Len returns the number of tracked buckets.
func (ms *MemoryStore) Len() int {
	return ms.buckets.Len()
}
