package idempotency

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemorySize bounds the number of keys a MemoryStore keeps.
const DefaultMemorySize = 100_000

// MemoryStore is a process-local Store. When full, the least recently
// marked keys are dropped before their TTL.
type MemoryStore struct {
	cache *expirable.LRU[string, time.Time]
}

// NewMemoryStore creates a store holding at most size keys for ttl each.
// Non-positive arguments fall back to DefaultMemorySize and DefaultTTL.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	// Peek does not refresh recency; only Mark does.
	_, ok := s.cache.Peek(key)
	return ok, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := s.cache.Peek(key); ok {
		return nil
	}
	s.cache.Add(key, time.Now())
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
