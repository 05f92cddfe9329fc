package subscription

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns an in-process Store.
// All mutations are serialized by one mutex, so increments for the same user
// never lose updates. Suitable for tests and single-instance development.
func NewMemoryStore() Store {
	return &memoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (s *memoryStore) Find(_ context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *memoryStore) CreateDefault(_ context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getOrCreate(userID).Clone(), nil
}

func (s *memoryStore) Save(_ context.Context, record *Record) error {
	if record == nil || record.UserID == "" {
		return ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	record.UpdatedAt = now

	existing, ok := s.records[record.UserID]
	if !ok {
		stored := record.Clone()
		stored.Usage = Usage{}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		s.records[record.UserID] = stored
		return nil
	}

	usage := existing.Usage
	createdAt := existing.CreatedAt
	stored := record.Clone()
	stored.Usage = usage
	stored.CreatedAt = createdAt
	s.records[record.UserID] = stored

	record.Usage = usage
	record.CreatedAt = createdAt
	return nil
}

func (s *memoryStore) FindByBillingSubscriptionRef(_ context.Context, ref string) (*Record, error) {
	if ref == "" {
		return nil, ErrRecordNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.BillingSubscriptionRef == ref {
			return rec.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *memoryStore) IncrementUsage(_ context.Context, userID string, feature Feature, limit int64) (Usage, error) {
	if userID == "" {
		return Usage{}, ErrInvalidUserID
	}
	if !feature.Valid() {
		return Usage{}, ErrInvalidFeature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreate(userID)
	if limit != Unlimited && rec.Usage.Get(feature) >= limit {
		return rec.Usage, ErrQuotaExceeded
	}

	switch feature {
	case FeatureDetection:
		rec.Usage.Detections++
	case FeatureHumanization:
		rec.Usage.Humanizations++
	}
	rec.UpdatedAt = s.now().UTC()

	return rec.Usage, nil
}

func (s *memoryStore) ResetAllUsage(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, rec := range s.records {
		rec.Usage = Usage{}
		rec.UpdatedAt = now
	}
	return int64(len(s.records)), nil
}

// getOrCreate must be called with s.mu held.
func (s *memoryStore) getOrCreate(userID string) *Record {
	rec, ok := s.records[userID]
	if !ok {
		rec = NewDefaultRecord(userID, s.now())
		s.records[userID] = rec
	}
	return rec
}
