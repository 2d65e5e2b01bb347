package ratelimit

import (
	"context"
	"sync"
	"time"

	"ProjectForge/internal/domain/ratelimit"
)

// MemoryStore keeps records in process memory. Counters are not shared
// between instances, so it only suits a single instance or tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]ratelimit.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ratelimit.Record)}
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.records {
		if rec.ExpiresAt.Before(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindByKey(_ context.Context, key string) (*ratelimit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec ratelimit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Key] = rec
	return nil
}

func (s *MemoryStore) IncrementCount(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	rec.Count++
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) IncrementCountBelow(_ context.Context, key string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Count >= limit {
		return false, nil
	}
	rec.Count++
	s.records[key] = rec
	return true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
