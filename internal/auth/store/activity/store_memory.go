package activity

import (
	"context"
	"sync"
	"time"

	"trustcore/pkg/requestcontext"
)

type InMemoryStore struct {
	mu     sync.Mutex
	active map[string]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{active: make(map[string]time.Time)}
}

func (s *InMemoryStore) MarkActive(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.active[jti]; !ok || !now.Before(until) {
		s.active[jti] = now.Add(ttl)
	}
	return nil
}

func (s *InMemoryStore) IsActive(ctx context.Context, jti string) (bool, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.active[jti]
	if ok && !now.Before(until) {
		delete(s.active, jti)
		return false, nil
	}
	return ok, nil
}
