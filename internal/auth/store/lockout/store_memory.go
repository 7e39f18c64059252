package lockout

import (
	"context"
	"sync"
	"time"

	"trustcore/pkg/requestcontext"
)

type counter struct {
	count     int
	expiresAt time.Time
}

// InMemoryStore is the single-instance lockout store. Expiry is judged
// against the request time.
type InMemoryStore struct {
	mu       sync.Mutex
	failures map[string]counter
	locks    map[string]time.Time
}

func New() *InMemoryStore {
	return &InMemoryStore{
		failures: make(map[string]counter),
		locks:    make(map[string]time.Time),
	}
}

func (s *InMemoryStore) RecordFailure(ctx context.Context, subjectID string, window time.Duration) (int, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.failures[subjectID]
	if !ok || !now.Before(c.expiresAt) {
		c = counter{expiresAt: now.Add(window)}
	}
	c.count++
	s.failures[subjectID] = c
	return c.count, nil
}

func (s *InMemoryStore) Lock(ctx context.Context, subjectID string, cooldown time.Duration) error {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[subjectID] = now.Add(cooldown)
	delete(s.failures, subjectID)
	return nil
}

func (s *InMemoryStore) LockedFor(ctx context.Context, subjectID string) (time.Duration, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.locks[subjectID]
	if !ok {
		return 0, nil
	}
	if !now.Before(until) {
		delete(s.locks, subjectID)
		return 0, nil
	}
	return until.Sub(now), nil
}

func (s *InMemoryStore) Clear(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, subjectID)
	return nil
}
