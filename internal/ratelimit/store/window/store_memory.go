package window

import (
	"context"
	"sync"
	"time"

	"trustcore/internal/ratelimit/models"
)

// InMemoryStore implements WindowStore with a mutex-guarded map. Counters
// are local to the process, so it only serves single-instance deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*entry
}

type entry struct {
	models.Window
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[string]*entry),
	}
}

func (s *InMemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (*models.HitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.windows[key]
	if e == nil || e.Expired(now, window) {
		e = &entry{Window: models.Window{Start: now}}
		s.windows[key] = e
	}
	e.expiresAt = e.Start.Add(window)

	allowed := e.Count < limit
	if allowed {
		e.Count++
	}
	return &models.HitResult{Allowed: allowed, Count: e.Count, Start: e.Start}, nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops windows that ended before now. Returns the number removed.
func (s *InMemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.windows {
		if !now.Before(e.expiresAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *InMemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
