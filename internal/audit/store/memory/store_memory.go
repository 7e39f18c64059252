package memory

import (
	"context"
	"fmt"
	"sync"

	"trustcore/internal/audit"
	"trustcore/pkg/platform/sentinel"
)

// InMemoryStore keeps the chain in a slice indexed by sequence number.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append accepts only the next sequence number. Re-appending an identical
// event is a no-op so retried writes stay idempotent.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := uint64(len(s.events))
	if event.SequenceNumber < next && s.events[event.SequenceNumber].ChainHash == event.ChainHash {
		return nil
	}
	if event.SequenceNumber != next {
		return fmt.Errorf("append sequence %d, expected %d: %w", event.SequenceNumber, next, sentinel.ErrConflict)
	}
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) Last(_ context.Context) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, sentinel.ErrNotFound
	}
	last := s.events[len(s.events)-1]
	return &last, nil
}

func (s *InMemoryStore) Range(_ context.Context, from, to uint64) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := uint64(len(s.events))
	if to == 0 || to > n {
		to = n
	}
	if from >= to {
		return nil, nil
	}
	return append([]audit.Event{}, s.events[from:to]...), nil
}

func (s *InMemoryStore) ByCorrelation(_ context.Context, correlationID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns a copy of every stored event.
func (s *InMemoryStore) All() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}
