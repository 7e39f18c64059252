package baseline

import (
	"context"
	"slices"
	"sync"

	"trustcore/internal/risk"
)

// maxKnown caps how many IPs or devices are remembered per subject; the
// oldest entries are dropped first.
const maxKnown = 32

// InMemoryStore keeps baselines in process memory. Use Seed to pre-load
// history at startup.
type InMemoryStore struct {
	mu        sync.RWMutex
	baselines map[string]*risk.Baseline
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{baselines: make(map[string]*risk.Baseline)}
}

func (s *InMemoryStore) Seed(subjectID string, b risk.Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[subjectID] = clone(&b)
}

func (s *InMemoryStore) Get(_ context.Context, subjectID string) (*risk.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[subjectID]
	if !ok {
		return nil, nil
	}
	return clone(b), nil
}

func (s *InMemoryStore) Observe(_ context.Context, subjectID string, obs risk.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[subjectID]
	if !ok {
		b = &risk.Baseline{}
		s.baselines[subjectID] = b
	}
	b.KnownIPs = remember(b.KnownIPs, obs.IP)
	b.KnownDevices = remember(b.KnownDevices, obs.DeviceFingerprint)
	if obs.Hour >= 0 && obs.Hour < 24 && !slices.Contains(b.UsualHours, obs.Hour) {
		b.UsualHours = append(b.UsualHours, obs.Hour)
		slices.Sort(b.UsualHours)
	}
	return nil
}

func remember(known []string, v string) []string {
	if v == "" {
		return known
	}
	if i := slices.Index(known, v); i >= 0 {
		known = slices.Delete(known, i, i+1)
	}
	known = append(known, v)
	if len(known) > maxKnown {
		known = known[len(known)-maxKnown:]
	}
	return known
}

func clone(b *risk.Baseline) *risk.Baseline {
	return &risk.Baseline{
		KnownIPs:     slices.Clone(b.KnownIPs),
		KnownDevices: slices.Clone(b.KnownDevices),
		UsualHours:   slices.Clone(b.UsualHours),
	}
}
