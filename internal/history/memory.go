package history

import (
	"context"
	"sync"
)

// Compile-time interface checks.
var (
	_ OutcomeStore = (*MemoryStore)(nil)
	_ CheckSource  = (*MemoryStore)(nil)
)

// MemoryStore is the in-memory history backend: the default when the engine
// runs without Postgres, and the fixture store in tests.
//
// Thread-safe. Outcomes accumulate per (component, pattern); checks are
// configured up front per component.
type MemoryStore struct {
	mu sync.RWMutex

	// outcomes[key] counts hypothesized/confirmed per (component, pattern).
	outcomes map[outcomeKey]*outcomeStats
	// checks[componentID] lists the configured diagnostic checks.
	checks map[string][]Check
}

type outcomeKey struct {
	componentID string
	pattern     string
}

type outcomeStats struct {
	total     int
	confirmed int
	fixRefs   []string
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outcomes: make(map[outcomeKey]*outcomeStats),
		checks:   make(map[string][]Check),
	}
}

// RecordOutcome persists one outcome.
func (s *MemoryStore) RecordOutcome(_ context.Context, outcome Outcome) error {
	key := outcomeKey{componentID: outcome.ComponentID, pattern: outcome.Pattern}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.outcomes[key]
	if !ok {
		stats = &outcomeStats{}
		s.outcomes[key] = stats
	}

	stats.total++

	if outcome.Confirmed {
		stats.confirmed++

		if outcome.FixRef != "" {
			// most recent first
			stats.fixRefs = append([]string{outcome.FixRef}, stats.fixRefs...)
		}
	}

	return nil
}

// RootCauseRate returns confirmed/total for the component and pattern, or 0
// when nothing was ever recorded.
func (s *MemoryStore) RootCauseRate(_ context.Context, componentID, pattern string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.outcomes[outcomeKey{componentID: componentID, pattern: pattern}]
	if !ok || stats.total == 0 {
		return 0, nil
	}

	return float64(stats.confirmed) / float64(stats.total), nil
}

// FixRefs returns fix references from confirmed outcomes, most recent first.
func (s *MemoryStore) FixRefs(_ context.Context, componentID, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.outcomes[outcomeKey{componentID: componentID, pattern: pattern}]
	if !ok {
		return []string{}, nil
	}

	refs := make([]string, len(stats.fixRefs))
	copy(refs, stats.fixRefs)

	return refs, nil
}

// Checks returns the configured checks for a component. The pattern is
// ignored by the in-memory backend.
func (s *MemoryStore) Checks(_ context.Context, componentID, _ string) ([]Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configured, ok := s.checks[componentID]
	if !ok {
		return []Check{}, nil
	}

	checks := make([]Check, len(configured))
	copy(checks, configured)

	return checks, nil
}

// SetChecks replaces the configured checks for a component.
func (s *MemoryStore) SetChecks(componentID string, checks []Check) {
	copied := make([]Check, len(checks))
	copy(copied, checks)

	s.mu.Lock()
	s.checks[componentID] = copied
	s.mu.Unlock()
}
