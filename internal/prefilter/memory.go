package prefilter

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node
// development. It can simulate an outage to exercise retry paths.
type MemoryStore struct {
	mu         sync.RWMutex
	candidates map[string]Candidate
	available  bool
}

// NewMemoryStore creates an empty, available store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candidates: make(map[string]Candidate),
		available:  true,
	}
}

// Put inserts or replaces a candidate.
func (s *MemoryStore) Put(c Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[c.TripID] = c
}

// Deactivate marks a candidate inactive; unknown IDs are ignored.
func (s *MemoryStore) Deactivate(tripID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.candidates[tripID]; ok {
		c.Active = false
		s.candidates[tripID] = c
	}
}

// SetAvailable toggles the simulated outage.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.available {
		return nil, fmt.Errorf("%w: simulated outage", ErrUnavailable)
	}

	var out []Candidate
	for _, c := range s.candidates {
		if matches(&c, q) {
			out = append(out, c)
		}
	}
	return order(out, q.Limit), nil
}
