package confidence

import (
	"context"
	"sync"
)

// InMemoryStore is an in-memory ThresholdStore that applies deltas atomically.
type InMemoryStore struct {
	mu    sync.Mutex
	value float64
	set   bool
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Get returns the stored value.
func (s *InMemoryStore) Get(ctx context.Context) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set, nil
}

// Set stores value.
func (s *InMemoryStore) Set(ctx context.Context, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.set = true
	return nil
}

// ApplyDelta adds delta to the stored value under the store lock.
func (s *InMemoryStore) ApplyDelta(ctx context.Context, delta, lo, hi, def float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := def
	if s.set && s.value >= lo && s.value <= hi {
		current = s.value
	}
	s.value = Clamp(current+delta, lo, hi, def)
	s.set = true
	return s.value, nil
}
