package pattern

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory implementation of Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	now      func() time.Time
}

// NewInMemoryStore creates a new in-memory pattern store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patterns: make(map[string]*Pattern),
		now:      time.Now,
	}
}

// WithClock replaces the store's clock. Intended for tests.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

// Create stores a new pattern.
func (s *InMemoryStore) Create(ctx context.Context, p NewPattern) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.patterns[id] = &Pattern{
		ID:          id,
		Fingerprint: p.Fingerprint,
		Target:      p.Target,
		Instruction: p.Instruction,
		Approach:    p.Approach,
		CreatedAt:   s.now(),
	}
	return id, nil
}

// Put stores a fully populated pattern, replacing any pattern with the same id.
// Tests use it to seed counts and timestamps directly.
func (s *InMemoryStore) Put(p Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := p
	s.patterns[p.ID] = &cp
}

// Get returns a copy of the pattern.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// IncrementSuccess records a success.
func (s *InMemoryStore) IncrementSuccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	p.SuccessCount++
	p.LastSucceededAt = &now
	return nil
}

// IncrementFailure records a failure.
func (s *InMemoryStore) IncrementFailure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	p.FailureCount++
	p.LastFailedAt = &now
	return nil
}

// Delete removes a pattern.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[id]; !ok {
		return ErrNotFound
	}
	delete(s.patterns, id)
	return nil
}

// List returns patterns ordered by creation time, then id.
func (s *InMemoryStore) List(ctx context.Context, limit, offset int) ([]Pattern, error) {
	s.mu.RLock()
	all := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		all = append(all, *p)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Pattern{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the number of stored patterns.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns), nil
}
