package strategy

import (
	"context"
	"sync"
	"time"
)

// Stat is the attempt history of one technique on one fingerprint.
type Stat struct {
	Attempts      int64     `json:"attempts"`
	Successes     int64     `json:"successes"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SuccessRate returns Successes/Attempts, or 0 without history.
func (s Stat) SuccessRate() float64 {
	if s.Attempts <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// StatStore persists technique statistics keyed by (fingerprint, technique).
//
// Record is the only write: it applies one sample atomically, so concurrent
// tasks recording the same key never lose an attempt or skew the average.
type StatStore interface {
	// Get returns the stat for the key; the bool is false when none is recorded.
	Get(ctx context.Context, fingerprint string, t Technique) (Stat, bool, error)

	// Record adds one attempt sample.
	Record(ctx context.Context, fingerprint string, t Technique, succeeded bool, durationMs float64) error
}

// Sweeper is implemented by stat stores that need an explicit sweep to drop
// stats nobody has updated for a while.
type Sweeper interface {
	// SweepStale deletes stats last updated more than olderThan ago and returns
	// how many were removed.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type statKey struct {
	fingerprint string
	technique   Technique
}

// InMemoryStatStore is an in-memory StatStore for tests and ephemeral runs.
type InMemoryStatStore struct {
	mu    sync.Mutex
	stats map[statKey]Stat
	ttl   time.Duration
	now   func() time.Time
}

// NewInMemoryStatStore creates a store. Stats not updated within ttl read as
// absent; ttl <= 0 keeps them forever.
func NewInMemoryStatStore(ttl time.Duration) *InMemoryStatStore {
	return &InMemoryStatStore{
		stats: make(map[statKey]Stat),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the store's clock. Intended for tests.
func (s *InMemoryStatStore) WithClock(now func() time.Time) *InMemoryStatStore {
	s.now = now
	return s
}

// Get returns the stat for the key.
func (s *InMemoryStatStore) Get(ctx context.Context, fingerprint string, t Technique) (Stat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[statKey{fingerprint, t}]
	if !ok || s.expired(st) {
		return Stat{}, false, nil
	}
	return st, true, nil
}

// Record applies one sample using a running mean for the duration.
func (s *InMemoryStatStore) Record(ctx context.Context, fingerprint string, t Technique, succeeded bool, durationMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statKey{fingerprint, t}
	st := s.stats[key]
	if s.expired(st) {
		st = Stat{}
	}
	st.Attempts++
	if succeeded {
		st.Successes++
	}
	st.AvgDurationMs += (durationMs - st.AvgDurationMs) / float64(st.Attempts)
	st.UpdatedAt = s.now()
	s.stats[key] = st
	return nil
}

// SweepStale implements Sweeper.
func (s *InMemoryStatStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for k, st := range s.stats {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.stats, k)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStatStore) expired(st Stat) bool {
	if s.ttl <= 0 || st.Attempts == 0 {
		return false
	}
	return s.now().Sub(st.UpdatedAt) > s.ttl
}
