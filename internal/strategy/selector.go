package strategy

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Ranked is a technique with the history that placed it.
type Ranked struct {
	Technique Technique `json:"technique"`
	Stat      Stat      `json:"stat"`
	Known     bool      `json:"known"`
}

// Selector orders techniques for a fingerprint and records attempt outcomes.
type Selector struct {
	store  StatStore
	logger *zap.Logger
}

// NewSelector creates a selector over store.
func NewSelector(store StatStore, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{store: store, logger: logger}
}

// OrderedStrategies returns every technique in the order they should be tried
// for fingerprint. A stat read failure yields the default order.
func (s *Selector) OrderedStrategies(ctx context.Context, fingerprint string) []Technique {
	ranking := s.Ranking(ctx, fingerprint)
	out := make([]Technique, len(ranking))
	for i, r := range ranking {
		out[i] = r.Technique
	}
	return out
}

// Ranking is OrderedStrategies with the stats attached.
func (s *Selector) Ranking(ctx context.Context, fingerprint string) []Ranked {
	known := make([]Ranked, 0, NumTechniques)
	var unknown []Ranked

	for _, t := range DefaultOrder() {
		st, ok, err := s.store.Get(ctx, fingerprint, t)
		if err != nil {
			s.logger.Warn("strategy stats read failed, using default order",
				zap.String("fingerprint", fingerprint),
				zap.Stringer("technique", t),
				zap.Error(err))
			return defaultRanking()
		}
		if !ok || st.Attempts <= 0 {
			unknown = append(unknown, Ranked{Technique: t})
			continue
		}
		known = append(known, Ranked{Technique: t, Stat: st, Known: true})
	}

	sort.SliceStable(known, func(i, j int) bool {
		ri, rj := known[i].Stat.SuccessRate(), known[j].Stat.SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return known[i].Stat.AvgDurationMs < known[j].Stat.AvgDurationMs
	})

	return append(known, unknown...)
}

// RecordOutcome records one attempt of t on fingerprint.
func (s *Selector) RecordOutcome(ctx context.Context, fingerprint string, t Technique, succeeded bool, elapsed time.Duration) error {
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return s.store.Record(ctx, fingerprint, t, succeeded, ms)
}

func defaultRanking() []Ranked {
	out := make([]Ranked, NumTechniques)
	for i, t := range DefaultOrder() {
		out[i] = Ranked{Technique: t}
	}
	return out
}
