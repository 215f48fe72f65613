// Package decision chooses between reusing a cached pattern and extracting fresh.
//
// Candidates from the similarity search are scored by fitness; candidates below
// the fitness floor are discarded regardless of similarity. Survivors are ranked
// by a composite score (0.6 similarity + 0.4 fitness) and the best one is a cache
// hit only if its composite reaches the confidence threshold.
package decision

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/fitness"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const (
	// FitnessFloor excludes unreliable patterns from consideration.
	FitnessFloor = 0.20

	// SimilarityWeight is the weight of similarity in the composite score.
	SimilarityWeight = 0.6

	// FitnessWeight is the weight of fitness in the composite score.
	FitnessWeight = 0.4
)

// MissReason explains a cache miss.
type MissReason string

const (
	// ReasonNone is used for hits.
	ReasonNone MissReason = ""

	// ReasonNoCandidates means the search returned nothing.
	ReasonNoCandidates MissReason = "no_candidates"

	// ReasonBelowFitnessFloor means every candidate was discarded as unreliable.
	ReasonBelowFitnessFloor MissReason = "below_fitness_floor"

	// ReasonBelowThreshold means the best composite score missed the threshold.
	ReasonBelowThreshold MissReason = "below_threshold"

	// ReasonSearchFailed means the search collaborator failed; set by callers
	// that degrade a search error to an empty result.
	ReasonSearchFailed MissReason = "search_failed"
)

// Scored is a candidate with its derived scores.
type Scored struct {
	Pattern    pattern.Pattern `json:"pattern"`
	Similarity float64         `json:"similarity"`
	Fitness    float64         `json:"fitness"`
	Composite  float64         `json:"composite"`
}

// Decision is the outcome of Decide.
type Decision struct {
	// Hit is true when Best should be reused.
	Hit bool `json:"hit"`

	// Best is the top-ranked surviving candidate, if any. It is set on misses
	// caused by the threshold so callers can observe how close it came.
	Best *Scored `json:"best,omitempty"`

	// Threshold is the confidence threshold the decision used.
	Threshold float64 `json:"threshold"`

	// Reason is set on misses.
	Reason MissReason `json:"reason,omitempty"`

	// Considered is the number of candidates received.
	Considered int `json:"considered"`

	// Discarded is the number of candidates below the fitness floor.
	Discarded int `json:"discarded"`

	// Ranked holds surviving candidates in descending composite order.
	Ranked []Scored `json:"ranked,omitempty"`
}

// Config holds the engine weights and floor.
type Config struct {
	FitnessFloor     float64
	SimilarityWeight float64
	FitnessWeight    float64
}

// DefaultConfig returns the standard weights and floor.
func DefaultConfig() Config {
	return Config{
		FitnessFloor:     FitnessFloor,
		SimilarityWeight: SimilarityWeight,
		FitnessWeight:    FitnessWeight,
	}
}

// Engine makes cache decisions. It holds no state between calls.
type Engine struct {
	config Config
	now    func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{config: cfg, now: time.Now}
}

// WithClock replaces the engine's clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Composite returns the weighted blend of similarity and fitness.
func (e *Engine) Composite(similarity, fit float64) float64 {
	return similarity*e.config.SimilarityWeight + fit*e.config.FitnessWeight
}

// Decide ranks candidates and compares the best composite with threshold.
func (e *Engine) Decide(candidates []pattern.Candidate, threshold float64) Decision {
	d := Decision{Threshold: threshold, Considered: len(candidates)}
	if len(candidates) == 0 {
		d.Reason = ReasonNoCandidates
		return d
	}

	now := e.now()
	ranked := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		p := c.Pattern
		fit := fitness.Score(&p, now)
		if fit < e.config.FitnessFloor {
			d.Discarded++
			continue
		}
		sim := clampUnit(c.Similarity)
		ranked = append(ranked, Scored{
			Pattern:    p,
			Similarity: sim,
			Fitness:    fit,
			Composite:  e.Composite(sim, fit),
		})
	}

	if len(ranked) == 0 {
		d.Reason = ReasonBelowFitnessFloor
		return d
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Composite > ranked[j].Composite
	})
	d.Ranked = ranked
	best := ranked[0]
	d.Best = &best

	if best.Composite >= threshold {
		d.Hit = true
		return d
	}
	d.Reason = ReasonBelowThreshold
	return d
}

func clampUnit(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
