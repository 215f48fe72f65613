package decision

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/fitness"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig()).WithClock(func() time.Time { return testNow })
}

// neutral returns a pattern with no history, which scores exactly 0.5.
func neutral(id string) pattern.Pattern {
	return pattern.Pattern{ID: id, Fingerprint: "shop.example/p/*", Target: "price", CreatedAt: testNow}
}

// failing returns a pattern with fitness well below the floor.
func failing(id string) pattern.Pattern {
	last := testNow.Add(-90 * 24 * time.Hour)
	return pattern.Pattern{
		ID:           id,
		SuccessCount: 1,
		FailureCount: 9,
		CreatedAt:    last,
		LastFailedAt: &last,
	}
}

// reliable returns a pattern that succeeded recently and often.
func reliable(id string) pattern.Pattern {
	last := testNow.Add(-time.Hour)
	return pattern.Pattern{
		ID:              id,
		SuccessCount:    40,
		FailureCount:    0,
		CreatedAt:       testNow.Add(-10 * 24 * time.Hour),
		LastSucceededAt: &last,
	}
}

func TestEngine_NoCandidates(t *testing.T) {
	d := newTestEngine().Decide(nil, 0.85)

	assert.False(t, d.Hit)
	assert.Equal(t, ReasonNoCandidates, d.Reason)
	assert.Nil(t, d.Best)
	assert.Equal(t, 0.85, d.Threshold)
}

func TestEngine_SimilarityAloneIsNotEnough(t *testing.T) {
	p := neutral("a")
	require.Equal(t, 0.5, fitness.Score(&p, testNow))

	d := newTestEngine().Decide([]pattern.Candidate{{Pattern: p, Similarity: 0.95}}, 0.85)

	assert.False(t, d.Hit)
	assert.Equal(t, ReasonBelowThreshold, d.Reason)
	require.NotNil(t, d.Best)
	assert.InDelta(t, 0.77, d.Best.Composite, 1e-9)
	assert.Equal(t, "a", d.Best.Pattern.ID)
}

func TestEngine_Hit(t *testing.T) {
	d := newTestEngine().Decide([]pattern.Candidate{
		{Pattern: neutral("weak"), Similarity: 0.9},
		{Pattern: reliable("strong"), Similarity: 0.92},
	}, 0.85)

	require.True(t, d.Hit)
	assert.Equal(t, ReasonNone, d.Reason)
	assert.Equal(t, "strong", d.Best.Pattern.ID)
	assert.GreaterOrEqual(t, d.Best.Composite, 0.85)
	assert.Len(t, d.Ranked, 2)
}

func TestEngine_HitAtExactThreshold(t *testing.T) {
	e := newTestEngine()
	threshold := e.Composite(1, fitness.Neutral)

	d := e.Decide([]pattern.Candidate{{Pattern: neutral("a"), Similarity: 1}}, threshold)
	assert.True(t, d.Hit)
}

func TestEngine_FitnessFloorBeatsSimilarity(t *testing.T) {
	bad := failing("bad")
	require.Less(t, fitness.Score(&bad, testNow), FitnessFloor)

	d := newTestEngine().Decide([]pattern.Candidate{
		{Pattern: bad, Similarity: 1.0},
		{Pattern: neutral("ok"), Similarity: 0.4},
	}, 0.70)

	require.NotNil(t, d.Best)
	assert.Equal(t, "ok", d.Best.Pattern.ID)
	assert.Equal(t, 1, d.Discarded)
	for _, s := range d.Ranked {
		assert.GreaterOrEqual(t, s.Fitness, FitnessFloor)
	}
}

func TestEngine_AllBelowFloor(t *testing.T) {
	d := newTestEngine().Decide([]pattern.Candidate{
		{Pattern: failing("a"), Similarity: 0.99},
		{Pattern: failing("b"), Similarity: 0.98},
	}, 0.70)

	assert.False(t, d.Hit)
	assert.Equal(t, ReasonBelowFitnessFloor, d.Reason)
	assert.Nil(t, d.Best)
	assert.Equal(t, 2, d.Discarded)
	assert.Equal(t, 2, d.Considered)
}

func TestEngine_RankingIsDescending(t *testing.T) {
	var candidates []pattern.Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, pattern.Candidate{
			Pattern:    neutral(fmt.Sprintf("p%d", i)),
			Similarity: float64(i) / 10,
		})
	}

	d := newTestEngine().Decide(candidates, 0.95)
	require.Len(t, d.Ranked, 10)
	for i := 1; i < len(d.Ranked); i++ {
		assert.GreaterOrEqual(t, d.Ranked[i-1].Composite, d.Ranked[i].Composite)
	}
	assert.Equal(t, "p9", d.Best.Pattern.ID)
}

func TestEngine_ClampsSimilarity(t *testing.T) {
	d := newTestEngine().Decide([]pattern.Candidate{{Pattern: neutral("a"), Similarity: 1.7}}, 0.95)
	require.NotNil(t, d.Best)
	assert.Equal(t, 1.0, d.Best.Similarity)
	assert.InDelta(t, 0.8, d.Best.Composite, 1e-9)
}

func TestEngine_Composite(t *testing.T) {
	e := newTestEngine()
	assert.InDelta(t, 0.77, e.Composite(0.95, 0.5), 1e-9)
	assert.InDelta(t, 1.0, e.Composite(1, 1), 1e-9)
	assert.InDelta(t, 0.0, e.Composite(0, 0), 1e-9)
}
