package fitness

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestCompute_NoObservationsIsNeutral(t *testing.T) {
	for _, created := range []time.Time{now, now.Add(-365 * 24 * time.Hour)} {
		got := Compute(Inputs{CreatedAt: created}, now)
		assert.Equal(t, 0.5, got)
	}
}

func TestCompute_HighSuccessRecentScenario(t *testing.T) {
	// 9 successes, 1 failure, last success just now: blend saturates at total>=5,
	// decay is 1 and the one-day bonus applies.
	in := Inputs{
		SuccessCount:    9,
		FailureCount:    1,
		CreatedAt:       now.Add(-10 * 24 * time.Hour),
		LastSucceededAt: ago(0),
		LastFailedAt:    ago(48 * time.Hour),
	}

	want := WilsonLowerBound(9, 10) + RecentBonus
	got := Compute(in, now)
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 0.7458, got, 0.001)
}

func TestCompute_ClampsToOne(t *testing.T) {
	in := Inputs{SuccessCount: 1000, CreatedAt: now, LastSucceededAt: ago(time.Minute)}
	assert.Equal(t, 1.0, Compute(in, now))
}

func TestCompute_SingleSuccessBlendsTowardRawRate(t *testing.T) {
	// Without blending a lone success would score ~0.21; blending keeps young
	// patterns trustworthy.
	in := Inputs{SuccessCount: 1, CreatedAt: now.Add(-60 * 24 * time.Hour), LastSucceededAt: ago(30 * 24 * time.Hour)}
	got := Compute(in, now)

	wilson := 0.2*WilsonLowerBound(1, 1) + 0.8*1.0
	assert.InDelta(t, wilson*0.5, got, 1e-9)
	assert.Greater(t, got, 0.4)
}

func TestCompute_ConvergesToWilsonBound(t *testing.T) {
	// With total >= BlendObservations the raw Wilson bound is used.
	for _, total := range []int{5, 50, 5000} {
		successes := total * 4 / 5
		in := Inputs{
			SuccessCount:    successes,
			FailureCount:    total - successes,
			CreatedAt:       now,
			LastFailedAt:    ago(0),
			LastSucceededAt: nil,
		}
		assert.InDelta(t, WilsonLowerBound(successes, total), Compute(in, now), 1e-9, "total=%d", total)
	}
}

func TestCompute_DecayHalvesEveryThirtyDays(t *testing.T) {
	in := Inputs{SuccessCount: 3, FailureCount: 3, CreatedAt: now.Add(-90 * 24 * time.Hour), LastFailedAt: ago(30 * 24 * time.Hour)}
	fresh := in
	fresh.LastFailedAt = ago(0)

	assert.InDelta(t, Compute(fresh, now)/2, Compute(in, now), 1e-9)
}

func TestCompute_RecencyBonusTiers(t *testing.T) {
	base := Inputs{SuccessCount: 5, FailureCount: 5, CreatedAt: now.Add(-100 * 24 * time.Hour)}

	day := base
	day.LastSucceededAt = ago(2 * time.Hour)
	week := base
	week.LastSucceededAt = ago(3 * 24 * time.Hour)
	old := base
	old.LastSucceededAt = ago(10 * 24 * time.Hour)

	w := WilsonLowerBound(5, 10)
	assert.InDelta(t, w*Decay(2*time.Hour)+RecentBonus, Compute(day, now), 1e-9)
	assert.InDelta(t, w*Decay(3*24*time.Hour)+WeekBonus, Compute(week, now), 1e-9)
	assert.InDelta(t, w*Decay(10*24*time.Hour), Compute(old, now), 1e-9)
}

func TestCompute_AlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		in := Inputs{
			SuccessCount: rng.Intn(200) - 5,
			FailureCount: rng.Intn(200) - 5,
			CreatedAt:    now.Add(-time.Duration(rng.Intn(400*24)) * time.Hour),
		}
		if rng.Intn(2) == 0 {
			in.LastSucceededAt = ago(time.Duration(rng.Intn(60*24)) * time.Hour)
		}
		if rng.Intn(2) == 0 {
			in.LastFailedAt = ago(time.Duration(rng.Intn(60*24)) * time.Hour)
		}
		got := Compute(in, now)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestDecay_FutureActivityIsNotInflated(t *testing.T) {
	assert.Equal(t, 1.0, Decay(-time.Hour))
	assert.InDelta(t, 0.5, Decay(HalfLife), 1e-12)
}

func TestScore_UsesPatternFields(t *testing.T) {
	p := &pattern.Pattern{SuccessCount: 9, FailureCount: 1, CreatedAt: now, LastSucceededAt: ago(0)}
	assert.Equal(t, Compute(FromPattern(p), now), Score(p, now))
}
