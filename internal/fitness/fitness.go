// Package fitness scores how reliably a pattern still works.
//
// The score combines a Wilson lower bound on the observed success rate (blended
// toward the raw rate while a pattern has few observations), an exponential time
// decay with a 30-day half-life, and a bonus for recent successes. It is
// recomputed on demand and never cached.
package fitness

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const (
	// Neutral is the score of a pattern with no recorded attempts.
	Neutral = 0.5

	// Z is the normal quantile for 95% confidence.
	Z = 1.96

	// BlendObservations is the attempt count at which the Wilson bound is used unblended.
	BlendObservations = 5

	// HalfLife is the decay half-life measured from the pattern's last activity.
	HalfLife = 30 * 24 * time.Hour

	// RecentBonus applies when the last success is under a day old.
	RecentBonus = 0.15

	// WeekBonus applies when the last success is under a week old.
	WeekBonus = 0.075
)

// Inputs are the pattern fields the score depends on.
type Inputs struct {
	SuccessCount    int
	FailureCount    int
	CreatedAt       time.Time
	LastSucceededAt *time.Time
	LastFailedAt    *time.Time
}

// FromPattern extracts scoring inputs from p.
func FromPattern(p *pattern.Pattern) Inputs {
	return Inputs{
		SuccessCount:    p.SuccessCount,
		FailureCount:    p.FailureCount,
		CreatedAt:       p.CreatedAt,
		LastSucceededAt: p.LastSucceededAt,
		LastFailedAt:    p.LastFailedAt,
	}
}

// Score returns the pattern's fitness in [0, 1] as of now.
func Score(p *pattern.Pattern, now time.Time) float64 {
	return Compute(FromPattern(p), now)
}

// Compute returns the fitness in [0, 1] for in as of now.
// Negative counts are treated as zero.
func Compute(in Inputs, now time.Time) float64 {
	successes := max(in.SuccessCount, 0)
	failures := max(in.FailureCount, 0)
	total := successes + failures
	if total == 0 {
		return Neutral
	}

	p := float64(successes) / float64(total)
	blend := math.Min(float64(total)/BlendObservations, 1)
	wilson := blend*WilsonLowerBound(successes, total) + (1-blend)*p

	decay := Decay(now.Sub(lastActivity(in)))

	var bonus float64
	if in.LastSucceededAt != nil {
		since := now.Sub(*in.LastSucceededAt)
		switch {
		case since < 24*time.Hour:
			bonus = RecentBonus
		case since < 7*24*time.Hour:
			bonus = WeekBonus
		}
	}

	return clamp(wilson*decay+bonus, 0, 1)
}

// WilsonLowerBound returns the lower bound of the Wilson score interval at
// 95% confidence for successes out of total trials. total must be positive.
func WilsonLowerBound(successes, total int) float64 {
	n := float64(total)
	p := float64(successes) / n
	z2 := Z * Z

	center := p + z2/(2*n)
	spread := Z * math.Sqrt((p*(1-p)+z2/(4*n))/n)
	return (center - spread) / (1 + z2/n)
}

// Decay returns 0.5^(elapsed/HalfLife). Negative elapsed time (clock skew) does
// not inflate the score.
func Decay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	days := elapsed.Hours() / 24
	halfLifeDays := HalfLife.Hours() / 24
	return math.Pow(0.5, days/halfLifeDays)
}

func lastActivity(in Inputs) time.Time {
	if in.LastSucceededAt != nil {
		return *in.LastSucceededAt
	}
	if in.LastFailedAt != nil {
		return *in.LastFailedAt
	}
	return in.CreatedAt
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
