package pruner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patternsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "pruner",
			Name:      "patterns_pruned_total",
			Help:      "Patterns deleted by the pruner",
		},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "pruner",
			Name:      "run_duration_seconds",
			Help:      "Duration of prune passes",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)
