package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksTotal counts completed tasks by how they were satisfied.
	// Labels: outcome (cache, fresh, recovered, failed)
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "runner",
			Name:      "tasks_total",
			Help:      "Completed tasks by outcome",
		},
		[]string{"outcome"},
	)

	// taskDuration tracks end-to-end task latency.
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "runner",
			Name:      "task_duration_seconds",
			Help:      "Duration of tasks in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// collaboratorFailures counts degraded collaborator calls.
	// Labels: collaborator (search, store, publish, executor)
	collaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "runner",
			Name:      "collaborator_failures_total",
			Help:      "Collaborator failures that were degraded to a conservative default",
		},
		[]string{"collaborator"},
	)
)

const (
	outcomeCache     = "cache"
	outcomeFresh     = "fresh"
	outcomeRecovered = "recovered"
	outcomeFailed    = "failed"
)
