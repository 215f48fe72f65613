package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Name:      "recovery_attempts_total",
			Help:      "Recovery technique attempts by technique and result",
		},
		[]string{"technique", "result"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Name:      "recovery_runs_total",
			Help:      "Recovery runs by final state",
		},
		[]string{"result"},
	)
)
