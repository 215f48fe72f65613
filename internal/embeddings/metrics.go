package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "embedding",
			Name:      "generation_duration_seconds",
			Help:      "Duration of embedding generation by provider and operation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	generationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Embedding generation errors by provider and operation",
		},
		[]string{"provider", "operation"},
	)
)

func observe(provider, operation string, start time.Time, err error) {
	generationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		generationErrors.WithLabelValues(provider, operation).Inc()
	}
}
