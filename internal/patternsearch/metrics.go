package patternsearch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// indexedPatterns is the number of documents in the search collection.
	indexedPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "patternd",
			Subsystem: "search",
			Name:      "indexed_patterns",
			Help:      "Number of patterns in the similarity index",
		},
	)

	// queryDuration tracks similarity query latency.
	// Labels: result (success, error)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Help:      "Duration of pattern similarity queries in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"result"},
	)

	// staleHits counts index hits whose pattern no longer exists in the store.
	staleHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "search",
			Name:      "stale_hits_total",
			Help:      "Index hits skipped because the pattern was missing from the store",
		},
	)
)
