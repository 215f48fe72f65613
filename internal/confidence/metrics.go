package confidence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// thresholdGauge exposes the most recently adjusted threshold.
var thresholdGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "patternd",
		Name:      "confidence_threshold",
		Help:      "Most recent cache-hit confidence threshold",
	},
)
