package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "patternd",
		Name:      "cache_decisions_total",
		Help:      "Cache decisions by result and miss reason",
	},
	[]string{"result", "reason"},
)

// Observe records d in the cache decision metrics.
func Observe(d Decision) {
	result := "miss"
	if d.Hit {
		result = "hit"
	}
	decisionsTotal.WithLabelValues(result, string(d.Reason)).Inc()
}
