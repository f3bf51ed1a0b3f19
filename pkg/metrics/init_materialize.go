package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMaterializeMetrics() {
	r.MaterializeDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabrichc_materialize_duration_seconds",
			Help:    "Time spent expanding the graph into tables",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.MaterializeRows = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabrichc_materialize_rows",
			Help: "Rows produced by the last materialization",
		},
		[]string{"table"},
	)

	r.MaterializeFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "fabrichc_materialize_failures_total",
			Help: "Per-node expansion failures collected at the gather barrier",
		},
	)
}
