package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initParseMetrics() {
	r.ParseLinesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_parse_lines_total",
			Help: "Artifact lines scanned",
		},
		[]string{"artifact"},
	)

	r.ParseRecordsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_parse_records_total",
			Help: "Inventory and adjacency records accepted",
		},
		[]string{"artifact", "kind"},
	)

	r.ParseSkippedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_parse_skipped_total",
			Help: "Records skipped with a diagnostic",
		},
		[]string{"artifact", "reason"},
	)

	r.ParseDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabrichc_parse_duration_seconds",
			Help:    "Time spent parsing one artifact",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"artifact"},
	)
}
