package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initAgentMetrics() {
	r.AgentRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_agent_runs_total",
			Help: "Analysis runs by outcome",
		},
		[]string{"status"},
	)

	r.AgentRunDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabrichc_agent_run_duration_seconds",
			Help:    "Wall time of one full analysis run",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		},
	)

	r.AgentLastRunTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_agent_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		},
	)

	r.SnapshotBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_snapshot_bytes_total",
			Help: "Snapshot bytes moved, before compression on write",
		},
		[]string{"direction"},
	)

	r.ExportRowsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_export_rows_total",
			Help: "Rows written to the relational store",
		},
		[]string{"table"},
	)

	r.ExportDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabrichc_export_duration_seconds",
			Help:    "Time spent exporting one run",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.EventsPublishedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrichc_events_published_total",
			Help: "Topology events published to subscribers",
		},
		[]string{"type"},
	)
}
