package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initGraphMetrics() {
	r.GraphNodes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabrichc_graph_nodes",
			Help: "Registered nodes by kind",
		},
		[]string{"kind"},
	)

	r.GraphLinks = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_graph_links",
			Help: "Physical links in the graph",
		},
	)

	r.GraphRoles = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabrichc_graph_roles",
			Help: "Switches by inferred role",
		},
		[]string{"role"},
	)

	r.InferenceDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabrichc_inference_duration_seconds",
			Help:    "Time spent in one inference stage",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"stage"},
	)

	r.InferencePasses = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_inference_passes",
			Help: "Passes the role fixed point needed on the last run",
		},
	)

	r.PlaneTrackingDisabled = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_plane_tracking_disabled",
			Help: "Multi-plane switches with tracking disabled on the last run",
		},
	)

	r.RacksTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_racks_total",
			Help: "Racks found on the last NVLink grouping run",
		},
	)
}
