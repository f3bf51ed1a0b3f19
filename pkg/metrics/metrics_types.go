package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the analyzer and agent expose
type Registry struct {
	// Parse metrics
	ParseLinesTotal   *prometheus.CounterVec
	ParseRecordsTotal *prometheus.CounterVec
	ParseSkippedTotal *prometheus.CounterVec
	ParseDuration     *prometheus.HistogramVec

	// Graph metrics
	GraphNodes            *prometheus.GaugeVec
	GraphLinks            prometheus.Gauge
	GraphRoles            *prometheus.GaugeVec
	InferenceDuration     *prometheus.HistogramVec
	InferencePasses       prometheus.Gauge
	PlaneTrackingDisabled prometheus.Gauge
	RacksTotal            prometheus.Gauge

	// Materialization metrics
	MaterializeDuration prometheus.Histogram
	MaterializeRows     *prometheus.GaugeVec
	MaterializeFailures prometheus.Counter

	// Agent metrics
	AgentRunsTotal        *prometheus.CounterVec
	AgentRunDuration      prometheus.Histogram
	AgentLastRunTimestamp prometheus.Gauge
	SnapshotBytes         *prometheus.CounterVec
	ExportRowsTotal       *prometheus.CounterVec
	ExportDuration        prometheus.Histogram
	EventsPublishedTotal  *prometheus.CounterVec

	// HTTP / API metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	AuthFailuresTotal    prometheus.Counter

	// System metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initParseMetrics()
	r.initGraphMetrics()
	r.initMaterializeMetrics()
	r.initAgentMetrics()
	r.initHTTPMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
