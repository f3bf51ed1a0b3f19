package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_uptime_seconds",
			Help: "Seconds since process start",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_goroutines",
			Help: "Current goroutine count",
		},
	)

	r.MemoryAllocBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "fabrichc_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
}

// StartSystemCollector updates system gauges every interval until stop
// is closed. Call once from the agent entry point.
func (r *Registry) StartSystemCollector(interval time.Duration, stop <-chan struct{}) {
	start := time.Now()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				r.UptimeSeconds.Set(time.Since(start).Seconds())
				r.GoRoutines.Set(float64(runtime.NumGoroutine()))
				r.MemoryAllocBytes.Set(float64(m.Alloc))
			}
		}
	}()
}
