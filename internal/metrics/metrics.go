// Package metrics records render statistics for one prerender run. The
// child writes them in Prometheus textfile format when asked to.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Recorder owns a private registry so concurrent runs never share series.
type Recorder struct {
	registry *prometheus.Registry

	renderDuration *prometheus.HistogramVec
	renders        *prometheus.CounterVec
	discovered     prometheus.Gauge
	workers        prometheus.Gauge
	replaced       prometheus.Counter
}

// New creates a Recorder with all series registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prerender_route_render_seconds",
			Help:    "Time spent rendering one route.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prerender_routes_total",
			Help: "Routes rendered, by outcome.",
		}, []string{"outcome"}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prerender_routes_discovered",
			Help: "Routes in the final route set.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prerender_render_workers",
			Help: "Render workers in the pool.",
		}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prerender_workers_replaced_total",
			Help: "Workers discarded after a render timeout.",
		}),
	}
	r.registry.MustRegister(r.renderDuration, r.renders, r.discovered, r.workers, r.replaced)
	return r
}

// ObserveRender records one settled render task.
func (r *Recorder) ObserveRender(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.renderDuration.WithLabelValues(outcome).Observe(d.Seconds())
	r.renders.WithLabelValues(outcome).Inc()
}

// SetDiscovered records the size of the final route set.
func (r *Recorder) SetDiscovered(n int) {
	if r == nil {
		return
	}
	r.discovered.Set(float64(n))
}

// SetWorkers records the pool size.
func (r *Recorder) SetWorkers(n int) {
	if r == nil {
		return
	}
	r.workers.Set(float64(n))
}

// WorkerReplaced counts a tainted worker swapped for a fresh one.
func (r *Recorder) WorkerReplaced() {
	if r == nil {
		return
	}
	r.replaced.Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteFile writes every series to path in textfile format.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
