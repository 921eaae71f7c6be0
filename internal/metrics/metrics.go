// Package metrics exposes profiler controller activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coral-mesh/coral-profiler/internal/profiler"
	"github.com/coral-mesh/coral-profiler/internal/profiler/stage"
)

const namespace = "coral_profiler"

// Recorder implements profiler.Observer. Each Recorder owns its registry, so
// several controllers in one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	sessions     *prometheus.CounterVec
	ongoing      prometheus.Gauge
	captures     *prometheus.CounterVec
}

var _ profiler.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered alongside the controller metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Polling ticks by result.",
		}, []string{"result"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a polling tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions begun or ended by the controller.",
		}, []string{"event"}),
		ongoing: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_ongoing",
			Help:      "Sessions begun and not yet ended.",
		}),
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_loads_total",
			Help:      "Capture loads by stage and outcome.",
		}, []string{"stage", "outcome"}),
	}
}

func (r *Recorder) TickCompleted(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ticks.WithLabelValues(result).Inc()
	r.tickDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) SessionBegun() {
	r.sessions.WithLabelValues("begun").Inc()
	r.ongoing.Inc()
}

func (r *Recorder) SessionEnded() {
	r.sessions.WithLabelValues("ended").Inc()
	r.ongoing.Dec()
}

func (r *Recorder) CaptureLoaded(kind stage.Kind, outcome stage.Outcome) {
	r.captures.WithLabelValues(kind.String(), outcome.String()).Inc()
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
