// Package metrics exposes detection run counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/edrdash/internal/model"
)

const namespace = "edrdash"

// Run outcomes. Everything except OutcomeOK is a failed run.
const (
	OutcomeOK       = "ok"
	OutcomeSchema   = "schema"
	OutcomeModel    = "model"
	OutcomeSample   = "sample"
	OutcomeOutput   = "output"
	OutcomeInternal = "internal"
)

// Metrics holds the collectors. The Observe methods are no-ops on a nil
// *Metrics.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	rows        prometheus.Counter
	predictions *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New registers the run collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Detection runs by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Event records classified by successful runs.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predicted rows by class id.",
		}, []string{"class"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_fallbacks_total",
			Help:      "Runs that used the bundled sample instead of an upload, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of detection runs, successful or not.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.runs, m.rows, m.predictions, m.fallbacks, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun counts a finished run and its duration.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveFallback counts a sample substitution.
func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

// ObserveReport counts the rows and predictions of a successful run.
func (m *Metrics) ObserveReport(r *model.Report) {
	if m == nil {
		return
	}
	m.rows.Add(float64(r.Summary.Rows))
	for _, c := range r.Summary.ClassCounts {
		m.predictions.WithLabelValues(strconv.Itoa(c.Class)).Add(float64(c.Count))
	}
}
