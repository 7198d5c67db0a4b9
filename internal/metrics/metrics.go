// Package metrics records lifecycle events as Prometheus metrics.
//
// A one-shot `client-runner run` has no scrape window, so the registry is
// written to a node_exporter textfile after the run. Long-lived
// `client-runner schedule` processes can additionally serve it over HTTP.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "client_runner"

// Recorder implements lifecycle.Observer for one module.
type Recorder struct {
	registry *prometheus.Registry
	module   string

	runs            *prometheus.CounterVec
	retries         *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	releaseFailures *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder(module string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		module:   module,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Client invocations by outcome.",
		}, []string{"module", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Task re-initiations after a non-empty inspection.",
		}, []string{"module"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Runs that reached the retry ceiling.",
		}, []string{"module"}),
		releaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_failed_ports_total",
			Help:      "Ports that could not be confirmed freed after a run.",
		}, []string{"module"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of client invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"module"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last invocation finished.",
		}, []string{"module"}),
	}
	r.registry.MustRegister(r.runs, r.retries, r.escalations, r.releaseFailures, r.duration, r.lastRun)
	return r
}

func (r *Recorder) ObserveRun(outcome string, d time.Duration) {
	r.runs.WithLabelValues(r.module, outcome).Inc()
	r.duration.WithLabelValues(r.module).Observe(d.Seconds())
	r.lastRun.WithLabelValues(r.module).SetToCurrentTime()
}

func (r *Recorder) ObserveRetry() {
	r.retries.WithLabelValues(r.module).Inc()
}

func (r *Recorder) ObserveEscalation() {
	r.escalations.WithLabelValues(r.module).Inc()
}

func (r *Recorder) ObserveReleaseFailure(ports int) {
	r.releaseFailures.WithLabelValues(r.module).Add(float64(ports))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registry in the text exposition format,
// atomically replacing path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
