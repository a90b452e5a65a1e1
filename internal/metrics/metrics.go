package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects simulation, job and HTTP metrics on a private registry.
//
// Usage:
//
//	m := metrics.New()
//	m.SimulationFinished("success", elapsed)
//	router.GET("/metrics", gin.WrapH(m.Handler()))
type Metrics struct {
	registry *prometheus.Registry

	// SimulationCounter counts batches by outcome.
	// Labels: status (success|invalid|failed|cancelled)
	SimulationCounter *prometheus.CounterVec

	// SimulationDuration measures batch wall time in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2.5s, 5s, 10s, 30s, 60s, 120s
	SimulationDuration prometheus.Histogram

	// SimulatedRuns counts individual trial runs, primary and null.
	SimulatedRuns prometheus.Counter

	// TypeIWarnings counts batches whose type-I rate exceeded 5%.
	TypeIWarnings prometheus.Counter

	// PersistenceFailures counts best-effort saves that failed.
	// Labels: target (runlog|cache)
	PersistenceFailures *prometheus.CounterVec

	// JobsQueued is a gauge of jobs waiting for a worker.
	JobsQueued prometheus.Gauge

	// JobsRunning is a gauge of jobs currently simulating.
	JobsRunning prometheus.Gauge

	// ExportCounter counts exports by format and status.
	ExportCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every metric on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SimulationCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialsim_simulations_total",
			Help: "Simulation batches by outcome",
		}, []string{"status"}),
		SimulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialsim_simulation_duration_seconds",
			Help:    "Wall time of one simulation batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SimulatedRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialsim_simulated_runs_total",
			Help: "Individual trial runs simulated",
		}),
		TypeIWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "trialsim_type_i_warnings_total",
			Help: "Batches whose type I error rate exceeded the nominal level",
		}),
		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialsim_persistence_failures_total",
			Help: "Best-effort persistence failures",
		}, []string{"target"}),
		JobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trialsim_jobs_queued",
			Help: "Jobs waiting for a worker",
		}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trialsim_jobs_running",
			Help: "Jobs currently running",
		}),
		ExportCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialsim_exports_total",
			Help: "Exports by format and status",
		}, []string{"format", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trialsim_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "path", "status_code"}),
	}
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SimulationFinished records one batch outcome
func (m *Metrics) SimulationFinished(status string, elapsed time.Duration) {
	m.SimulationCounter.WithLabelValues(status).Inc()
	m.SimulationDuration.Observe(elapsed.Seconds())
}

// RunsSimulated adds n trial runs
func (m *Metrics) RunsSimulated(n int) {
	m.SimulatedRuns.Add(float64(n))
}

// PersistenceFailed records a failed best-effort save
func (m *Metrics) PersistenceFailed(target string) {
	m.PersistenceFailures.WithLabelValues(target).Inc()
}

// Exported records one export attempt
func (m *Metrics) Exported(format string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ExportCounter.WithLabelValues(format, status).Inc()
}

// ObserveHTTP records one HTTP request
func (m *Metrics) ObserveHTTP(method, path, statusCode string, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(elapsed.Seconds())
}
