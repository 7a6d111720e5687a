package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the run pipeline. A nil
// *Metrics is a valid no-op collector.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	eventsClassified     *prometheus.CounterVec
	credentialsExtracted *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given
// configuration. A disabled configuration yields a no-op collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of automation runs started",
			},
			[]string{"kind"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of automation runs completed",
			},
			[]string{"kind", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of automation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "status"},
		),
		eventsClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_classified_total",
				Help:      "Total number of progress events classified",
			},
			[]string{"type"},
		),
		credentialsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credentials_extracted_total",
				Help:      "Total number of credential fields extracted",
			},
			[]string{"service"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of runs currently executing",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.eventsClassified,
		m.credentialsExtracted,
		m.activeRuns,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// enabled reports whether the collector records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RunStarted records a run launch.
func (m *Metrics) RunStarted(kind string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RunCompleted records a run completion with its duration.
func (m *Metrics) RunCompleted(kind, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(kind, status).Inc()
	m.runDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// EventClassified records one classified progress event.
func (m *Metrics) EventClassified(eventType string) {
	if !m.enabled() {
		return
	}
	m.eventsClassified.WithLabelValues(eventType).Inc()
}

// CredentialExtracted records one extracted credential field.
func (m *Metrics) CredentialExtracted(service string) {
	if !m.enabled() {
		return
	}
	m.credentialsExtracted.WithLabelValues(service).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
