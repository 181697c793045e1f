package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Step result labels.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultFatal     = "fatal"
)

// Metrics provides Prometheus metrics for the resolver. A Metrics built
// from a disabled configuration accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	resolvePasses  prometheus.Counter
	pendingSteps   prometheus.Gauge
	stateSaves     *prometheus.CounterVec
	fatalAborts    *prometheus.CounterVec
	errorsByClass  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.StepDurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		stepExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_executions_total",
				Help:      "Total number of step executions, including retries",
			},
			[]string{"step", "result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step executions in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),
		resolvePasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolve_passes_total",
				Help:      "Total number of passes over the pending set",
			},
		),
		pendingSteps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_steps",
				Help:      "Current number of registered steps that have not completed",
			},
		),
		stateSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_saves_total",
				Help:      "Total number of state persistence attempts",
			},
			[]string{"result"},
		),
		fatalAborts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fatal_aborts_total",
				Help:      "Total number of runs aborted by a fatal condition",
			},
			[]string{"reason"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.stepExecutions,
		m.stepDuration,
		m.resolvePasses,
		m.pendingSteps,
		m.stateSaves,
		m.fatalAborts,
		m.errorsByClass,
	)

	return m, nil
}

// RecordStepExecution records one step attempt.
func (m *Metrics) RecordStepExecution(step, result string, duration time.Duration) {
	if m == nil || m.stepExecutions == nil {
		return
	}
	m.stepExecutions.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordResolvePass counts a pass over the pending set.
func (m *Metrics) RecordResolvePass() {
	if m == nil || m.resolvePasses == nil {
		return
	}
	m.resolvePasses.Inc()
}

// SetPendingSteps sets the number of pending steps.
func (m *Metrics) SetPendingSteps(count int) {
	if m == nil || m.pendingSteps == nil {
		return
	}
	m.pendingSteps.Set(float64(count))
}

// RecordStateSave records a persistence attempt.
func (m *Metrics) RecordStateSave(err error) {
	if m == nil || m.stateSaves == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stateSaves.WithLabelValues(result).Inc()
}

// RecordFatal records an aborted run.
func (m *Metrics) RecordFatal(reason string) {
	if m == nil || m.fatalAborts == nil {
		return
	}
	m.fatalAborts.WithLabelValues(reason).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry returns the registry metrics are registered on, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes metrics over HTTP until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) {
	if !m.config.Enabled {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
