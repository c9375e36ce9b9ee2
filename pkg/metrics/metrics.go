package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Recovery pipeline metrics
	ErrorsHandledTotal   *prometheus.CounterVec
	RecoveriesTotal      *prometheus.CounterVec
	RecoveryDuration     *prometheus.HistogramVec
	RecoveryAttempts     *prometheus.HistogramVec
	ClassificationsTotal *prometheus.CounterVec
	LedgerSize           prometheus.Gauge
	PipelineFailures     *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Collaborator metrics
	AdvisorRequests *prometheus.CounterVec
	AdvisorDuration *prometheus.HistogramVec
	CacheOperations *prometheus.CounterVec
	ArchiveWrites   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec
	PanicsTotal     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`

	// Registry receives the collectors; the default registry when nil
	Registry *prometheus.Registry `json:"-"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "recovery",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Recovery pipeline metrics
		ErrorsHandledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_handled_total",
				Help:      "Total number of reported failures handled, by classification",
			},
			[]string{"category", "severity"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recoveries_total",
				Help:      "Total number of recovery executions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RecoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_duration_seconds",
				Help:      "Recovery execution duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),
		RecoveryAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_attempts",
				Help:      "Number of operation attempts per recovery",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
			},
			[]string{"strategy"},
		),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "classifications_total",
				Help:      "Total number of classifications by verdict source",
			},
			[]string{"source", "category"},
		),
		LedgerSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "ledger_records",
				Help:      "Number of error records currently held in the ledger",
			},
		),
		PipelineFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "pipeline_failures_total",
				Help:      "Total number of handler calls that degraded to the failed response",
			},
			[]string{"stage"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "from", "to"},
		),

		// Collaborator metrics
		AdvisorRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "advisor_requests_total",
				Help:      "Total number of requests to the completion advisor",
			},
			[]string{"operation", "status"},
		),
		AdvisorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "advisor_request_duration_seconds",
				Help:      "Completion advisor request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operations_total",
				Help:      "Total number of classification cache operations",
			},
			[]string{"operation", "result"},
		),
		ArchiveWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "archive_writes_total",
				Help:      "Total number of error records written to the archive",
			},
			[]string{"status"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "events_published_total",
				Help:      "Total number of events delivered to subscribers",
			},
			[]string{"subscriber"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped because a subscriber buffer was full",
			},
			[]string{"subscriber"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "sweep_duration_seconds",
				Help:      "Background sweep duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"component"},
		),
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	m.gatherer = prometheus.DefaultGatherer
	if config.Registry != nil {
		registerer = config.Registry
		m.gatherer = config.Registry
	}

	// Register all metrics
	registerer.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ErrorsHandledTotal,
		m.RecoveriesTotal,
		m.RecoveryDuration,
		m.RecoveryAttempts,
		m.ClassificationsTotal,
		m.LedgerSize,
		m.PipelineFailures,
		m.CircuitBreakerState,
		m.CircuitBreakerTransitions,
		m.AdvisorRequests,
		m.AdvisorDuration,
		m.CacheOperations,
		m.ArchiveWrites,
		m.EventsPublished,
		m.EventsDropped,
		m.SweepDuration,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordErrorHandled records a handled failure by its classification
func (m *Metrics) RecordErrorHandled(category, severity string) {
	if m == nil || m.ErrorsHandledTotal == nil {
		return
	}

	m.ErrorsHandledTotal.WithLabelValues(category, severity).Inc()
}

// RecordRecovery records the outcome of a recovery execution
func (m *Metrics) RecordRecovery(strategy string, success bool, attempts int, duration time.Duration) {
	if m == nil || m.RecoveriesTotal == nil {
		return
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}

	m.RecoveriesTotal.WithLabelValues(strategy, outcome).Inc()
	m.RecoveryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.RecoveryAttempts.WithLabelValues(strategy).Observe(float64(attempts))
}

// RecordClassification records where a classification verdict came from
func (m *Metrics) RecordClassification(source, category string) {
	if m == nil || m.ClassificationsTotal == nil {
		return
	}

	m.ClassificationsTotal.WithLabelValues(source, category).Inc()
}

// UpdateLedgerSize updates the ledger size gauge
func (m *Metrics) UpdateLedgerSize(size int) {
	if m == nil || m.LedgerSize == nil {
		return
	}

	m.LedgerSize.Set(float64(size))
}

// RecordPipelineFailure records a handler call that returned the failed response
func (m *Metrics) RecordPipelineFailure(stage string) {
	if m == nil || m.PipelineFailures == nil {
		return
	}

	m.PipelineFailures.WithLabelValues(stage).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
// state is 0 for closed, 1 for half-open and 2 for open.
func (m *Metrics) RecordBreakerTransition(service, from, to string, state int) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
	m.CircuitBreakerTransitions.WithLabelValues(service, from, to).Inc()
}

// RecordAdvisorRequest records a completion advisor call
func (m *Metrics) RecordAdvisorRequest(operation, status string, duration time.Duration) {
	if m == nil || m.AdvisorRequests == nil {
		return
	}

	m.AdvisorRequests.WithLabelValues(operation, status).Inc()
	m.AdvisorDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache lookup or write
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m == nil || m.CacheOperations == nil {
		return
	}

	m.CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordArchiveWrite records an archive write
func (m *Metrics) RecordArchiveWrite(status string) {
	if m == nil || m.ArchiveWrites == nil {
		return
	}

	m.ArchiveWrites.WithLabelValues(status).Inc()
}

// RecordEventPublished records an event delivered to a subscriber
func (m *Metrics) RecordEventPublished(subscriber string) {
	if m == nil || m.EventsPublished == nil {
		return
	}

	m.EventsPublished.WithLabelValues(subscriber).Inc()
}

// RecordEventDropped records an event a subscriber could not accept
func (m *Metrics) RecordEventDropped(subscriber string) {
	if m == nil || m.EventsDropped == nil {
		return
	}

	m.EventsDropped.WithLabelValues(subscriber).Inc()
}

// RecordSweep records the duration of a background sweep
func (m *Metrics) RecordSweep(sweep string, duration time.Duration) {
	if m == nil || m.SweepDuration == nil {
		return
	}

	m.SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
