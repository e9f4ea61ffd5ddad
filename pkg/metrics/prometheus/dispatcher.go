package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/boowebserver/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DispatcherMetrics is the Prometheus implementation of metrics.DispatcherMetrics.
//
// It also implements pool.Observer so the same instance can track queue depth
// and busy workers in pooled mode.
type DispatcherMetrics struct {
	connectionsAccepted    *prometheus.CounterVec
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
	acceptErrors           prometheus.Counter
	handshakeFailures      prometheus.Counter
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsDropped        *prometheus.CounterVec
	jobsQueued             prometheus.Gauge
	jobsRunning            prometheus.Gauge
	jobPanics              prometheus.Counter
}

// NewDispatcherMetrics creates collectors on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewDispatcherMetrics() metrics.DispatcherMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopDispatcherMetrics()
	}
	return NewDispatcherMetricsWith(metrics.GetRegistry())
}

// NewDispatcherMetricsWith creates collectors on reg.
func NewDispatcherMetricsWith(reg prometheus.Registerer) *DispatcherMetrics {
	factory := promauto.With(reg)

	return &DispatcherMetrics{
		connectionsAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boowebserver_connections_accepted_total",
				Help: "Total number of connections accepted, by transport",
			},
			[]string{"transport"},
		),
		connectionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boowebserver_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boowebserver_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boowebserver_active_connections",
				Help: "Current number of connections being handled",
			},
		),
		acceptErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boowebserver_accept_errors_total",
				Help: "Total number of failed accept calls",
			},
		),
		handshakeFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boowebserver_tls_handshake_failures_total",
				Help: "Total number of failed TLS handshakes",
			},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boowebserver_requests_total",
				Help: "Total number of responses written, by route and status code",
			},
			[]string{"route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "boowebserver_request_duration_milliseconds",
				Help: "Duration from request read to response flush in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
					6000, // slow route
				},
			},
			[]string{"route"},
		),
		requestsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boowebserver_requests_dropped_total",
				Help: "Total number of connections closed without a response",
			},
			[]string{"route", "reason"},
		),
		jobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boowebserver_pool_jobs_queued",
				Help: "Jobs waiting in the worker pool queue",
			},
		),
		jobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "boowebserver_pool_jobs_running",
				Help: "Jobs currently executing on a worker",
			},
		),
		jobPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "boowebserver_pool_job_panics_total",
				Help: "Jobs that panicked and were recovered by their worker",
			},
		),
	}
}

func (m *DispatcherMetrics) RecordConnectionAccepted(transport string) {
	m.connectionsAccepted.WithLabelValues(transport).Inc()
}

func (m *DispatcherMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *DispatcherMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *DispatcherMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *DispatcherMetrics) RecordAcceptError() {
	m.acceptErrors.Inc()
}

func (m *DispatcherMetrics) RecordHandshakeFailure() {
	m.handshakeFailures.Inc()
}

func (m *DispatcherMetrics) RecordRequest(route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *DispatcherMetrics) RecordDropped(route string, reason string) {
	m.requestsDropped.WithLabelValues(route, reason).Inc()
}

// JobQueued implements pool.Observer.
func (m *DispatcherMetrics) JobQueued() {
	m.jobsQueued.Inc()
}

// JobStarted implements pool.Observer.
func (m *DispatcherMetrics) JobStarted() {
	m.jobsQueued.Dec()
	m.jobsRunning.Inc()
}

// JobFinished implements pool.Observer.
func (m *DispatcherMetrics) JobFinished(panicked bool) {
	m.jobsRunning.Dec()
	if panicked {
		m.jobPanics.Inc()
	}
}
