package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Process metrics
	ProcessesLive        prometheus.Gauge
	ProcessesCreated     prometheus.Counter
	ProcessExits         *prometheus.CounterVec
	PendingRegistrations prometheus.Gauge

	// Manager request metrics
	Ops          *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	UnitMessages *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	LiveProcesses     int64   `json:"live_processes"`
	TotalProcesses    int64   `json:"total_processes"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on reg. A nil reg gets
// a private registry, so independent collectors never clash.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procman_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procman_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procman_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procman_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Process metrics
		ProcessesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procman_processes_live",
				Help: "Number of processes in the table",
			},
		),
		ProcessesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "procman_processes_created_total",
				Help: "Total number of processes created",
			},
		),
		ProcessExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procman_process_exits_total",
				Help: "Total number of processes freed, by reason",
			},
			[]string{"reason"},
		),
		PendingRegistrations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procman_pending_registrations",
				Help: "Processes created but not yet claimed by a unit",
			},
		),

		// Manager request metrics
		Ops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procman_ops_total",
				Help: "Total number of manager requests, by op and result",
			},
			[]string{"op", "result"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "procman_op_duration_seconds",
				Help:    "Time the manager spent servicing a request",
				Buckets: []float64{.00001, .0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"op"},
		),
		UnitMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procman_unit_messages_total",
				Help: "Messages forwarded to unit runtimes, by op",
			},
			[]string{"op"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "procman_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procman_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "procman_uptime_seconds",
			Help: "Supervisor uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOp records one serviced manager request
func (m *Metrics) RecordOp(op, result string, duration time.Duration) {
	m.Ops.WithLabelValues(op, result).Inc()
	m.OpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordUnitMessage records a message handed back to a unit runtime
func (m *Metrics) RecordUnitMessage(op string) {
	m.UnitMessages.WithLabelValues(op).Inc()
}

// RecordProcessCreated counts a new table entry
func (m *Metrics) RecordProcessCreated() {
	m.ProcessesCreated.Inc()
	m.mu.Lock()
	m.snapshot.TotalProcesses++
	m.mu.Unlock()
}

// RecordProcessExit counts a freed table entry
func (m *Metrics) RecordProcessExit(reason string) {
	m.ProcessExits.WithLabelValues(reason).Inc()
}

// SetProcessesLive sets the number of live processes
func (m *Metrics) SetProcessesLive(count int) {
	m.ProcessesLive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.LiveProcesses = int64(count)
	m.mu.Unlock()
}

// SetPendingRegistrations sets the registration queue depth
func (m *Metrics) SetPendingRegistrations(count int) {
	m.PendingRegistrations.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
