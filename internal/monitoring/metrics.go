package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation status labels
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusRejected = "rejected"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Bridge metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Exceptions        *prometheus.CounterVec
	PagesActive       prometheus.Gauge
	BytecodeRejected  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	TotalOperations int64   `json:"total_operations"`
	FailedOps       int64   `json:"failed_operations"`
	TotalExceptions int64   `json:"total_exceptions"`
	ActivePages     int64   `json:"active_pages"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Bridge metrics
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_operations_total",
				Help: "Total number of bridge operations by outcome",
			},
			[]string{"op", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_operation_duration_seconds",
				Help:    "Time from posting a bridge operation to its completion",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		Exceptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_exceptions_total",
				Help: "Total number of exceptions reported by execution contexts",
			},
			[]string{"kind"},
		),
		PagesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_pages_active",
				Help: "Number of open pages",
			},
		),
		BytecodeRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_bytecode_rejected_total",
				Help: "Total number of bytecode units rejected as malformed",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_ws_connections",
				Help: "Number of active exception stream connections",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOperation records the outcome of one bridge operation
func (m *Metrics) RecordOperation(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalOperations++
	if status != StatusOK {
		m.snapshot.FailedOps++
	}
	m.mu.Unlock()
}

// RecordException counts an exception by kind
func (m *Metrics) RecordException(kind string) {
	if m == nil {
		return
	}
	m.Exceptions.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.TotalExceptions++
	m.mu.Unlock()
}

// IncBytecodeRejected counts a malformed bytecode unit
func (m *Metrics) IncBytecodeRejected() {
	if m == nil {
		return
	}
	m.BytecodeRejected.Inc()
}

// SetPagesActive sets the number of open pages
func (m *Metrics) SetPagesActive(count int) {
	if m == nil {
		return
	}
	m.PagesActive.Set(float64(count))

	m.mu.Lock()
	m.snapshot.ActivePages = int64(count)
	m.mu.Unlock()
}

// IncWSConnections increments exception stream connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements exception stream connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the current metric values
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
