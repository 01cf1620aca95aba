package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Sandbox metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	ConsoleLines       prometheus.Counter
	FetchDecisions     *prometheus.CounterVec
	InFlight           prometheus.Gauge

	startTime time.Time

	// Snapshot for the health endpoint
	snapshot          Snapshot
	invocationSeconds float64
	mu                sync.RWMutex
}

// Snapshot holds current metric values for JSON APIs
type Snapshot struct {
	TotalRequests   int64            `json:"total_requests"`
	TotalErrors     int64            `json:"total_errors"`
	Invocations     int64            `json:"invocations"`
	Classifications map[string]int64 `json:"classifications"`
	InFlight        int64            `json:"in_flight"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	AvgInvocationMs float64          `json:"avg_invocation_ms"`
}

// NewMetrics creates a metrics collector with its own registry, including the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		snapshot:  Snapshot{Classifications: map[string]int64{}},

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptbox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Sandbox metrics
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptbox_invocations_total",
				Help: "Total number of sandbox invocations by terminal classification",
			},
			[]string{"classification"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scriptbox_invocation_duration_seconds",
				Help:    "Sandbox execution time in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
			},
			[]string{"classification"},
		),
		ConsoleLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scriptbox_console_lines_total",
				Help: "Total number of console lines captured from sandboxed code",
			},
		),
		FetchDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scriptbox_fetch_decisions_total",
				Help: "Outbound fetch attempts by policy decision",
			},
			[]string{"kind"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scriptbox_invocations_in_flight",
				Help: "Number of invocations currently running",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scriptbox_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
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

// ObserveInvocation records one finished invocation
func (m *Metrics) ObserveInvocation(classification string, elapsed time.Duration, consoleLines int) {
	m.InvocationsTotal.WithLabelValues(classification).Inc()
	m.InvocationDuration.WithLabelValues(classification).Observe(elapsed.Seconds())
	m.ConsoleLines.Add(float64(consoleLines))

	m.mu.Lock()
	m.snapshot.Invocations++
	m.snapshot.Classifications[classification]++
	m.invocationSeconds += elapsed.Seconds()
	m.mu.Unlock()
}

// SetInFlight sets the number of running invocations
func (m *Metrics) SetInFlight(n int) {
	m.InFlight.Set(float64(n))
	m.mu.Lock()
	m.snapshot.InFlight = int64(n)
	m.mu.Unlock()
}

// ObserveFetch records one fetch policy decision
func (m *Metrics) ObserveFetch(kind network.DecisionKind) {
	m.FetchDecisions.WithLabelValues(string(kind)).Inc()
}

// Snapshot returns a copy of the current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.Classifications = make(map[string]int64, len(m.snapshot.Classifications))
	for k, v := range m.snapshot.Classifications {
		s.Classifications[k] = v
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	if s.Invocations > 0 {
		s.AvgInvocationMs = m.invocationSeconds / float64(s.Invocations) * 1000
	}
	return s
}
