package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// CyclesTotal counts batch cycles by result (ok, load_error, panic)
	CyclesTotal *prometheus.CounterVec
	// CycleDuration tracks wall time of whole cycles
	CycleDuration prometheus.Histogram
	// CycleAccounts is the number of accounts dispatched in the last cycle
	CycleAccounts prometheus.Gauge
	// LastCycleTimestamp is the unix time the last cycle finished
	LastCycleTimestamp prometheus.Gauge
	// OutcomesTotal counts terminal account results by category
	OutcomesTotal *prometheus.CounterVec
	// StageDuration tracks time spent in each pipeline stage
	StageDuration *prometheus.HistogramVec
	// RemoteCallsTotal counts outbound calls by operation and status code
	RemoteCallsTotal *prometheus.CounterVec
	// RemoteCallLatency tracks outbound call latency by operation
	RemoteCallLatency *prometheus.HistogramVec
	// RequestLatency tracks status API latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total status API requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current status API requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ProxySlotWait tracks time accounts waited for a per-proxy slot
	ProxySlotWait *prometheus.HistogramVec
	// ProxySlotsInUse is the number of pipelines holding a proxy slot
	ProxySlotsInUse prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of batch cycles",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Batch cycle duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		CycleAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cycle_accounts",
				Help:      "Accounts dispatched in the last cycle",
			},
		),
		LastCycleTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_cycle_timestamp_seconds",
				Help:      "Unix time the last cycle finished",
			},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_outcomes_total",
				Help:      "Total number of account results by category",
			},
			[]string{"category"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of outbound calls",
			},
			[]string{"op", "status"},
		),
		RemoteCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_latency_seconds",
				Help:      "Outbound call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"op"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ProxySlotWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_slot_wait_seconds",
				Help:      "Time spent waiting for a per-proxy slot",
				Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60, 120},
			},
			[]string{"result"},
		),
		ProxySlotsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_slots_in_use",
				Help:      "Pipelines currently holding a per-proxy slot",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CycleAccounts,
		m.LastCycleTimestamp,
		m.OutcomesTotal,
		m.StageDuration,
		m.RemoteCallsTotal,
		m.RemoteCallLatency,
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ProxySlotWait,
		m.ProxySlotsInUse,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCycle records a finished cycle
func (m *Metrics) RecordCycle(result string, accounts int, duration time.Duration) {
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(duration.Seconds())
	m.CycleAccounts.Set(float64(accounts))
	m.LastCycleTimestamp.SetToCurrentTime()
}

// RecordOutcome records a terminal account result
func (m *Metrics) RecordOutcome(category string) {
	m.OutcomesTotal.WithLabelValues(category).Inc()
}

// RecordStage records time spent in a pipeline stage
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRemoteCall records an outbound call. Status 0 with an error is a transport failure.
func (m *Metrics) RecordRemoteCall(op string, status int, elapsed time.Duration, err error) {
	label := strconv.Itoa(status)
	if err != nil && status == 0 {
		label = "error"
	}
	m.RemoteCallsTotal.WithLabelValues(op, label).Inc()
	m.RemoteCallLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordSlotWait records how long a pipeline waited for a proxy slot
func (m *Metrics) RecordSlotWait(result string, waited time.Duration) {
	m.ProxySlotWait.WithLabelValues(result).Observe(waited.Seconds())
}

// RecordSlotRelease records a pipeline giving a proxy slot back
func (m *Metrics) RecordSlotRelease() {
	m.ProxySlotsInUse.Dec()
}

// RecordSlotAcquire records a pipeline taking a proxy slot
func (m *Metrics) RecordSlotAcquire() {
	m.ProxySlotsInUse.Inc()
}
