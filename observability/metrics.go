package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "unauthorized".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks operations applied by the node.
type LedgerMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	openPositions prometheus.Gauge
	height        prometheus.Gauge
}

// Ledger returns the singleton registry for ledger operations.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lend",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Applied operations segmented by operation, outcome and failure kind.",
			}, []string{"op", "outcome", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lend",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Time spent applying an operation, commit included.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lend",
				Subsystem: "ledger",
				Name:      "open_positions",
				Help:      "Positions currently open.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lend",
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Number of committed operations.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.openPositions,
			ledgerRegistry.height,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one applied operation. kind is empty on success.
func (m *LedgerMetrics) ObserveOperation(op, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if kind != "" {
		outcome = "failure"
	}
	m.operations.WithLabelValues(op, outcome, kind).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// PositionOpened increments the open positions gauge.
func (m *LedgerMetrics) PositionOpened() {
	if m == nil {
		return
	}
	m.openPositions.Inc()
}

// PositionTerminated decrements the open positions gauge.
func (m *LedgerMetrics) PositionTerminated() {
	if m == nil {
		return
	}
	m.openPositions.Dec()
}

// SetOpenPositions overwrites the gauge, used when a node restarts.
func (m *LedgerMetrics) SetOpenPositions(n uint64) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// SetHeight records the committed height.
func (m *LedgerMetrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}
