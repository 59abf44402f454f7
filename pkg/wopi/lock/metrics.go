package lock

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelOperation = "operation"
	LabelResult    = "result"
)

// Result constants for lock operations.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics provides Prometheus metrics for the lock registry.
type Metrics struct {
	operations *prometheus.CounterVec
	contention prometheus.Counter
}

// NewMetrics creates and registers lock metrics.
// If registry is nil, metrics are created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wopid",
				Subsystem: "locks",
				Name:      "operations_total",
				Help:      "Total number of WOPI lock operations by outcome",
			},
			[]string{LabelOperation, LabelResult},
		),
		contention: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wopid",
				Subsystem: "locks",
				Name:      "cas_retries_total",
				Help:      "Compare-and-swap retries caused by concurrent writers sharing the cache",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(m.operations, m.contention)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	switch {
	case err == nil:
	case isConflict(err):
		result = ResultConflict
	default:
		result = ResultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.contention.Inc()
}
