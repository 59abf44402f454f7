package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WopiMetrics records protocol-level metrics. All methods are safe on a
// nil receiver.
type WopiMetrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tokensIssued     prometheus.Counter
	contentBytes     *prometheus.CounterVec
	discoveryRuns    *prometheus.CounterVec
	discoveryLatency prometheus.Histogram
	discoveryEntries *prometheus.GaugeVec
}

// NewWopiMetrics registers the WOPI metrics on the global registry.
// Returns nil if metrics are not enabled.
func NewWopiMetrics() *WopiMetrics {
	if !IsEnabled() {
		return nil
	}
	return newWopiMetrics(GetRegistry())
}

func newWopiMetrics(reg prometheus.Registerer) *WopiMetrics {
	f := promauto.With(reg)
	return &WopiMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "wopi",
				Name:      "requests_total",
				Help:      "Total number of WOPI requests by operation and status code",
			},
			[]string{"operation", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "wopi",
				Name:      "request_duration_seconds",
				Help:      "Duration of WOPI requests by operation",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		tokensIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tokens_issued_total",
				Help:      "Total number of access tokens issued",
			},
		),
		contentBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "content",
				Name:      "bytes_total",
				Help:      "Document bytes streamed by direction",
			},
			[]string{"direction"}, // "in", "out"
		),
		discoveryRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "discovery",
				Name:      "refresh_total",
				Help:      "Discovery refresh runs by result",
			},
			[]string{"result"},
		),
		discoveryLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "discovery",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of discovery refresh runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
		discoveryEntries: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "discovery",
				Name:      "entries",
				Help:      "Launch templates in the live discovery snapshot by kind",
			},
			[]string{"kind"}, // "mimetype", "extension"
		),
	}
}

// ObserveRequest records one WOPI request.
func (m *WopiMetrics) ObserveRequest(operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// TokensIssued returns the issued-token counter, or nil.
func (m *WopiMetrics) TokensIssued() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.tokensIssued
}

// ObserveContentBytes implements content.Metrics.
func (m *WopiMetrics) ObserveContentBytes(direction string, n int64) {
	if m == nil {
		return
	}
	m.contentBytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveDiscoveryRefresh implements discovery.Metrics.
func (m *WopiMetrics) ObserveDiscoveryRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.discoveryRuns.WithLabelValues(result).Inc()
	m.discoveryLatency.Observe(d.Seconds())
}

// SetDiscoveryEntries implements discovery.Metrics.
func (m *WopiMetrics) SetDiscoveryEntries(kind string, n int) {
	if m == nil {
		return
	}
	m.discoveryEntries.WithLabelValues(kind).Set(float64(n))
}
