// Package metrics provides Prometheus metrics collection for wopid.
//
// All metrics are optional. Until InitRegistry is called the
// constructors return nil and components treat a nil recorder as a
// no-op, so wopid runs with or without metrics.
//
//	metrics.InitRegistry()
//	wopiMetrics := metrics.NewWopiMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every wopid metric.
const Namespace = "wopid"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and
// process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Registerer returns the global registry as a prometheus.Registerer, or
// a nil interface when metrics are disabled.
func Registerer() prometheus.Registerer {
	if reg := GetRegistry(); reg != nil {
		return reg
	}
	return nil
}
