// Package metrics provides Prometheus metrics collection for the web server.
//
// All metrics are optional - if the registry is not initialized, components use
// no-op implementations. The server runs the same with or without metrics.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewDispatcherMetrics()
//	d := dispatcher.New(cfg, h, m)
//
//	// Or pass nil for no-op behavior
//	d := dispatcher.New(cfg, h, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is written once by InitRegistry and read many times after
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Subsequent calls
// are ignored.
//
// The registry also carries the standard Go runtime and process collectors.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil if InitRegistry has not
// been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
