// Package metrics provides Prometheus metrics collection for nfsd components.
//
// All metrics are optional. When the registry has not been initialized every
// constructor returns a no-op implementation, so the export caches and the
// protocol dispatcher run unchanged with or without a scrape endpoint.
//
// Usage:
//
//	metrics.InitRegistry()
//	nfsMetrics := metrics.NewNFSMetrics()
//	cacheMetrics := metrics.NewCacheMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is written once by InitRegistry and read many times afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// Safe to call multiple times; subsequent calls are ignored. Until it is
// called GetRegistry returns nil and constructors return no-op collectors.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
