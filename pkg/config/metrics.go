package config

import (
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NFSMetrics records v3 procedure dispatch (never nil, uses noop if disabled)
	NFSMetrics metrics.NFSMetrics

	// CacheMetrics records key and export cache events (nil if disabled,
	// which the caches treat as no-op)
	CacheMetrics cache.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// Prometheus-backed collectors are created along with the HTTP server.
// Otherwise the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			NFSMetrics: metrics.NewNoopNFSMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:       server,
		NFSMetrics:   metrics.NewNFSMetrics(),
		CacheMetrics: metrics.NewCacheMetrics(),
	}
}
