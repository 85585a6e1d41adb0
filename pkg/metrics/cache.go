package metrics

import (
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
//
// Every series is labelled with the cache name (nfsd.fh, nfsd.export) so the
// key cache and the export cache can be told apart on one dashboard.
type cacheMetrics struct {
	lookups *prometheus.CounterVec
	checks  *prometheus.CounterVec
	upcalls *prometheus.CounterVec
	entries *prometheus.GaugeVec
	purges  *prometheus.CounterVec
}

// NewCacheMetrics creates a Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled, which makes the cache use its
// built-in no-op implementation.
func NewCacheMetrics() cache.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_cache_lookups_total",
				Help: "Total cache lookups by cache and result (hit, miss)",
			},
			[]string{"cache", "result"},
		),
		checks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_cache_checks_total",
				Help: "Total cache entry checks by cache and outcome (ok, negative, retry)",
			},
			[]string{"cache", "outcome"},
		),
		upcalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_cache_upcalls_total",
				Help: "Total population requests by cache and disposition (queued, dropped)",
			},
			[]string{"cache", "disposition"},
		),
		entries: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nfsd_cache_entries",
				Help: "Current number of hashed entries per cache",
			},
			[]string{"cache"},
		),
		purges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_cache_purges_total",
				Help: "Total number of cache purges",
			},
			[]string{"cache"},
		),
	}
}

func (m *cacheMetrics) RecordLookup(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(name, result).Inc()
}

func (m *cacheMetrics) RecordCheck(name, outcome string) {
	m.checks.WithLabelValues(name, outcome).Inc()
}

func (m *cacheMetrics) RecordUpcall(name string, queued bool) {
	disposition := "dropped"
	if queued {
		disposition = "queued"
	}
	m.upcalls.WithLabelValues(name, disposition).Inc()
}

func (m *cacheMetrics) SetEntries(name string, n int) {
	m.entries.WithLabelValues(name).Set(float64(n))
}

func (m *cacheMetrics) RecordPurge(name string) {
	m.purges.WithLabelValues(name).Inc()
	m.entries.WithLabelValues(name).Set(0)
}
