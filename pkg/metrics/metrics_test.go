package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

// The registry is process-global and can only be enabled once, so the
// disabled case must run before anything calls InitRegistry.
func TestDisabled(t *testing.T) {
	require.False(t, IsEnabled())

	assert.Nil(t, NewCacheMetrics())
	assert.IsType(t, noopNFSMetrics{}, NewNFSMetrics())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnabled(t *testing.T) {
	InitRegistry()
	InitRegistry()
	require.True(t, IsEnabled())

	cm := NewCacheMetrics().(*cacheMetrics)
	nm := NewNFSMetrics().(*nfsMetrics)

	t.Run("CacheSeries", func(t *testing.T) {
		cm.RecordLookup("nfsd.fh", true)
		cm.RecordLookup("nfsd.fh", false)
		cm.RecordLookup("nfsd.fh", false)
		cm.RecordUpcall("nfsd.export", false)
		cm.SetEntries("nfsd.export", 4)

		assert.Equal(t, 1.0, value(t, cm.lookups.WithLabelValues("nfsd.fh", "hit")))
		assert.Equal(t, 2.0, value(t, cm.lookups.WithLabelValues("nfsd.fh", "miss")))
		assert.Equal(t, 1.0, value(t, cm.upcalls.WithLabelValues("nfsd.export", "dropped")))
		assert.Equal(t, 4.0, value(t, cm.entries.WithLabelValues("nfsd.export")))

		cm.RecordPurge("nfsd.export")
		assert.Equal(t, 0.0, value(t, cm.entries.WithLabelValues("nfsd.export")))
		assert.Equal(t, 1.0, value(t, cm.purges.WithLabelValues("nfsd.export")))
	})

	t.Run("NFSSeries", func(t *testing.T) {
		nm.RecordRequestStart("READ")
		assert.Equal(t, 1.0, value(t, nm.requestsInFlight.WithLabelValues("READ")))
		nm.RecordRequest("READ", "NFS3_OK", time.Millisecond)
		nm.RecordRequestEnd("READ")
		nm.RecordBytesTransferred("read", 4096)

		assert.Equal(t, 0.0, value(t, nm.requestsInFlight.WithLabelValues("READ")))
		assert.Equal(t, 1.0, value(t, nm.requestsTotal.WithLabelValues("READ", "NFS3_OK")))
		assert.Equal(t, 4096.0, value(t, nm.bytesTransferred.WithLabelValues("read")))
	})

	t.Run("Handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "nfsd_cache_lookups_total"))
	})
}

func TestServerDefaults(t *testing.T) {
	assert.Equal(t, 9090, NewServer(ServerConfig{}).Port())
	assert.Equal(t, 9191, NewServer(ServerConfig{Port: 9191}).Port())
}
