package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NFSMetrics provides observability for v3 procedure dispatch.
//
// Implementations are optional. The dispatcher falls back to a no-op
// implementation when none is provided.
type NFSMetrics interface {
	// RecordRequest records a completed procedure with its name, the
	// nfsstat3 name it produced and how long decode, execute and encode took.
	RecordRequest(procedure, status string, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge for procedure.
	RecordRequestStart(procedure string)

	// RecordRequestEnd decrements the in-flight gauge for procedure.
	RecordRequestEnd(procedure string)

	// RecordBytesTransferred records payload bytes moved by READ ("read")
	// or WRITE ("write").
	RecordBytesTransferred(direction string, bytes int64)

	// RecordDecodeFailure counts calls rejected before execution.
	RecordDecodeFailure(procedure string)
}

type nfsMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	bytesTransferred *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
}

// NewNFSMetrics creates a Prometheus-backed NFSMetrics instance, or a no-op
// one when metrics are not enabled.
func NewNFSMetrics() NFSMetrics {
	if !IsEnabled() {
		return NewNoopNFSMetrics()
	}

	reg := GetRegistry()

	return &nfsMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_requests_total",
				Help: "Total number of NFSv3 requests by procedure and status",
			},
			[]string{"procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nfsd_request_duration_seconds",
				Help: "Duration of NFSv3 requests in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					2.5,    // 2.5s, covers a full upcall wait
				},
			},
			[]string{"procedure"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nfsd_requests_in_flight",
				Help: "Current number of NFSv3 requests being processed",
			},
			[]string{"procedure"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_bytes_transferred_total",
				Help: "Total payload bytes transferred by READ and WRITE",
			},
			[]string{"direction"},
		),
		decodeFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsd_decode_failures_total",
				Help: "Total number of calls rejected by argument decoding",
			},
			[]string{"procedure"},
		),
	}
}

func (m *nfsMetrics) RecordRequest(procedure, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(procedure, status).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(duration.Seconds())
}

func (m *nfsMetrics) RecordRequestStart(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Inc()
}

func (m *nfsMetrics) RecordRequestEnd(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Dec()
}

func (m *nfsMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *nfsMetrics) RecordDecodeFailure(procedure string) {
	m.decodeFailures.WithLabelValues(procedure).Inc()
}

// NewNoopNFSMetrics returns an NFSMetrics that discards everything.
func NewNoopNFSMetrics() NFSMetrics {
	return noopNFSMetrics{}
}

type noopNFSMetrics struct{}

func (noopNFSMetrics) RecordRequest(procedure, status string, duration time.Duration) {}
func (noopNFSMetrics) RecordRequestStart(procedure string)                             {}
func (noopNFSMetrics) RecordRequestEnd(procedure string)                               {}
func (noopNFSMetrics) RecordBytesTransferred(direction string, bytes int64)            {}
func (noopNFSMetrics) RecordDecodeFailure(procedure string)                            {}
