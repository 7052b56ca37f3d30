// Package metrics defines the Prometheus collectors exported by kvblob.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing,
// which keeps the storage packages usable without a registry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec   // kvblob_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // kvblob_request_duration_seconds{operation}

	BytesUploaded   prometheus.Counter // kvblob_bytes_uploaded_total
	BytesDownloaded prometheus.Counter // kvblob_bytes_downloaded_total

	StoreErrors   *prometheus.CounterVec // kvblob_store_errors_total{op,kind}
	BucketsTotal  prometheus.Counter     // kvblob_buckets_created_total
	OrphansPurged prometheus.Counter     // kvblob_orphans_purged_total
}

// New registers all collectors on reg. A nil registerer uses the default.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvblob_requests_total",
			Help: "HTTP requests by operation and status code",
		}, []string{"operation", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvblob_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "kvblob_bytes_uploaded_total",
			Help: "Object bytes accepted by put",
		}),

		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "kvblob_bytes_downloaded_total",
			Help: "Object bytes served by get",
		}),

		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvblob_store_errors_total",
			Help: "Storage errors by operation and error kind",
		}, []string{"op", "kind"}),

		BucketsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "kvblob_buckets_created_total",
			Help: "Buckets created since start",
		}),

		OrphansPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "kvblob_orphans_purged_total",
			Help: "Orphan blob files removed by reconciliation",
		}),
	}
}

func (m *Metrics) ObserveRequest(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) AddUploaded(n int) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(n))
}

func (m *Metrics) AddDownloaded(n int64) {
	if m == nil {
		return
	}
	m.BytesDownloaded.Add(float64(n))
}

func (m *Metrics) StoreError(op, kind string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) BucketCreated() {
	if m == nil {
		return
	}
	m.BucketsTotal.Inc()
}

func (m *Metrics) OrphanPurged() {
	if m == nil {
		return
	}
	m.OrphansPurged.Inc()
}
