package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sourcedai/sai-go/internal/ingest"
)

// serverMetrics holds all Prometheus collectors for the HTTP server.
// Collectors are registered on the Registerer supplied in Config, which
// keeps tests isolated from the default global registry.
type serverMetrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	ingestDocuments *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed, by method, path and status code.",
		}, []string{"method", "path", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds, by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ingestDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sai",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents handled by the ingest endpoint, by outcome.",
		}, []string{"outcome"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sai",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingest requests in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// observeRequest records one completed HTTP request.
func (m *serverMetrics) observeRequest(method, path string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// observeIngest records the outcome counts of one ingest request.
func (m *serverMetrics) observeIngest(summary ingest.Summary, elapsed time.Duration) {
	m.ingestDocuments.WithLabelValues("submitted").Add(float64(summary.Submitted))
	m.ingestDocuments.WithLabelValues("failed").Add(float64(summary.Failed))
	m.ingestDocuments.WithLabelValues("skipped").Add(float64(summary.Skipped))
	m.ingestDuration.Observe(elapsed.Seconds())
}
