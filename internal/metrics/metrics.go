package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors. A single instance is
// created in main and threaded through the API and pipelines.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	chunksIngested   prometheus.Counter
	embeddingRetries prometheus.Counter
	queryDuration    prometheus.Histogram

	refsProcessed *prometheus.CounterVec
	refQueueDepth prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refind_http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refind_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refind_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		chunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "refind_chunks_ingested_total",
			Help: "Chunks embedded and added to the vector index.",
		}),
		embeddingRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "refind_embedding_retries_total",
			Help: "Embedding calls retried after a rate limit response.",
		}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "refind_query_duration_seconds",
			Help:    "End to end query latency including retrieval and generation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		refsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "refind_references_processed_total",
			Help: "Reference ingestion outcomes by status.",
		}, []string{"status"}),
		refQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "refind_reference_queue_depth",
			Help: "References waiting in the ingestion queue.",
		}),
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ChunksIngested(n int) {
	m.chunksIngested.Add(float64(n))
}

// EmbeddingRetry satisfies the embedding client's retry observer.
func (m *Metrics) EmbeddingRetry() {
	m.embeddingRetries.Inc()
}

func (m *Metrics) ObserveQuery(d time.Duration) {
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) ReferenceProcessed(status string) {
	m.refsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) SetRefQueueDepth(n int) {
	m.refQueueDepth.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, latency and in-flight gauge for every
// handler it wraps. The path label uses the registered route pattern, not the
// raw URL, to keep cardinality bounded.
func (m *Metrics) Middleware(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
