package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Embedding generator metrics
	EmbeddingBatchLatency *prometheus.HistogramVec
	EmbeddingBatchesTotal *prometheus.CounterVec
	EmbeddingBatchSize    *prometheus.HistogramVec

	// Embedding cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   *prometheus.GaugeVec

	// Session metrics
	SessionsCreated   prometheus.Counter
	SessionsProcessed *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	FilesProcessed    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge

	// Dedupe metrics
	DuplicateGroupsFound prometheus.Histogram
	BytesReclaimable     prometheus.Counter

	// Vector search metrics
	SearchDuration *prometheus.HistogramVec
	SearchesTotal  *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBQueryDuration     *prometheus.HistogramVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Embedding generator metrics
		EmbeddingBatchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_batch_latency_seconds",
				Help:    "Embedding generator batch call latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"kind"},
		),
		EmbeddingBatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_batches_total",
				Help: "Total number of embedding generator batch calls",
			},
			[]string{"kind", "status"},
		),
		EmbeddingBatchSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_batch_size",
				Help:    "Number of payloads per generator batch call",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"kind"},
		),

		// Embedding cache metrics
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_cache_hits_total",
				Help: "Total number of embedding cache hits",
			},
			[]string{"tier"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_cache_misses_total",
				Help: "Total number of embedding cache misses",
			},
			[]string{"tier"},
		),
		CacheEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_cache_evictions_total",
				Help: "Total number of embedding cache evictions",
			},
			[]string{"tier"},
		),
		CacheEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "embedding_cache_entries",
				Help: "Current number of entries in the embedding cache",
			},
			[]string{"tier"},
		),

		// Session metrics
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_created_total",
				Help: "Total number of upload sessions created",
			},
		),
		SessionsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_processed_total",
				Help: "Total number of sessions processed by final status",
			},
			[]string{"status"},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "session_processing_duration_seconds",
				Help:    "End-to-end processing duration per session",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		FilesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_processed_total",
				Help: "Total number of files processed",
			},
			[]string{"status"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "worker_queue_depth",
				Help: "Number of sessions waiting in the work queue",
			},
		),

		// Dedupe metrics
		DuplicateGroupsFound: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "duplicate_groups_per_session",
				Help:    "Number of duplicate groups found per session",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		BytesReclaimable: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bytes_reclaimable_total",
				Help: "Total bytes identified as reclaimable duplicates",
			},
		),

		// Vector search metrics
		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vector_search_duration_seconds",
				Help:    "Vector similarity search duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_searches_total",
				Help: "Total number of vector similarity searches",
			},
			[]string{"kind", "status"},
		),

		// Database metrics
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_type"},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		// Track in-flight requests
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// Process request
		c.Next()

		// Record metrics
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
