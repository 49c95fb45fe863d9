// Package monitoring provides metrics and observability for the news monitor backend
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed fetching metrics
	feedFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_feed_fetch_total",
			Help: "Total number of feed fetch attempts",
		},
		[]string{"source", "status"},
	)

	feedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_feed_fetch_duration_seconds",
			Help:    "Duration of feed fetch operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "status"},
	)

	feedItemsCount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_feed_items_count",
			Help:    "Number of items returned per feed fetch",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"source"},
	)

	// Aggregator search metrics
	searchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_search_requests_total",
			Help: "Total number of aggregator keyword searches",
		},
		[]string{"status"},
	)

	// Ingestion metrics
	articlesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_articles_ingested_total",
			Help: "Total number of articles handled by the upsert step",
		},
		[]string{"source", "outcome"},
	)

	// URL decode metrics
	decodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_url_decode_total",
			Help: "Total number of aggregator URL decode attempts by path",
		},
		[]string{"path"},
	)

	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_url_decode_duration_seconds",
			Help:    "Duration of aggregator URL decode attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Crawl metrics
	crawlTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_crawl_total",
			Help: "Total number of crawler calls",
		},
		[]string{"status"},
	)

	crawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_crawl_duration_seconds",
			Help:    "Duration of crawler calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// LLM metrics
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_llm_requests_total",
			Help: "Total number of LLM analysis calls",
		},
		[]string{"status"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_llm_request_duration_seconds",
			Help:    "Duration of LLM analysis calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)

	// Stream engine metrics
	activeStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsmon_active_streams",
			Help: "Number of currently running stream engines",
		},
		[]string{"stream"},
	)

	streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_stream_events_total",
			Help: "Total number of stream events emitted",
		},
		[]string{"stream", "type"},
	)

	// Scheduler metrics
	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_scheduler_runs_total",
			Help: "Total number of fetch pipeline runs",
		},
		[]string{"trigger", "status"},
	)

	schedulerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_scheduler_run_duration_seconds",
			Help:    "Duration of full fetch pipeline runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"trigger", "status"},
	)

	// Cache metrics
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"operation"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"operation"},
	)

	// Datastore metrics
	datastoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_datastore_operations_total",
			Help: "Total number of datastore operations",
		},
		[]string{"operation", "status"},
	)

	datastoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_datastore_operation_duration_seconds",
			Help:    "Duration of datastore operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsmon_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsmon_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordFeedFetch records metrics for a single feed or search fetch
func RecordFeedFetch(source, status string, duration float64, itemsCount int) {
	feedFetchTotal.WithLabelValues(source, status).Inc()
	feedFetchDuration.WithLabelValues(source, status).Observe(duration)
	if itemsCount >= 0 {
		feedItemsCount.WithLabelValues(source).Observe(float64(itemsCount))
	}
}

// RecordSearchRequest records an aggregator keyword search
func RecordSearchRequest(status string) {
	searchRequestsTotal.WithLabelValues(status).Inc()
}

// RecordArticlesIngested records upsert outcomes per source path
func RecordArticlesIngested(source, outcome string, count int) {
	if count > 0 {
		articlesIngestedTotal.WithLabelValues(source, outcome).Add(float64(count))
	}
}

// RecordDecode records a URL decode attempt. Path is one of passthrough,
// cache, direct, batch or failed.
func RecordDecode(path string, duration float64) {
	decodeTotal.WithLabelValues(path).Inc()
	decodeDuration.WithLabelValues(path).Observe(duration)
}

// RecordCrawl records a crawler call
func RecordCrawl(status string, duration float64) {
	crawlTotal.WithLabelValues(status).Inc()
	crawlDuration.WithLabelValues(status).Observe(duration)
}

// RecordLLMRequest records an LLM analysis call
func RecordLLMRequest(status string, duration float64) {
	llmRequestsTotal.WithLabelValues(status).Inc()
	llmRequestDuration.WithLabelValues(status).Observe(duration)
}

// StreamStarted increments the active gauge for a stream engine
func StreamStarted(stream string) {
	activeStreams.WithLabelValues(stream).Inc()
}

// StreamFinished decrements the active gauge for a stream engine
func StreamFinished(stream string) {
	activeStreams.WithLabelValues(stream).Dec()
}

// RecordStreamEvent records an emitted stream event
func RecordStreamEvent(stream, eventType string) {
	streamEventsTotal.WithLabelValues(stream, eventType).Inc()
}

// RecordSchedulerRun records a full fetch pipeline run
func RecordSchedulerRun(trigger, status string, duration float64) {
	schedulerRunsTotal.WithLabelValues(trigger, status).Inc()
	schedulerRunDuration.WithLabelValues(trigger, status).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit(operation string) {
	cacheHits.WithLabelValues(operation).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(operation string) {
	cacheMisses.WithLabelValues(operation).Inc()
}

// RecordDatastoreOperation records datastore operation metrics
func RecordDatastoreOperation(operation, status string, duration float64) {
	datastoreOperations.WithLabelValues(operation, status).Inc()
	datastoreOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration)
}
