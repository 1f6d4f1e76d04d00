// Package metrics defines the Prometheus metric collectors used by the
// indexer and the searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	IndexReloadsTotal  *prometheus.CounterVec

	ArticlesParsedTotal  prometheus.Counter
	ArticlesSkippedTotal *prometheus.CounterVec
	DocsIndexedTotal     prometheus.Counter
	IndexQueueDepth      prometheus.Gauge
	BuildPhaseDuration   *prometheus.HistogramVec
	IndexDocuments       prometheus.Gauge
	IndexTerms           prometheus.Gauge
}

// New creates all collectors and registers them with reg. A nil reg uses the
// process-wide default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		IndexReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reloads_total",
				Help: "Index hot reloads by status.",
			},
			[]string{"status"},
		),
		ArticlesParsedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "build_articles_parsed_total",
				Help: "Articles emitted by the dump parser.",
			},
		),
		ArticlesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "build_articles_skipped_total",
				Help: "Articles not indexed, by reason (empty, namespace, failed).",
			},
			[]string{"reason"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "build_docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "build_queue_depth",
				Help: "Articles waiting between the parser and the workers.",
			},
		),
		BuildPhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "build_phase_duration_seconds",
				Help:    "Duration of index build phases.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"phase"},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Documents in the currently served index.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_terms",
				Help: "Distinct terms in the currently served index.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexReloadsTotal,
		m.ArticlesParsedTotal,
		m.ArticlesSkippedTotal,
		m.DocsIndexedTotal,
		m.IndexQueueDepth,
		m.BuildPhaseDuration,
		m.IndexDocuments,
		m.IndexTerms,
	)

	return m
}

// Handler returns the scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
