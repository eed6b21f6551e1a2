// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestPagesTotal             *prometheus.CounterVec
	ingestFetchBytesTotal        *prometheus.CounterVec
	ingestDocumentsTotal         *prometheus.CounterVec
	ingestChunksUpsertedTotal    *prometheus.CounterVec
	ingestFeedPostsTotal         *prometheus.CounterVec
	ingestCleanupRunsTotal       *prometheus.CounterVec
	ingestTasksTotal             *prometheus.CounterVec
	ingestRunDurationSeconds     *prometheus.HistogramVec
	ingestInflightFetches        prometheus.Gauge
	ingestRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		ingestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_pages_total",
				Help: "Total number of crawl fetch outcomes, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		ingestFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		ingestDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Documents processed by the indexer, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		ingestChunksUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_chunks_upserted_total",
				Help: "Chunks written to the vector store, labeled by source.",
			},
			[]string{"source"},
		)

		ingestFeedPostsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_feed_posts_total",
				Help: "Feed posts seen, labeled by page and status.",
			},
			[]string{"page", "status"},
		)

		ingestCleanupRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cleanup_runs_total",
				Help: "Retention cleanup executions, labeled by status.",
			},
			[]string{"status"},
		)

		ingestTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_tasks_total",
				Help: "Orchestrated task executions, labeled by task and status.",
			},
			[]string{"task", "status"},
		)

		ingestRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of orchestrated run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"period", "status"},
		)

		ingestInflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_inflight_fetches",
				Help: "Number of crawl fetch tasks currently running.",
			},
		)

		ingestRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one crawl fetch outcome for a site.
func ObservePage(site, status string, bytesFetched int) {
	Init()
	ingestPagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		ingestFetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveDocument records an indexer outcome.
func ObserveDocument(source, outcome string, chunks int) {
	Init()
	ingestDocumentsTotal.WithLabelValues(source, outcome).Inc()
	if chunks > 0 {
		ingestChunksUpsertedTotal.WithLabelValues(source).Add(float64(chunks))
	}
}

// ObserveFeedPost records a feed post outcome.
func ObserveFeedPost(page, status string) {
	Init()
	ingestFeedPostsTotal.WithLabelValues(page, status).Inc()
}

// ObserveCleanup records a retention cleanup execution.
func ObserveCleanup(status string) {
	Init()
	ingestCleanupRunsTotal.WithLabelValues(status).Inc()
}

// ObserveTask records a task completion.
func ObserveTask(task, status string) {
	Init()
	ingestTasksTotal.WithLabelValues(task, status).Inc()
}

// ObserveRun records the duration of an orchestrated run.
func ObserveRun(period, status string, duration time.Duration) {
	Init()
	ingestRunDurationSeconds.WithLabelValues(period, status).Observe(duration.Seconds())
}

// IncInflightFetches increments the in-flight fetch gauge.
func IncInflightFetches() {
	Init()
	ingestInflightFetches.Inc()
}

// DecInflightFetches decrements the in-flight fetch gauge.
func DecInflightFetches() {
	Init()
	ingestInflightFetches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	ingestRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
