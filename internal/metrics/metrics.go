// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

var (
	searchesTotal              *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	rowsInsertedTotal          *prometheus.CounterVec
	productsScrapedTotal       *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	sessionsSweptTotal         prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insignia_searches_total",
				Help: "Total number of search requests, labeled by the returned status.",
			},
			[]string{"status"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insignia_jobs_total",
				Help: "Total number of analysis jobs finished, labeled by outcome.",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insignia_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, including the configured stage delay.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		)

		rowsInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insignia_rows_inserted_total",
				Help: "Total number of rows written by the pipeline, labeled by table.",
			},
			[]string{"table"},
		)

		productsScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insignia_products_scraped_total",
				Help: "Total number of products returned by marketplace adapters, labeled by platform.",
			},
			[]string{"platform"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "insignia_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		sessionsSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "insignia_sessions_swept_total",
				Help: "Total number of expired sessions removed by the sweeper.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "insignia_rate_limit_delay_seconds",
				Help:    "Time adapter calls spent waiting on the per-platform rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"platform"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// PlatformLabel maps a platform to a bounded label value.
func PlatformLabel(p insights.Platform) string {
	if !p.Valid() {
		return "unknown"
	}
	return string(p)
}

// ObserveSearch counts a search response by status.
func ObserveSearch(status insights.State) {
	searchesTotal.WithLabelValues(string(status)).Inc()
}

// ObserveJob increments the job counter for the given outcome.
func ObserveJob(status insights.JobState) {
	jobsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRows counts rows inserted into table.
func ObserveRows(table string, n int) {
	if n > 0 {
		rowsInsertedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveProducts counts products returned by a platform adapter.
func ObserveProducts(p insights.Platform, n int) {
	if n > 0 {
		productsScrapedTotal.WithLabelValues(PlatformLabel(p)).Add(float64(n))
	}
}

// ObserveSwept counts sessions removed by the sweeper.
func ObserveSwept(n int) {
	if n > 0 {
		sessionsSweptTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records time spent waiting for a platform token.
func ObserveRateLimitDelay(p insights.Platform, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(PlatformLabel(p)).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
