// Package metrics exposes Prometheus collectors for the scrape service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapePagesTotal           *prometheus.CounterVec
	scrapeNegativeCacheHits    prometheus.Counter
	scrapeEscalationsTotal     *prometheus.CounterVec
	scrapeFetchDurationSeconds *prometheus.HistogramVec
	scrapeDocumentsReturned    prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_pages_total",
				Help: "Total number of candidate pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrapeNegativeCacheHits = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_negative_cache_hits_total",
				Help: "Total number of fetches skipped due to a live negative-cache entry.",
			},
		)

		scrapeEscalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_escalations_total",
				Help: "Total number of rendered-fetch escalations, labeled by result.",
			},
			[]string{"result"},
		)

		scrapeFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by fetch mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		scrapeDocumentsReturned = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrape_documents_returned",
				Help:    "Histogram of documents returned per search query.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
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

// ObservePage increments the per-page outcome counter.
func ObservePage(outcome string) {
	scrapePagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveNegativeCacheHit increments the skipped-fetch counter.
func ObserveNegativeCacheHit() {
	scrapeNegativeCacheHits.Inc()
}

// ObserveEscalation increments the escalation counter for the given result
// ("replaced", "kept_initial", "rejected").
func ObserveEscalation(result string) {
	scrapeEscalationsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchDuration records a fetch latency for a mode ("http" or "browser").
func ObserveFetchDuration(mode string, duration time.Duration) {
	scrapeFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveDocumentsReturned records the document count of a completed query.
func ObserveDocumentsReturned(count int) {
	scrapeDocumentsReturned.Observe(float64(count))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
