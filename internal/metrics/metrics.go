// Package metrics provides Prometheus instrumentation for the wager engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WagersOpened counts accepted wagers, partitioned by direction.
	WagersOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_opened_total",
		Help: "Total number of wagers opened",
	}, []string{"direction"})

	// WagerRejections counts rejected wager intents by reason.
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_rejections_total",
		Help: "Wager intents rejected, by reason",
	}, []string{"reason"})

	// WagersResolved counts resolved wagers, partitioned by outcome.
	WagersResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_resolved_total",
		Help: "Total number of wagers resolved",
	}, []string{"outcome"})

	// ResolutionsDeferred counts expired wagers left open because no price
	// observation existed for their pair at tick time.
	ResolutionsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_resolutions_deferred_total",
		Help: "Expired wagers deferred for lack of a price observation",
	})

	// ResolutionBatchFailures counts ledger batch writes that failed and
	// left their wagers open for retry.
	ResolutionBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_resolution_batch_failures_total",
		Help: "Resolution batches that failed to apply",
	})

	// OpenWagers tracks the number of currently open wagers across accounts.
	OpenWagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_open_current",
		Help: "Number of currently open wagers",
	})

	// SchedulerTickDuration tracks how long each resolution scan takes.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_scheduler_tick_seconds",
		Help:    "Resolution scheduler tick duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// FeedQuoteAge tracks how stale each pair's latest price observation
	// was when the scheduler consulted it.
	FeedQuoteAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wager_feed_quote_age_seconds",
		Help: "Age of the latest price observation at resolution time",
	}, []string{"pair"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
