// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlement attempts by result
	// (committed, failed, stale).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikesim_settlements_total",
		Help: "Total number of month settlements attempted",
	}, []string{"result"})

	// SettlementLatency tracks the time from claim to commit.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bikesim_settlement_latency_seconds",
		Help:    "Month settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"structure"})

	// SubmissionsTotal counts accepted submissions by source
	// (human, ai, auto).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikesim_submissions_total",
		Help: "Total number of accepted turn submissions",
	}, []string{"source"})

	// LimitRejections counts submissions rejected by the stock and budget limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikesim_limit_rejections_total",
		Help: "Submissions rejected by the stock and budget limiter",
	})

	// AIFallbacks counts AI decisions replaced by the conservative default.
	AIFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikesim_ai_fallbacks_total",
		Help: "AI decisions replaced by the default decision set",
	})

	// Bankruptcies counts eliminated participants.
	Bankruptcies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bikesim_bankruptcies_total",
		Help: "Participants eliminated by bankruptcy",
	})

	// ActiveGames tracks the number of games still being played.
	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bikesim_active_games",
		Help: "Number of games not yet completed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bikesim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// UnitsSold tracks cumulative units sold per product line.
	UnitsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikesim_units_sold_total",
		Help: "Cumulative units sold across games",
	}, []string{"product_line"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bikesim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bikesim_http_request_duration_seconds",
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

		path := RoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RoutePattern returns the chi route pattern of a served request, so game
// IDs never become label values. Unrouted requests report "unmatched".
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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
