// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts trade requests by side and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_trades_total",
		Help: "Total number of trade requests by outcome",
	}, []string{"side", "outcome"})

	// TradeLatency tracks the atomic execution time of committed trades.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeVolume tracks cumulative traded shares per ticker.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_trade_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"ticker", "side"})

	// SimulatorTicks counts scheduler ticks by result.
	SimulatorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_simulator_ticks_total",
		Help: "Price simulation ticks by result",
	}, []string{"result"})

	// SimulatorFloorRejections counts draws discarded by the price floor.
	SimulatorFloorRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_simulator_floor_rejections_total",
		Help: "Random-walk draws discarded by the price floor",
	})

	// ActiveInstruments is the number of active instruments seen by the last tick.
	ActiveInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_active_instruments",
		Help: "Number of active instruments at the last tick",
	})

	// NewsShocks counts applied news shocks by sector.
	NewsShocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_news_shocks_total",
		Help: "Applied sector news shocks",
	}, []string{"sector"})

	// HistoryPruned counts price points removed by the retention job.
	HistoryPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_price_history_pruned_total",
		Help: "Price history points deleted by retention",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsDispatched counts events delivered to the local registry by origin.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_events_dispatched_total",
		Help: "Events fanned out to local clients",
	}, []string{"type", "origin"})

	// EventsDropped counts events discarded because a queue or client buffer was full.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_events_dropped_total",
		Help: "Events dropped by the fan-out layer",
	}, []string{"reason"})

	// BusFailures counts pub/sub publish or decode failures.
	BusFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_bus_failures_total",
		Help: "Pub/sub bus failures",
	}, []string{"op"})

	// CacheRequests counts read-through cache lookups.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_cache_requests_total",
		Help: "Redis cache lookups by entity and result",
	}, []string{"entity", "result"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
