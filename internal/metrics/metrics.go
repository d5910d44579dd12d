// Package metrics provides Prometheus instrumentation for the rebalance engine.
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
	// PositionsCreated counts positions created.
	PositionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_positions_created_total",
		Help: "Total number of liquidity positions created",
	})

	// DecisionsCreated counts decisions created, partitioned by risk tier.
	DecisionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_decisions_created_total",
		Help: "Total number of rebalance decisions created",
	}, []string{"tier"})

	// Approvals counts human approvals granted, partitioned by risk tier.
	Approvals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_approvals_total",
		Help: "Total number of human approvals granted",
	}, []string{"tier"})

	// Executions counts rebalances executed, partitioned by risk tier.
	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_executions_total",
		Help: "Total number of rebalances executed",
	}, []string{"tier"})

	// OperationLatency tracks engine operation latency, including rejected calls.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Rejections counts operations rejected, by operation and error code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_rejections_total",
		Help: "Operations rejected by engine checks",
	}, []string{"operation", "code"})

	// FeesCollected tracks cumulative fees paid out, by payout kind.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_fees_collected_total",
		Help: "Cumulative fees distributed in base units",
	}, []string{"kind"})

	// WebSocketClients tracks connected audit stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rebalancer_websocket_clients",
		Help: "Number of connected audit stream clients",
	})

	// AuditFailures counts audit sink errors. Failures never roll back a commit.
	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_audit_failures_total",
		Help: "Audit events a sink failed to record",
	})

	// AuditDropped counts events dropped by the stream hub under back-pressure.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rebalancer_audit_dropped_total",
		Help: "Audit events dropped for stream subscribers",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
