// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// SagaTransitionsTotal counts order state machine transitions by the
	// resulting status (§4.1, §8 P1/P2).
	SagaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_transitions_total",
			Help: "Total number of order saga state transitions, by resulting status",
		},
		[]string{"status"},
	)

	// BusPublishedTotal counts messages published by exchange and routing key
	// (§4.7).
	BusPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_published_total",
			Help: "Total number of messages published to the bus",
		},
		[]string{"exchange", "routing_key"},
	)

	// BusConsumedTotal counts messages consumed by exchange, routing key, and
	// outcome (§7).
	BusConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_consumed_total",
			Help: "Total number of messages consumed from the bus, by outcome",
		},
		[]string{"exchange", "routing_key", "outcome"},
	)

	// FabricationJobsTotal counts fabrication jobs by piece type and outcome
	// (§4.5).
	FabricationJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabrication_jobs_total",
			Help: "Total number of fabrication jobs, by piece type and outcome",
		},
		[]string{"piece_type", "outcome"},
	)

	// SagaActiveOrders is a gauge of orders currently in a non-terminal
	// status (§8 P1).
	SagaActiveOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saga_active_orders",
			Help: "Number of orders currently in a non-terminal status",
		},
		[]string{"status"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SagaTransitionsTotal)
	prometheus.MustRegister(BusPublishedTotal)
	prometheus.MustRegister(BusConsumedTotal)
	prometheus.MustRegister(FabricationJobsTotal)
	prometheus.MustRegister(SagaActiveOrders)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordSagaTransition records an order reaching status.
func RecordSagaTransition(status string) {
	SagaTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordBusPublished records a successful publish on exchange/routingKey.
func RecordBusPublished(exchange, routingKey string) {
	BusPublishedTotal.WithLabelValues(exchange, routingKey).Inc()
}

// RecordBusConsumed records a bus outcome: "ack", "retry", or "dead_letter"
// for a consumed message, and "publish_error" for a publish the broker did
// not confirm.
func RecordBusConsumed(exchange, routingKey, outcome string) {
	BusConsumedTotal.WithLabelValues(exchange, routingKey, outcome).Inc()
}

// RecordFabricationJob records a fabrication job's outcome: "produced" or
// "failed".
func RecordFabricationJob(pieceType, outcome string) {
	FabricationJobsTotal.WithLabelValues(pieceType, outcome).Inc()
}

// SetActiveOrders sets the active-order gauge for a status.
func SetActiveOrders(status string, count float64) {
	SagaActiveOrders.WithLabelValues(status).Set(count)
}
