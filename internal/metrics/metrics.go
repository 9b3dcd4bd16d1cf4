package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Optimizations counts optimization runs by entry point and the path that produced the result
	Optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_optimizations_total", Help: "Optimization runs by entry point and outcome."},
		[]string{"entry", "outcome"},
	)
	// MatrixBuilds counts travel matrices by the provider that produced them
	MatrixBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "travel_matrix_builds_total", Help: "Travel matrix builds by provider."},
		[]string{"provider"},
	)
	// RoutingRequests counts calls to the routing provider by endpoint and status
	RoutingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "routing_requests_total", Help: "Routing provider requests by endpoint and status."},
		[]string{"endpoint", "status"},
	)
	// SolverCalls counts solver calls by result (ok or failure kind)
	SolverCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solver_calls_total", Help: "Solver calls by result."},
		[]string{"result"},
	)
	// SolverLatency tracks solver round trips in seconds
	SolverLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solver_call_duration_seconds", Help: "Solver call duration in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30}},
	)
	// PlanEvents counts published plan events by type and reason
	PlanEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_plan_events_total", Help: "Route plan events published by type and reason."},
		[]string{"type", "reason"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Optimizations, MatrixBuilds, RoutingRequests, SolverCalls, SolverLatency, PlanEvents)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
