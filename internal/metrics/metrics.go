// Package metrics defines Prometheus metrics for seovault.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seovault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seovault_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seovault_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	// GatewayActions counts gateway invocations by action and terminal state.
	GatewayActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seovault_gateway_actions_total",
			Help: "Gateway action invocations by outcome",
		},
		[]string{"action", "outcome"},
	)

	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seovault_gateway_action_duration_seconds",
			Help:    "Gateway action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	RateLimitDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seovault_ratelimit_denied_total",
			Help: "Requests denied by a rate limit",
		},
		[]string{"action"},
	)

	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seovault_audit_write_failures_total",
			Help: "Audit events that could not be persisted",
		},
		[]string{"event_type"},
	)

	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seovault_audit_queue_depth",
			Help: "Current async audit queue depth",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seovault_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		GatewayActions, GatewayDuration,
		RateLimitDenied, AuditWriteFailures, AuditQueueDepth,
		WSConnections,
	)
}
