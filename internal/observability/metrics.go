package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus collector set for one process, mounted at
// GET /metrics by internal/server (grounded on the donor's
// promauto.New*+gateway/http_server.go's promhttp.Handler() mount).
// Field set is scoped to this module's domain: generation steps, tool
// executions, live sessions, and SSE subscribers.
type Metrics struct {
	// Steps counts Session.Step invocations by outcome (started,
	// completed, interrupted, error).
	Steps *prometheus.CounterVec

	// ToolExecutions counts tool dispatches by tool name and status
	// (completed, skipped, failed).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool dispatch latency in seconds,
	// labeled by tool name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveSessions is the current count of tracked sessions.
	ActiveSessions prometheus.Gauge

	// SSEClients is the current count of subscribed SSE connections.
	SSEClients prometheus.Gauge

	// HTTPRequestDuration measures API request latency, labeled by
	// method, route pattern, and status code.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector against reg and returns the
// bound Metrics. Pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_session_steps_total",
				Help: "Total number of session generation steps by outcome",
			},
			[]string{"outcome"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiln_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kiln_active_sessions",
				Help: "Current number of tracked HTTP sessions",
			},
		),
		SSEClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kiln_sse_clients",
				Help: "Current number of subscribed SSE connections",
			},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kiln_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),
	}
}
