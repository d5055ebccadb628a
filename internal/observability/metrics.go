// Package observability collects Prometheus metrics for LLM requests, tool
// executions, and HTTP traffic, and serves them at GET /metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector AgentSmithy registers. A nil
// *Metrics is never passed around; callers that don't want metrics wiring
// simply don't call NewMetrics and leave the optional Observer fields unset.
type Metrics struct {
	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	activeDialogs prometheus.Gauge
}

// NewMetrics registers every collector against reg. Pass prometheus.NewRegistry()
// for test isolation, or prometheus.DefaultRegisterer for a real process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsmithy_llm_requests_total",
			Help: "Total LLM completion requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsmithy_llm_request_duration_seconds",
			Help:    "Duration of LLM completion requests in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsmithy_tool_executions_total",
			Help: "Total tool calls by tool name and outcome.",
		}, []string{"tool_name", "status"}),

		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsmithy_tool_execution_duration_seconds",
			Help:    "Duration of tool calls in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsmithy_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status_code"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentsmithy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),

		activeDialogs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentsmithy_active_dialogs",
			Help: "Number of dialogs with a cached turn loop in memory.",
		}),
	}
}

// ObserveLLMRequest satisfies internal/agentloop's LLMObserver.
func (m *Metrics) ObserveLLMRequest(provider, model, status string, duration time.Duration) {
	m.llmRequests.WithLabelValues(provider, model, status).Inc()
	m.llmDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// ObserveToolCall satisfies internal/toolexec's Observer.
func (m *Metrics) ObserveToolCall(toolName string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.toolExecutions.WithLabelValues(toolName, status).Inc()
	m.toolDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one completed HTTP request. route should be the
// matched pattern (e.g. "/api/dialogs/{id}"), not the raw path, to keep
// cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetActiveDialogs reports the current number of dialogs with an in-memory
// turn loop.
func (m *Metrics) SetActiveDialogs(n int) {
	m.activeDialogs.Set(float64(n))
}

// Handler returns the promhttp handler exposing every registered collector.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
