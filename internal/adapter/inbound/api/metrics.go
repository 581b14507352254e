// Package api provides the ingress HTTP adapter: the /run endpoint, health
// probe, and Prometheus exposition.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway metric families. Pass to components that need to
// record decisions.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	ToolCallsTotal *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tool_gateway",
				Name:      "decisions_total",
				Help:      "Total gateway decisions by outcome",
			},
			[]string{"decision"}, // allowed/denied/approval_required
		),
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tool_gateway",
				Name:      "tool_calls_total",
				Help:      "Total tool calls by tool name",
			},
			[]string{"tool"},
		),
		LatencyMS: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tool_gateway",
				Name:      "latency_ms",
				Help:      "End-to-end decision latency in milliseconds",
				Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			[]string{"tool"},
		),
	}
}

// RecordDecision counts one terminal decision.
func (m *Metrics) RecordDecision(decision string) {
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordToolCall counts one tool call and observes its latency.
func (m *Metrics) RecordToolCall(toolName string, latencyMS float64) {
	m.ToolCallsTotal.WithLabelValues(toolName).Inc()
	m.LatencyMS.WithLabelValues(toolName).Observe(latencyMS)
}
