package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprout_agent_turns_total",
		Help: "Total number of conversation turns by outcome",
	}, []string{"outcome"})

	toolRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sprout_agent_tool_rounds",
		Help:    "Tool-execution rounds per completed turn",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
	})

	// Backend metrics
	backendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sprout_agent_backend_latency_seconds",
		Help:    "Reasoning backend call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"status"})

	// Tool metrics
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprout_agent_tool_invocations_total",
		Help: "Total number of tool invocations by tool and result kind",
	}, []string{"tool", "status"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sprout_agent_tool_latency_seconds",
		Help:    "Tool execution latency in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0, 600.0},
	}, []string{"tool"})
)

// RecordTurn records the outcome of one turn and, on success, how many tool rounds it took.
func RecordTurn(outcome string, rounds int) {
	turnsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		toolRounds.Observe(float64(rounds))
	}
}

// RecordBackendCall records one reasoning backend round trip.
func RecordBackendCall(started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	backendLatency.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// RecordToolInvocation records one executed tool call. status is "ok" or an error kind.
func RecordToolInvocation(tool, status string, started time.Time) {
	toolInvocations.WithLabelValues(tool, status).Inc()
	toolLatency.WithLabelValues(tool).Observe(time.Since(started).Seconds())
}
