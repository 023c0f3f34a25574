package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the agent core. Registered once at package
// init via promauto; exposed through ServeMetrics.
var (
	// TaskIterations counts LLM iterations per finished task, by outcome.
	TaskIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidekick_task_iterations",
			Help:    "LLM iterations consumed by a task before reaching a terminal state",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		},
		[]string{"outcome"},
	)

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidekick_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	// ToolExecutions counts tool invocations by tool and status.
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_tool_executions_total",
			Help: "Total tool executions by tool name and status",
		},
		[]string{"tool", "status"},
	)

	// LLMRequestDuration measures chat call latency per endpoint.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sidekick_llm_request_duration_seconds",
			Help:    "Duration of LLM chat requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint", "model"},
	)

	// EndpointFailovers counts endpoint attempts that fell through, by
	// failure classification.
	EndpointFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidekick_endpoint_failovers_total",
			Help: "Endpoint attempts that failed and fell through to the next endpoint",
		},
		[]string{"endpoint", "kind"},
	)

	// ActiveTasks gauges tasks currently in a non-terminal state.
	ActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidekick_active_tasks",
			Help: "Tasks currently in a non-terminal state",
		},
	)

	// CompressionPasses counts context compression runs.
	CompressionPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sidekick_compression_passes_total",
			Help: "Context compression passes performed",
		},
	)
)

// ServeMetrics exposes the default registry on addr at /metrics. Blocks;
// callers run it in a goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
