package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the orchestrator's Prometheus instrumentation. It
// tracks:
//   - RPC call volume and latency per knowledge server and tool
//   - LLM request volume, latency, and token usage per provider/model
//   - regional search fan-out outcomes
//   - drug enrichment lookup outcomes
//   - end-to-end workflow duration and outcome
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.RPCCallDuration(server, tool).Observe(time.Since(start).Seconds())
type Metrics struct {
	// RPCCallCounter counts tool calls dispatched through a session.
	// Labels: server, tool, status (success|error)
	RPCCallCounter *prometheus.CounterVec

	// RPCCallDuration measures tool call latency in seconds.
	// Labels: server, tool
	RPCCallDuration *prometheus.HistogramVec

	// SessionOpenCounter counts knowledge-server session open attempts.
	// Labels: server, status (success|error)
	SessionOpenCounter *prometheus.CounterVec

	// LLMRequestCounter counts LLM requests by provider, model, status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// ToolLoopIterations records how many assistant/tool_use iterations a
	// single driver run took before terminating.
	ToolLoopIterations prometheus.Histogram

	// SearchFanoutCounter counts individual regional search outcomes.
	// Labels: result_key, status (success|error)
	SearchFanoutCounter *prometheus.CounterVec

	// SearchResultCount records the post-dedup, post-truncation hit count
	// per bucket, for spotting regions that systematically under-return.
	// Labels: result_key
	SearchResultCount *prometheus.HistogramVec

	// DrugEnrichmentCounter counts per-drug enrichment lookup outcomes.
	// Labels: status (resolved|unresolved)
	DrugEnrichmentCounter *prometheus.CounterVec

	// WorkflowDuration measures Analyze/AnalyzeLegacy wall-clock time.
	// Labels: region, path (c9|c10), outcome (ok|warning|error)
	WorkflowDuration *prometheus.HistogramVec

	// WorkflowCounter counts workflow runs by the same labels.
	WorkflowCounter *prometheus.CounterVec
}

// NewMetrics creates and registers every metric with Prometheus's default
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RPCCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_rpc_calls_total",
				Help: "Total tool calls dispatched through a knowledge-server session, by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),

		RPCCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cds_rpc_call_duration_seconds",
				Help:    "Latency of a single tool call over the stdio transport",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"server", "tool"},
		),

		SessionOpenCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_session_opens_total",
				Help: "Knowledge-server session open attempts, by server and status",
			},
			[]string{"server", "status"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cds_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ToolLoopIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cds_tool_loop_iterations",
				Help:    "Number of assistant/tool_use iterations a driver run took before terminating",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 16},
			},
		),

		SearchFanoutCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_search_fanout_total",
				Help: "Individual regional search outcomes by result bucket and status",
			},
			[]string{"result_key", "status"},
		),

		SearchResultCount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cds_search_result_count",
				Help:    "Post-dedup, post-truncation hit count per result bucket",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"result_key"},
		),

		DrugEnrichmentCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_drug_enrichment_total",
				Help: "Per-drug BNF enrichment lookup outcomes",
			},
			[]string{"status"},
		),

		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cds_workflow_duration_seconds",
				Help:    "End-to-end Analyze/AnalyzeLegacy duration",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"region", "path", "outcome"},
		),

		WorkflowCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cds_workflow_runs_total",
				Help: "Workflow runs by region, pipeline path, and outcome",
			},
			[]string{"region", "path", "outcome"},
		),
	}
}
