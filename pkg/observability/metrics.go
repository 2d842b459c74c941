package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	agentInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_agent_invocations_total",
			Help: "Total number of agent invocations",
		},
		[]string{"agent", "mode", "status"},
	)

	agentInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composer_agent_invocation_duration_seconds",
			Help:    "Agent invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	subAgentBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_subagent_batches_total",
			Help: "Total number of sub-agent batches executed",
		},
		[]string{"parent", "status"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composer_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	toolLoopCapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_tool_loop_iteration_cap_total",
			Help: "Tool loops stopped by the iteration cap",
		},
		[]string{"agent"},
	)

	// Model metrics
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_model_calls_total",
			Help: "Total number of model gateway calls",
		},
		[]string{"provider", "model", "kind", "status"},
	)

	modelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composer_model_call_duration_seconds",
			Help:    "Model gateway call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "model"},
	)

	modelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_model_tokens_total",
			Help: "Tokens consumed by model calls",
		},
		[]string{"provider", "model", "direction"},
	)

	// Context metrics
	contextResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_context_resolutions_total",
			Help: "Total number of context provider resolutions",
		},
		[]string{"provider", "status"},
	)

	// Pipeline metrics
	pipelineRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_pipeline_retries_total",
			Help: "Retry attempts made by pipeline stages",
		},
		[]string{"stage"},
	)

	sectionExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_section_extractions_total",
			Help: "Delimiter extractions by outcome",
		},
		[]string{"pattern", "outcome"},
	)

	initOnce sync.Once
)

// InitMetrics registers metrics with the default Prometheus registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			agentInvocationsTotal,
			agentInvocationDuration,
			subAgentBatchesTotal,
			toolCallsTotal,
			toolCallDuration,
			toolLoopCapsTotal,
			modelCallsTotal,
			modelCallDuration,
			modelTokensTotal,
			contextResolutionsTotal,
			pipelineRetriesTotal,
			sectionExtractionsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordAgentInvocation records an agent invocation
func RecordAgentInvocation(agent, mode string, err error, duration time.Duration) {
	agentInvocationsTotal.WithLabelValues(agent, mode, status(err)).Inc()
	agentInvocationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordSubAgentBatch records the outcome of one sub-agent batch
func RecordSubAgentBatch(parent string, err error) {
	subAgentBatchesTotal.WithLabelValues(parent, status(err)).Inc()
}

// RecordToolCall records a tool execution
func RecordToolCall(tool string, err error, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status(err)).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolLoopCap records a tool loop that hit its iteration cap
func RecordToolLoopCap(agent string) {
	toolLoopCapsTotal.WithLabelValues(agent).Inc()
}

// RecordModelCall records a model gateway call and its token usage
func RecordModelCall(provider, model, kind string, err error, duration time.Duration, promptTokens, completionTokens int) {
	modelCallsTotal.WithLabelValues(provider, model, kind, status(err)).Inc()
	modelCallDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		modelTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		modelTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordContextResolution records a context provider resolution
func RecordContextResolution(provider string, err error) {
	contextResolutionsTotal.WithLabelValues(provider, status(err)).Inc()
}

// RecordPipelineRetry records a retry attempt of a pipeline stage
func RecordPipelineRetry(stage string) {
	pipelineRetriesTotal.WithLabelValues(stage).Inc()
}

// RecordSectionExtraction records an extraction outcome ("ok" or "empty")
func RecordSectionExtraction(pattern, outcome string) {
	sectionExtractionsTotal.WithLabelValues(pattern, outcome).Inc()
}
