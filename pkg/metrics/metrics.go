// Package metrics exposes the orchestrator's Prometheus instrumentation
// on a private registry. All recording methods are nil-safe so callers
// can run without metrics wired (tests, embedded use).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
)

// Metrics holds the orchestrator's collectors.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns    *prometheus.CounterVec
	agentSteps      *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmCost         *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	activePipelines prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by intent and terminal status.",
		}, []string{"intent", "status"}),
		agentSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_steps_total",
			Help: "Agent step executions by agent key and terminal status.",
		}, []string{"agent", "status"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Finalized LLM tokens by provider, model and token kind.",
		}, []string{"provider", "model", "kind"}),
		llmCost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Finalized LLM spend in USD by provider and model.",
		}, []string{"provider", "model"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Wall-clock duration of agent steps.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"agent"}),
		activePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_pipelines",
			Help: "Pipelines currently executing.",
		}),
	}
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PipelineStarted increments the active-pipelines gauge.
func (m *Metrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.activePipelines.Inc()
}

// PipelineFinished records a terminal run and decrements the gauge.
func (m *Metrics) PipelineFinished(intent models.Intent, status string) {
	if m == nil {
		return
	}
	m.activePipelines.Dec()
	m.pipelineRuns.WithLabelValues(string(intent), status).Inc()
}

// StepFinished records one terminal step with its duration.
func (m *Metrics) StepFinished(agentKey string, status models.StepStatus, seconds float64) {
	if m == nil {
		return
	}
	m.agentSteps.WithLabelValues(agentKey, string(status)).Inc()
	m.stepDuration.WithLabelValues(agentKey).Observe(seconds)
}

// UsageFinalized records the billed tokens and cost of one LLM call.
func (m *Metrics) UsageFinalized(provider, model string, usage models.TokenUsage, cost float64) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	m.llmTokens.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	m.llmTokens.WithLabelValues(provider, model, "cache_creation").Add(float64(usage.CacheCreationInputTokens))
	m.llmTokens.WithLabelValues(provider, model, "cache_read").Add(float64(usage.CacheReadInputTokens))
	m.llmCost.WithLabelValues(provider, model).Add(cost)
}
