// Package metrics registers the Prometheus metrics used by the runtime.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capability execution counters and histograms.
var (
	// CapabilityRunsTotal counts run_capability dispatches labelled by
	// capability id and outcome ("success", "error").
	CapabilityRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_capability_runs_total",
			Help: "Total number of run_capability dispatches, by capability id and outcome.",
		},
		[]string{"capability_id", "status"},
	)

	// CapabilityRunDuration observes sandboxed executor wall time in seconds.
	CapabilityRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capforge_capability_run_duration_seconds",
			Help:    "Capability execution duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"capability_id"},
	)

	// CapabilityDeprecationsTotal counts deprecations, by whether they were
	// triggered manually (admin API) or automatically (failure threshold).
	CapabilityDeprecationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_capability_deprecations_total",
			Help: "Total capability deprecations, by trigger.",
		},
		[]string{"trigger"},
	)

	// SynthesisAttemptsTotal counts mutate_capability synthesis attempts, by
	// outcome ("promoted", "failed").
	SynthesisAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_synthesis_attempts_total",
			Help: "Total capability synthesis attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// SynthesisBuildFailuresTotal counts cargo build failures encountered
	// during synthesis coder loops.
	SynthesisBuildFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capforge_synthesis_build_failures_total",
			Help: "Total cargo build failures during capability synthesis.",
		},
	)

	// SynthesisTestFailuresTotal counts cargo test failures encountered
	// during synthesis coder/tester loops.
	SynthesisTestFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capforge_synthesis_test_failures_total",
			Help: "Total cargo test failures during capability synthesis.",
		},
	)

	// OrchestratorTurnsTotal counts completed orchestrator LLM turns, by
	// outcome ("answer", "tool_call", "max_steps_exceeded").
	OrchestratorTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_orchestrator_turns_total",
			Help: "Total orchestrator turn-loop iterations, by outcome.",
		},
		[]string{"outcome"},
	)

	// LLMCostUSD accumulates estimated spend, by backend and model.
	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_llm_cost_usd_total",
			Help: "Estimated cumulative LLM spend in USD, by backend and model.",
		},
		[]string{"backend", "model"},
	)

	// LLMBackendErrorsTotal counts aiclient transport errors, by backend and
	// error type ("transport_error", "circuit_open").
	LLMBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_llm_backend_errors_total",
			Help: "Total LLM backend errors by type.",
		},
		[]string{"backend", "error_type"},
	)

	// LLMBackendCircuitState tracks per-backend circuit breaker state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	LLMBackendCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capforge_llm_backend_circuit_state",
			Help: "LLM backend circuit breaker state (0=closed 1=open 2=half_open).",
		},
		[]string{"backend"},
	)

	// PluginRejectionsTotal counts tool calls rejected by a before_request
	// plugin, labelled by the rejected tool name.
	PluginRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capforge_plugin_rejections_total",
			Help: "Total tool calls rejected by a before_request plugin.",
		},
		[]string{"tool"},
	)
)
