// Package orchestrator implements the agentic turn loop: it embeds a task,
// asks the Router for the top-k active capabilities, composes a prompt,
// and drives an aiclient.Client turn loop that dispatches exactly two
// tools — run_capability and mutate_capability — until the model returns
// a plain answer or max_steps is exhausted.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/executor"
	"github.com/forge-labs/capforge/internal/logging"
	"github.com/forge-labs/capforge/internal/metrics"
	"github.com/forge-labs/capforge/plugin"
	"github.com/forge-labs/capforge/router"
)

const (
	toolRunCapability    = "run_capability"
	toolMutateCapability = "mutate_capability"

	// failureThreshold is the consecutive run_capability failure count that
	// triggers automatic deprecation of a capability.
	failureThreshold = 2
)

// Executor is the subset of the executor package the orchestrator drives.
type Executor interface {
	Run(ctx context.Context, cap *capability.Capability, binaryPath, inputJSON string) (executor.Result, error)
}

// Synthesizer is the subset of the synth package the orchestrator drives
// for mutate_capability.
type Synthesizer interface {
	Synthesize(ctx context.Context, taskDescription, parentCapabilityID string) (newCapabilityID string, err error)
}

// Config bounds one Orchestrator's turn loop.
type Config struct {
	// MaxSteps bounds the number of LLM turns per task. Zero means 12.
	MaxSteps int
	// TopK bounds how many active capabilities the router surfaces in the
	// prompt. Zero means 5.
	TopK int
	// Model is passed through to every aiclient.Request.
	Model string
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 12
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	return c
}

// Orchestrator runs tasks to completion against a capability catalog.
type Orchestrator struct {
	cfg         Config
	catalog     *capability.Catalog
	index       *router.Index
	embedder    router.Embedder
	client      aiclient.Client
	executor    Executor
	synthesizer Synthesizer
	plugins     *plugin.Manager

	failures map[string]int
}

// New creates an Orchestrator. The catalog, index, and embedder are shared
// with the router package and mutated in place by Reload. The plugin
// manager starts empty; register plugins with RegisterPlugin before the
// first Run.
func New(cfg Config, catalog *capability.Catalog, index *router.Index, embedder router.Embedder, client aiclient.Client, executor Executor, synthesizer Synthesizer) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		catalog:     catalog,
		index:       index,
		embedder:    embedder,
		client:      client,
		executor:    executor,
		synthesizer: synthesizer,
		plugins:     plugin.NewManager(),
		failures:    make(map[string]int),
	}
}

// RegisterPlugin registers a plugin at the given tool-call lifecycle stage.
func (o *Orchestrator) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	return o.plugins.Register(stage, p)
}

// tools returns the two tool definitions exposed to the LLM, matching the
// argument schemas below. tool_choice is left to the aiclient adapter's
// default, which every adapter here treats as "auto".
func tools() []aiclient.Tool {
	return []aiclient.Tool{
		{
			Name:        toolRunCapability,
			Description: "Run a capability by id with the given JSON input, returning its stdout.",
			Parameters: mustSchema(`{
				"type": "object",
				"properties": {
					"capability_id": {"type": "string"},
					"input_json": {"type": "string"}
				},
				"required": ["capability_id", "input_json"]
			}`),
		},
		{
			Name:        toolMutateCapability,
			Description: "Synthesize a new capability from a task description, optionally imitating a parent capability.",
			Parameters: mustSchema(`{
				"type": "object",
				"properties": {
					"task_description": {"type": "string"},
					"parent_capability_id": {"type": "string"}
				},
				"required": ["task_description"]
			}`),
		},
	}
}

func mustSchema(s string) json.RawMessage {
	return json.RawMessage(s)
}

// compiledSchemas validates tool-call arguments against the schemas above
// before dispatch, so a malformed call is rejected with a clear message
// rather than panicking deep in argument unmarshaling.
var compiledSchemas = compileToolSchemas()

type toolSchemas struct {
	runCapability    *jsonschema.Schema
	mutateCapability *jsonschema.Schema
}

func compileToolSchemas() toolSchemas {
	compiler := jsonschema.NewCompiler()
	defs := tools()
	var out toolSchemas
	for _, t := range defs {
		res := fmt.Sprintf("mem://%s.json", t.Name)
		if err := compiler.AddResource(res, mustDecode(t.Parameters)); err != nil {
			panic(fmt.Sprintf("orchestrator: compiling schema for %s: %v", t.Name, err))
		}
		sch, err := compiler.Compile(res)
		if err != nil {
			panic(fmt.Sprintf("orchestrator: compiling schema for %s: %v", t.Name, err))
		}
		switch t.Name {
		case toolRunCapability:
			out.runCapability = sch
		case toolMutateCapability:
			out.mutateCapability = sch
		}
	}
	return out
}

func mustDecode(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		panic(fmt.Sprintf("orchestrator: decoding schema literal: %v", err))
	}
	return v
}

// ErrMaxStepsExceeded is returned when the turn loop exhausts MaxSteps
// without the model producing a plain answer.
type ErrMaxStepsExceeded struct {
	MaxSteps int
}

func (e *ErrMaxStepsExceeded) Error() string {
	return fmt.Sprintf("orchestrator: exceeded max_steps (%d) without a final answer", e.MaxSteps)
}

// Run drives the turn loop for a single task to completion, returning the
// model's final plain-text answer.
func (o *Orchestrator) Run(ctx context.Context, task string) (string, error) {
	matches, err := router.Query(ctx, o.index, o.catalog, o.embedder, task, o.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("orchestrator: routing task: %w", err)
	}

	system := buildSystemPrompt(matches)
	input := []aiclient.Item{aiclient.NewUserMessage(task)}

	for step := 0; step < o.cfg.MaxSteps; step++ {
		resp, err := o.client.Complete(ctx, aiclient.Request{
			Model:  o.cfg.Model,
			System: system,
			Input:  input,
			Tools:  tools(),
		})
		if err != nil {
			return "", fmt.Errorf("orchestrator: llm transport: %w", err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			metrics.OrchestratorTurnsTotal.WithLabelValues("answer").Inc()
			return resp.Text(), nil
		}
		metrics.OrchestratorTurnsTotal.WithLabelValues("tool_call").Inc()

		input = append(input, resp.Output...)

		for _, call := range calls {
			output, isError := o.dispatch(ctx, call)
			input = append(input, aiclient.NewFunctionCallOutput(call.CallID, output, isError))

			if call.Name == toolMutateCapability && !isError {
				if err := o.reload(ctx); err != nil {
					return "", fmt.Errorf("orchestrator: reloading catalog after synthesis: %w", err)
				}
				system = buildSystemPrompt(mustRequery(ctx, o, task))
			}
		}
	}

	metrics.OrchestratorTurnsTotal.WithLabelValues("max_steps_exceeded").Inc()
	return "", &ErrMaxStepsExceeded{MaxSteps: o.cfg.MaxSteps}
}

func mustRequery(ctx context.Context, o *Orchestrator, task string) []router.Match {
	matches, err := router.Query(ctx, o.index, o.catalog, o.embedder, task, o.cfg.TopK)
	if err != nil {
		logging.Logger.Warn("orchestrator: re-querying router after reload failed", "error", err)
		return nil
	}
	return matches
}

// reload reloads the catalog from disk and rebuilds the router index.
// Spec: catalog reload is only performed between turns, never mid-turn.
func (o *Orchestrator) reload(ctx context.Context) error {
	reloaded, err := capability.Load(o.catalog.Root())
	if err != nil {
		return err
	}
	*o.catalog = *reloaded
	return router.Sync(ctx, o.index, o.catalog, o.embedder)
}

func buildSystemPrompt(matches []router.Match) string {
	prompt := "You are an agent that solves tasks by running or synthesizing capabilities.\n" +
		"Available capabilities:\n"
	for _, m := range matches {
		prompt += fmt.Sprintf("- %s: %s\n", m.Capability.ID, m.Capability.Summary)
	}
	return prompt
}
