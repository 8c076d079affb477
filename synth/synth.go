// Package synth implements the capability synthesis pipeline: derive a
// fresh id, scaffold a deliberately-broken crate, run a coder sub-agent
// against the same aiclient.Client the orchestrator uses (with a richer
// tool surface), and promote the crate to an Active capability only once
// its three-gate completion precondition (code_written, build_ok, test_ok)
// is satisfied. Implements orchestrator.Synthesizer.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/internal/logging"
	"github.com/forge-labs/capforge/internal/metrics"
)

// maxSummaryLen bounds the task-description fallback used as a capability's
// final summary when the coder never wrote one of its own.
const maxSummaryLen = 200

// Options configures one Synthesizer.
type Options struct {
	// MaxSteps bounds the coder sub-agent's turn count. Zero means 30.
	MaxSteps int
	// Model is passed through to every aiclient.Request.
	Model string
	// SeparateTester opts into the scope-separated refinement from spec §9:
	// a Coder phase restricted to src/ (plus the manifest), followed by a
	// Tester phase restricted to tests/. The default (false) runs a single
	// unified coder with no path restriction.
	SeparateTester bool
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = 30
	}
	return o
}

// Synthesizer drives the synthesis pipeline for one catalog.
type Synthesizer struct {
	cfg     Options
	catalog *capability.Catalog
	client  aiclient.Client
	builder Builder
	http    *http.Client
}

// New creates a Synthesizer. builder may be nil, defaulting to CargoBuilder.
func New(cfg Options, catalog *capability.Catalog, client aiclient.Client, builder Builder) *Synthesizer {
	if builder == nil {
		builder = CargoBuilder{}
	}
	return &Synthesizer{
		cfg:     cfg.withDefaults(),
		catalog: catalog,
		client:  client,
		builder: builder,
		http:    &http.Client{},
	}
}

// ErrSynthesisIncomplete is returned when the coder sub-agent exhausts
// MaxSteps without reaching a fully-gated completion. No partial artifact
// is promoted.
type ErrSynthesisIncomplete struct {
	CapabilityID string
	MaxSteps     int
}

func (e *ErrSynthesisIncomplete) Error() string {
	return fmt.Sprintf("synth: %s: exhausted max_steps (%d) without a gated completion", e.CapabilityID, e.MaxSteps)
}

// Synthesize implements orchestrator.Synthesizer. On success it returns the
// new capability's id, already registered Active in the shared catalog; on
// failure it returns an error and the catalog is left untouched.
func (s *Synthesizer) Synthesize(ctx context.Context, taskDescription, parentCapabilityID string) (string, error) {
	id := resolveName(taskDescription, func(candidate string) bool {
		if s.catalog.Has(candidate) {
			return true
		}
		_, err := os.Stat(filepath.Join(s.catalog.Root(), "crates", candidate))
		return err == nil
	})

	dir, err := scaffold(s.catalog.Root(), id)
	if err != nil {
		metrics.SynthesisAttemptsTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	parentHint := s.parentHint(parentCapabilityID)

	var summary string
	if s.cfg.SeparateTester {
		summary, err = s.runTwoPhase(ctx, id, dir, taskDescription, parentHint)
	} else {
		summary, err = s.runUnified(ctx, id, dir, taskDescription, parentHint)
	}
	if err != nil {
		metrics.SynthesisAttemptsTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	if err := promote(dir, taskDescription, summary); err != nil {
		metrics.SynthesisAttemptsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("synth: promoting %s: %w", id, err)
	}
	if _, err := s.catalog.RegisterNew(dir); err != nil {
		metrics.SynthesisAttemptsTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("synth: registering %s: %w", id, err)
	}
	metrics.SynthesisAttemptsTotal.WithLabelValues("promoted").Inc()
	if parentCapabilityID != "" && s.catalog.Has(parentCapabilityID) {
		if err := s.catalog.MarkLegacy(parentCapabilityID, id); err != nil {
			logging.Logger.Warn("synth: superseding parent failed", "parent", parentCapabilityID, "new", id, "error", err)
		}
	}
	return id, nil
}

// parentHint reads the parent capability's lib.rs (if present) so the coder
// prompt can offer it as an imitation source, per spec §4.5 step 3.
func (s *Synthesizer) parentHint(parentID string) string {
	if parentID == "" {
		return ""
	}
	parent, ok := s.catalog.Get(parentID)
	if !ok {
		return ""
	}
	src := filepath.Join(parent.Dir(), "src", "lib.rs")
	data, err := os.ReadFile(src) //nolint:gosec
	if err != nil {
		return fmt.Sprintf("A nearby capability %q exists (%s) but its source could not be read: %v", parentID, parent.Summary, err)
	}
	excerpt := string(data)
	if len(excerpt) > 2000 {
		excerpt = excerpt[:2000] + "\n...(truncated)"
	}
	return fmt.Sprintf("Nearby capability %q (%s) source, for imitation:\n```rust\n%s\n```", parentID, parent.Summary, excerpt)
}

// runUnified runs the default single-coder loop with no write_file scope
// restriction.
func (s *Synthesizer) runUnified(ctx context.Context, id, dir, task, parentHint string) (string, error) {
	sess := &session{id: id, dir: dir, gates: &gates{}, scope: unrestrictedScope(), builder: s.builder, httpClient: s.http}
	prompt := buildCoderPrompt(id, task, parentHint, false)
	return s.loop(ctx, sess, prompt)
}

// runTwoPhase runs the opt-in Coder (src/-scoped) then Tester (tests/-scoped)
// refinement from spec §9.
func (s *Synthesizer) runTwoPhase(ctx context.Context, id, dir, task, parentHint string) (string, error) {
	coderGates := &gates{}
	coderSess := &session{id: id, dir: dir, gates: coderGates, scope: coderScope(), builder: s.builder, httpClient: s.http}
	coderPrompt := buildCoderPrompt(id, task, parentHint, true)
	if _, err := s.loopPhase(ctx, coderSess, coderPrompt, false); err != nil {
		return "", err
	}

	testerSess := &session{id: id, dir: dir, gates: coderGates, scope: testerScope(), builder: s.builder, httpClient: s.http}
	testerPrompt := buildTesterPrompt(id, task)
	return s.loop(ctx, testerSess, testerPrompt)
}

// loop runs a full coder/tester turn loop to a gated completion, returning
// the model's chosen summary.
func (s *Synthesizer) loop(ctx context.Context, sess *session, systemPrompt string) (string, error) {
	return s.loopPhase(ctx, sess, systemPrompt, true)
}

// loopPhase runs the turn loop. When requireComplete is false (the Coder
// phase of the two-phase mode), the loop exits as soon as the model stops
// issuing tool calls — completion is gated only in the final phase.
func (s *Synthesizer) loopPhase(ctx context.Context, sess *session, systemPrompt string, requireComplete bool) (string, error) {
	input := []aiclient.Item{aiclient.NewUserMessage("Begin.")}

	for step := 0; step < s.cfg.MaxSteps; step++ {
		resp, err := s.client.Complete(ctx, aiclient.Request{
			Model:  s.cfg.Model,
			System: systemPrompt,
			Input:  input,
			Tools:  coderTools(),
		})
		if err != nil {
			return "", fmt.Errorf("synth: %s: llm transport: %w", sess.id, err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			// No tool call at all: the model is expected to call complete
			// explicitly. A bare "DONE" message is tolerated as a deprecated
			// fallback (spec §9) but never the only way in; everything else
			// is treated as "still working".
			text := strings.TrimSpace(resp.Text())
			if !requireComplete {
				return text, nil
			}
			if text != doneSentinel {
				input = append(input, resp.Output...)
				input = append(input, aiclient.NewUserMessage(
					"Continue working, or call the complete tool when finished."))
				continue
			}
			if ok, missing := sess.gates.canComplete(); !ok {
				cw, bok, tok := sess.gates.snapshot()
				input = append(input, resp.Output...)
				input = append(input, aiclient.NewUserMessage(fmt.Sprintf(
					"completion rejected: missing %v (code_written=%v, build_ok=%v, test_ok=%v). Keep working.",
					missing, cw, bok, tok)))
				continue
			}
			return summaryFromInput(input, sess.id), nil
		}

		input = append(input, resp.Output...)
		for _, call := range calls {
			output, isError := sess.dispatch(ctx, call, requireComplete)
			input = append(input, aiclient.NewFunctionCallOutput(call.CallID, output, isError))
		}
		if sess.done {
			summary := sess.doneSummary
			if summary == "" {
				summary = summaryFromInput(input, sess.id)
			}
			return summary, nil
		}
	}

	return "", &ErrSynthesisIncomplete{CapabilityID: sess.id, MaxSteps: s.cfg.MaxSteps}
}

// doneSentinel is the deprecated auto-completion fallback: a bare assistant
// message of exactly this text, with no complete tool call, is still
// accepted so an older-style coder prompt doesn't get stuck, but the
// complete tool is the required path (spec §9).
const doneSentinel = "DONE"

// summaryFromInput scans the conversation for the most recent assistant
// message preceding the final DONE, using it as the capability's summary; a
// coder that only ever emits tool calls and a bare DONE leaves the fallback
// to promote's task-description default. Reached via the doneSentinel
// fallback path, and when a complete call carries an empty summary.
func summaryFromInput(input []aiclient.Item, id string) string {
	for i := len(input) - 1; i >= 0; i-- {
		item := input[i]
		if item.Kind == aiclient.KindAssistantMessage && item.AssistantMessage != nil {
			text := strings.TrimSpace(item.AssistantMessage.Text)
			if text != "" && text != doneSentinel {
				return text
			}
		}
	}
	return ""
}

func buildCoderPrompt(id, task, parentHint string, scopedToSrc bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the coder sub-agent synthesizing capability %q.\n", id)
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	b.WriteString("You have list_files, read_file, write_file, build, test, http_get, rustc_explain, and complete. ")
	if scopedToSrc {
		b.WriteString("In this phase write_file is restricted to src/ and Cargo.toml; a separate tester phase will write tests/.\n")
	} else {
		b.WriteString("write_file may touch any file in the crate.\n")
	}
	b.WriteString("The crate currently fails to compile on purpose. Read stdin as a single JSON document and write a single JSON ")
	b.WriteString("document to stdout (errors as {\"error\": \"<msg>\"}) per the host ABI. ")
	b.WriteString("Completion requires code_written, build_ok, and test_ok all true; any write_file resets build_ok and test_ok. ")
	b.WriteString("When you believe the capability is complete, call the complete tool with a one-line summary of what it does.\n")
	if parentHint != "" {
		b.WriteString("\n" + parentHint + "\n")
	}
	return b.String()
}

func buildTesterPrompt(id, task string) string {
	return fmt.Sprintf(
		"You are the tester sub-agent for capability %q. Task: %s\n\n"+
			"write_file is restricted to tests/. Use read_file to inspect src/ and write integration tests in tests/integration.rs. "+
			"Use build and test to check your work. Completion requires build_ok and test_ok both true. "+
			"When done, call the complete tool with a one-line summary of what the capability does.", id, task)
}

// promote rewrites the crate's meta.json with its final summary and status
// Active (spec §4.5 step 5). summary, if non-empty, wins; otherwise the
// task description (capped) is used; meta.json never keeps "TODO".
func promote(dir, taskDescription, summary string) error {
	metaPath := filepath.Join(dir, "meta.json")
	data, err := os.ReadFile(metaPath) //nolint:gosec
	if err != nil {
		return fmt.Errorf("reading %s: %w", metaPath, err)
	}
	var meta scaffoldMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("parsing %s: %w", metaPath, err)
	}

	final := strings.TrimSpace(summary)
	if final == "" {
		final = strings.TrimSpace(taskDescription)
	}
	if len(final) > maxSummaryLen {
		final = final[:maxSummaryLen]
	}
	if final == "" || final == "TODO" {
		final = "synthesized capability"
	}

	meta.Summary = final
	meta.Status = string(capability.StatusActive)
	return writeMetaDoc(dir, meta)
}
