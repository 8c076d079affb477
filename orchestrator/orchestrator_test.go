package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/executor"
	"github.com/forge-labs/capforge/router"
)

type scriptedClient struct {
	responses []*aiclient.Response
	calls     int
}

func (s *scriptedClient) Complete(context.Context, aiclient.Request) (*aiclient.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeExecutor struct {
	run func(id, input string) (executor.Result, error)
}

func (f *fakeExecutor) Run(_ context.Context, cap *capability.Capability, _, input string) (executor.Result, error) {
	return f.run(cap.ID, input)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float64, error) { return []float64{1, 0}, nil }

type fakeSynthesizer struct {
	id  string
	err error
}

func (f *fakeSynthesizer) Synthesize(context.Context, string, string) (string, error) {
	return f.id, f.err
}

// capSpec describes one capability to scaffold on disk for a test catalog.
type capSpec struct {
	id, summary string
}

// newTestCatalog scaffolds a real crates/<id>/meta.json per spec and loads
// the catalog from disk, so lifecycle writes (MarkDeprecated et al.) have a
// real directory to write into instead of falling back to the process cwd.
func newTestCatalog(t *testing.T, specs ...capSpec) (*capability.Catalog, string) {
	t.Helper()
	root := t.TempDir()
	for _, spec := range specs {
		dir := filepath.Join(root, "crates", spec.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		doc := map[string]any{"id": spec.id, "summary": spec.summary, "binary": "main.wasm", "status": "active"}
		data, _ := json.Marshal(doc)
		if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	cat, err := capability.Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cat, root
}

func functionCallResponse(callID, name string, args any) *aiclient.Response {
	b, _ := json.Marshal(args)
	return &aiclient.Response{Output: []aiclient.Item{
		{Kind: aiclient.KindFunctionCall, FunctionCall: &aiclient.FunctionCall{CallID: callID, Name: name, Arguments: string(b)}},
	}}
}

func textResponse(text string) *aiclient.Response {
	return &aiclient.Response{Output: []aiclient.Item{
		{Kind: aiclient.KindAssistantMessage, AssistantMessage: &aiclient.AssistantMessage{Text: text}},
	}}
}

func TestRun_SingleRunCapabilitySucceeds(t *testing.T) {
	cat, _ := newTestCatalog(t, capSpec{id: "echo", summary: "echoes input"})
	idx := router.NewIndex()
	ctx := context.Background()
	if err := router.Sync(ctx, idx, cat, fakeEmbedder{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	client := &scriptedClient{responses: []*aiclient.Response{
		functionCallResponse("1", "run_capability", runCapabilityArgs{CapabilityID: "echo", InputJSON: `{"x":1}`}),
		textResponse(`the result is {"x":1}`),
	}}
	exec := &fakeExecutor{run: func(id, input string) (executor.Result, error) {
		return executor.Result{Stdout: input}, nil
	}}

	o := New(Config{}, cat, idx, fakeEmbedder{}, client, exec, &fakeSynthesizer{})
	answer, err := o.Run(ctx, `echo {"x":1}`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != `the result is {"x":1}` {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestRun_TwoConsecutiveFailuresDeprecates(t *testing.T) {
	cat, _ := newTestCatalog(t, capSpec{id: "broken", summary: "traps"})
	idx := router.NewIndex()
	ctx := context.Background()
	if err := router.Sync(ctx, idx, cat, fakeEmbedder{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	client := &scriptedClient{responses: []*aiclient.Response{
		functionCallResponse("1", "run_capability", runCapabilityArgs{CapabilityID: "broken", InputJSON: `{}`}),
		functionCallResponse("2", "run_capability", runCapabilityArgs{CapabilityID: "broken", InputJSON: `{}`}),
		textResponse("gave up"),
	}}
	exec := &fakeExecutor{run: func(string, string) (executor.Result, error) {
		return executor.Result{}, errors.New("trap")
	}}

	o := New(Config{}, cat, idx, fakeEmbedder{}, client, exec, &fakeSynthesizer{})
	if _, err := o.Run(ctx, "run broken twice"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cap, ok := cat.Get("broken")
	if !ok {
		t.Fatal("expected capability to still exist")
	}
	if cap.Status != capability.StatusDeprecated {
		t.Fatalf("expected status deprecated, got %s", cap.Status)
	}
}

func TestRun_MutateCapabilitySucceedsAndReloads(t *testing.T) {
	cat, _ := newTestCatalog(t, capSpec{id: "add", summary: "adds"})
	idx := router.NewIndex()
	ctx := context.Background()
	if err := router.Sync(ctx, idx, cat, fakeEmbedder{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	client := &scriptedClient{responses: []*aiclient.Response{
		functionCallResponse("1", "mutate_capability", mutateCapabilityArgs{TaskDescription: "multiply two ints", ParentCapabilityID: "add"}),
		textResponse("created mul"),
	}}
	exec := &fakeExecutor{run: func(string, string) (executor.Result, error) { return executor.Result{}, nil }}
	synth := &fakeSynthesizer{id: "mul"}

	o := New(Config{}, cat, idx, fakeEmbedder{}, client, exec, synth)
	// capability.Load requires a crates/ dir on disk; an empty one is a
	// valid empty catalog, so the reload after synthesis succeeds even
	// though the fake synthesizer didn't actually write anything to disk.
	answer, err := o.Run(ctx, "multiply two ints")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "created mul" {
		t.Fatalf("unexpected answer: %q", answer)
	}
}

func TestRun_MaxStepsExceededIsTerminalError(t *testing.T) {
	cat, _ := newTestCatalog(t)
	idx := router.NewIndex()
	ctx := context.Background()

	responses := make([]*aiclient.Response, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, functionCallResponse("1", "run_capability", runCapabilityArgs{CapabilityID: "missing", InputJSON: "{}"}))
	}
	client := &scriptedClient{responses: responses}
	exec := &fakeExecutor{run: func(string, string) (executor.Result, error) { return executor.Result{}, nil }}

	o := New(Config{MaxSteps: 3}, cat, idx, fakeEmbedder{}, client, exec, &fakeSynthesizer{})
	_, err := o.Run(ctx, "loop forever")
	var maxStepsErr *ErrMaxStepsExceeded
	if !errors.As(err, &maxStepsErr) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
}

func TestDispatchRunCapability_UnknownCapabilityIsError(t *testing.T) {
	cat, _ := newTestCatalog(t)
	idx := router.NewIndex()
	exec := &fakeExecutor{run: func(string, string) (executor.Result, error) { return executor.Result{}, nil }}
	o := New(Config{}, cat, idx, fakeEmbedder{}, &scriptedClient{}, exec, &fakeSynthesizer{})

	args, _ := json.Marshal(runCapabilityArgs{CapabilityID: "nonexistent", InputJSON: "{}"})
	msg, isErr := o.dispatch(context.Background(), aiclient.FunctionCall{CallID: "1", Name: "run_capability", Arguments: string(args)})
	if !isErr {
		t.Fatal("expected an error result for an unknown capability")
	}
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}
