package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/internal/metrics"
)

const (
	toolListFiles    = "list_files"
	toolReadFile     = "read_file"
	toolWriteFile    = "write_file"
	toolTest         = "test"
	toolBuild        = "build"
	toolHTTPGet      = "http_get"
	toolRustcExplain = "rustc_explain"
	toolComplete     = "complete"

	httpGetTimeout  = 10 * time.Second
	httpGetMaxBytes = 1 << 20
)

// coderTools returns the tool surface exposed to the coder sub-agent
// (spec §4.5 step 3): list_files, read_file, write_file, test, build, plus
// the optional http_get and rustc_explain, and the completion tool itself.
// complete is the required way to end a session; it's gate-checked against
// code_written/build_ok/test_ok the same as the legacy DONE-text fallback,
// which remains accepted but is no longer the expected path (spec §9).
func coderTools() []aiclient.Tool {
	return []aiclient.Tool{
		{Name: toolListFiles, Description: "List files under a directory in the capability's workspace, relative to the crate root.",
			Parameters: rawSchema(`{"type":"object","properties":{"dir":{"type":"string"}},"required":["dir"]}`)},
		{Name: toolReadFile, Description: "Read a file's contents, path relative to the crate root.",
			Parameters: rawSchema(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)},
		{Name: toolWriteFile, Description: "Write (overwrite) a file's contents, path relative to the crate root.",
			Parameters: rawSchema(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)},
		{Name: toolTest, Description: "Run the crate's test suite. Resets nothing; updates test_ok.",
			Parameters: rawSchema(`{"type":"object","properties":{}}`)},
		{Name: toolBuild, Description: "Build the crate for the wasm32-wasip1 target. Resets nothing; updates build_ok.",
			Parameters: rawSchema(`{"type":"object","properties":{}}`)},
		{Name: toolHTTPGet, Description: "Fetch a URL over HTTP GET, for researching an API while writing a capability.",
			Parameters: rawSchema(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)},
		{Name: toolRustcExplain, Description: "Explain a rustc error code (e.g. E0308) via `rustc --explain`.",
			Parameters: rawSchema(`{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`)},
		{Name: toolComplete, Description: "Signal that this phase is finished, with a one-line summary of what the capability does. " +
			"Rejected unless code_written, build_ok, and test_ok are all true.",
			Parameters: rawSchema(`{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`)},
	}
}

func rawSchema(s string) json.RawMessage { return json.RawMessage(s) }

var coderSchemas = compileCoderSchemas()

func compileCoderSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema)
	for _, t := range coderTools() {
		res := fmt.Sprintf("mem://synth/%s.json", t.Name)
		var decoded any
		if err := json.Unmarshal(t.Parameters, &decoded); err != nil {
			panic(fmt.Sprintf("synth: decoding schema literal for %s: %v", t.Name, err))
		}
		if err := compiler.AddResource(res, decoded); err != nil {
			panic(fmt.Sprintf("synth: compiling schema for %s: %v", t.Name, err))
		}
		sch, err := compiler.Compile(res)
		if err != nil {
			panic(fmt.Sprintf("synth: compiling schema for %s: %v", t.Name, err))
		}
		out[t.Name] = sch
	}
	return out
}

// scopeGuard enforces the source-edit discipline of spec §4.5: in the
// unified single-coder mode it allows writes anywhere under the crate; in
// the opt-in separate-tester mode the coder phase is restricted to src/
// (plus the manifest) and the tester phase to tests/.
type scopeGuard struct {
	allowedPrefixes []string // empty means unrestricted
}

func unrestrictedScope() *scopeGuard { return &scopeGuard{} }

func coderScope() *scopeGuard {
	return &scopeGuard{allowedPrefixes: []string{"src/", "Cargo.toml"}}
}

func testerScope() *scopeGuard {
	return &scopeGuard{allowedPrefixes: []string{"tests/"}}
}

func (g *scopeGuard) allows(relPath string) bool {
	if len(g.allowedPrefixes) == 0 {
		return true
	}
	clean := filepath.ToSlash(relPath)
	for _, prefix := range g.allowedPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	return false
}

// session is the mutable state threaded through one coder (or tester) loop.
type session struct {
	id    string
	dir   string
	gates *gates
	scope *scopeGuard

	builder    Builder
	httpClient *http.Client

	// done and doneSummary are set by a successful complete tool call (or,
	// as a deprecated fallback, a bare "DONE" assistant message); loopPhase
	// checks done after every dispatched call and ends the session once set.
	done        bool
	doneSummary string
}

type listFilesArgs struct {
	Dir string `json:"dir"`
}

type readFileArgs struct {
	Path string `json:"path"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type httpGetArgs struct {
	URL string `json:"url"`
}

type rustcExplainArgs struct {
	Code string `json:"code"`
}

type completeArgs struct {
	Summary string `json:"summary"`
}

// dispatch executes one coder tool call and returns the string to feed back
// to the model plus whether it represents a failure, matching the
// orchestrator package's dispatch contract. requireComplete mirrors
// loopPhase's own flag: in the non-final phase of the two-phase mode,
// complete only ends that phase and isn't gated on build_ok/test_ok, since
// those aren't this phase's responsibility.
func (s *session) dispatch(ctx context.Context, call aiclient.FunctionCall, requireComplete bool) (string, bool) {
	schema, ok := coderSchemas[call.Name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
	if err := schema.Validate(decodeOrEmpty(call.Arguments)); err != nil {
		return fmt.Sprintf("invalid %s arguments: %v", call.Name, err), true
	}

	switch call.Name {
	case toolListFiles:
		return s.dispatchListFiles(call.Arguments)
	case toolReadFile:
		return s.dispatchReadFile(call.Arguments)
	case toolWriteFile:
		return s.dispatchWriteFile(call.Arguments)
	case toolBuild:
		return s.dispatchBuild(ctx)
	case toolTest:
		return s.dispatchTest(ctx)
	case toolHTTPGet:
		return s.dispatchHTTPGet(ctx, call.Arguments)
	case toolRustcExplain:
		return s.dispatchRustcExplain(ctx, call.Arguments)
	case toolComplete:
		return s.dispatchComplete(call.Arguments, requireComplete)
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}

// dispatchComplete handles the complete tool call. In the final phase it is
// rejected unless the gates package's three-flag precondition is satisfied
// (invariant I7); otherwise it unconditionally ends the current phase.
func (s *session) dispatchComplete(rawArgs string, requireComplete bool) (string, bool) {
	var args completeArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)

	if requireComplete {
		if ok, missing := s.gates.canComplete(); !ok {
			cw, bok, tok := s.gates.snapshot()
			return fmt.Sprintf(
				"completion rejected: missing %v (code_written=%v, build_ok=%v, test_ok=%v). Keep working.",
				missing, cw, bok, tok), true
		}
	}

	s.done = true
	s.doneSummary = strings.TrimSpace(args.Summary)
	return "completion accepted", false
}

func (s *session) resolve(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)[1:]
	abs := filepath.Join(s.dir, clean)
	if abs != s.dir && !strings.HasPrefix(abs, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the crate workspace", relPath)
	}
	return abs, nil
}

func (s *session) dispatchListFiles(rawArgs string) (string, bool) {
	var args listFilesArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)
	base, err := s.resolve(args.Dir)
	if err != nil {
		return err.Error(), true
	}
	var names []string
	entries, err := os.ReadDir(base)
	if err != nil {
		return fmt.Sprintf("list_files %q: %v", args.Dir, err), true
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), false
}

func (s *session) dispatchReadFile(rawArgs string) (string, bool) {
	var args readFileArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)
	abs, err := s.resolve(args.Path)
	if err != nil {
		return err.Error(), true
	}
	data, err := os.ReadFile(abs) //nolint:gosec
	if err != nil {
		return fmt.Sprintf("read_file %q: %v", args.Path, err), true
	}
	return string(data), false
}

func (s *session) dispatchWriteFile(rawArgs string) (string, bool) {
	var args writeFileArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)
	if s.scope != nil && !s.scope.allows(args.Path) {
		return fmt.Sprintf("write_file %q: out of scope for this phase", args.Path), true
	}
	abs, err := s.resolve(args.Path)
	if err != nil {
		return err.Error(), true
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Sprintf("write_file %q: %v", args.Path, err), true
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return fmt.Sprintf("write_file %q: %v", args.Path, err), true
	}
	s.gates.recordWrite()
	return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), false
}

func (s *session) dispatchBuild(ctx context.Context) (string, bool) {
	output, err := s.builder.Build(ctx, s.dir)
	ok := err == nil
	hintDue := s.gates.recordBuild(ok)
	if ok {
		return "build succeeded:\n" + output, false
	}
	metrics.SynthesisBuildFailuresTotal.Inc()
	msg := fmt.Sprintf("build failed:\n%s", output)
	if hintDue {
		msg += "\n" + buildFailureHint(output)
	}
	return msg, true
}

func (s *session) dispatchTest(ctx context.Context) (string, bool) {
	output, err := s.builder.Test(ctx, s.dir)
	ok := err == nil
	hintDue, repeat := s.gates.recordTest(ok, output)
	if ok {
		return "tests passed:\n" + output, false
	}
	metrics.SynthesisTestFailuresTotal.Inc()
	msg := fmt.Sprintf("tests failed:\n%s", output)
	if repeat {
		msg += "\nthis is the same failure as the previous test run; the last edit did not change the outcome."
	}
	if hintDue {
		msg += "\n" + testFailureHint()
	}
	return msg, true
}

func buildFailureHint(output string) string {
	hint := "hint: repeated build failures often come from a missing dependency in Cargo.toml, " +
		"a mismatched crate-type for wasm32-wasip1, or a typo'd import path."
	if strings.Contains(output, "error[E") {
		hint += " Use rustc_explain on the Exxxx code above for a detailed explanation."
	}
	return hint
}

func testFailureHint() string {
	return "hint: repeated test failures usually mean the implementation doesn't match the " +
		"test's expected JSON shape; re-read the test assertions with read_file before editing again."
}

func (s *session) dispatchHTTPGet(ctx context.Context, rawArgs string) (string, bool) {
	var args httpGetArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)

	reqCtx, cancel := context.WithTimeout(ctx, httpGetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, args.URL, nil)
	if err != nil {
		return fmt.Sprintf("http_get %q: %v", args.URL, err), true
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("http_get %q: %v", args.URL, err), true
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetMaxBytes))
	if err != nil {
		return fmt.Sprintf("http_get %q: reading body: %v", args.URL, err), true
	}
	return fmt.Sprintf("status %d\n%s", resp.StatusCode, string(body)), resp.StatusCode >= 400
}

func (s *session) dispatchRustcExplain(ctx context.Context, rawArgs string) (string, bool) {
	var args rustcExplainArgs
	_ = json.Unmarshal([]byte(rawArgs), &args)
	output, err := rustcExplain(ctx, args.Code)
	if err != nil {
		return fmt.Sprintf("rustc_explain %q: %v\n%s", args.Code, err, output), true
	}
	return output, false
}

func decodeOrEmpty(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{}
	}
	return v
}
