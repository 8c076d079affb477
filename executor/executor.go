// Package executor is the sandboxed capability executor: a WebAssembly host
// that compiles a capability's module, streams JSON on its virtual stdio,
// and mediates a narrow host ABI (HTTP GET, wall-clock, sandboxed file I/O)
// across the guest's linear-memory boundary.
//
// Built on github.com/tetratelabs/wazero, the only pure-Go WebAssembly
// runtime available to this module. Guest stdio is wired through wazero's
// WASI preview1 implementation (ModuleConfig.WithStdin/WithStdout/
// WithStderr); the five host-ABI functions in §4.3 of the design are
// exported under the module name "host" via a host module builder.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/forge-labs/capforge/capability"
	"github.com/forge-labs/capforge/internal/cache"
	"github.com/forge-labs/capforge/internal/ratelimit"
)

// Stable host-ABI error codes, matching spec §4.3's per-function table
// exactly. A numeric code means something different for each function —
// that's the table's design, not an inconsistency here — so each meaning
// gets its own name even where the underlying value is shared. Extend by
// adding a new negative code — never repurpose an existing one.
const (
	errMemoryNotFound = -1 // guest module exports no memory

	// -2: a guest-supplied URL/path pointer or length falls outside its
	// linear memory. Identical bounds check for all three functions.
	errPtrOutOfBounds = -2

	errInvalidUTF8 = -3 // a guest string argument is not valid UTF-8

	// -4: http_get's request failed outright; file_read's path doesn't
	// exist; file_write's content pointer (distinct from its path
	// pointer, which is -2) falls outside linear memory.
	errRequestFailed         = -4
	errFileNotFound          = -4
	errContentPtrOutOfBounds = -4

	// -5: http_get's response body couldn't be read; file_read/
	// file_write's resolved path is denied by the host filesystem or
	// escapes the sandbox root.
	errResponseReadFailed = -5
	errPermissionDenied   = -5

	// -6: http_get's response didn't fit the fixed result buffer;
	// file_read's read failed after the path resolved; file_write's
	// write failed.
	errBufferTooSmall = -6
	errReadFailed     = -6
	errWriteFailed    = -6

	// -7: file_read only. http_get uses -6 for its own buffer-too-small
	// case; file_write never returns -7.
	errResultTooLarge = -7
)

// maxHostBufferBytes is the fixed size of the host-side result buffer
// http_get and file_read write into. It is an implementation constant, not
// something the guest supplies — part of the wire contract guests compile
// against (spec §4.3).
const maxHostBufferBytes = 1 << 20 // 1 MiB

// Config controls Executor construction.
type Config struct {
	// FileRoot sandboxes file_read/file_write to this directory; a guest
	// path is resolved relative to it and may not escape it. Empty means
	// the host's current working directory (spec §5's stated default,
	// with the "should optionally root it under a sandbox directory"
	// invitation satisfied by setting this field).
	FileRoot string
	// HTTPTimeout bounds each guest http_get call. Zero means 10s.
	HTTPTimeout time.Duration
	// RunTimeout bounds one Run invocation end-to-end (spec §9 explicitly
	// invites adding one: "Executor invocations have no wall-clock timeout
	// in the reference design; implementations should add one"). Zero
	// means 30s.
	RunTimeout time.Duration
	// EgressRatePerSecond / EgressBurst bound the guest's outbound
	// http_get calls. Zero means unlimited.
	EgressRatePerSecond float64
	EgressBurst         float64
	// CompiledModuleCacheSize bounds the number of compiled modules kept
	// warm. Zero means 64.
	CompiledModuleCacheSize int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.CompiledModuleCacheSize <= 0 {
		c.CompiledModuleCacheSize = 64
	}
	return c
}

// Result is the outcome of a successful Run.
type Result struct {
	Stdout string
}

// RunError bundles a non-zero exit / trap with the capability id, exit code
// (if any), and captured stderr, per spec §4.3.
type RunError struct {
	CapabilityID string
	ExitCode     int
	HasExitCode  bool
	Stderr       string
	Err          error
}

func (e *RunError) Error() string {
	if e.HasExitCode {
		return fmt.Sprintf("capability %q exited with code %d: %s", e.CapabilityID, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("capability %q trapped: %v: %s", e.CapabilityID, e.Err, e.Stderr)
}

func (e *RunError) Unwrap() error { return e.Err }

type compiledEntry struct {
	mod   wazero.CompiledModule
	mtime time.Time
}

// Executor is a WebAssembly host that runs capabilities to completion.
type Executor struct {
	cfg     Config
	runtime wazero.Runtime
	cache   *cache.Memory[compiledEntry]
	limiter *ratelimit.Limiter
}

// New creates an Executor. ctx is used only to construct the underlying
// wazero runtime and host module; it is not retained.
func New(ctx context.Context, cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()

	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("executor: instantiating wasi_snapshot_preview1: %w", err)
	}

	e := &Executor{
		cfg:     cfg,
		runtime: rt,
		cache:   cache.NewMemory[compiledEntry](cfg.CompiledModuleCacheSize, 24*time.Hour),
	}
	if cfg.EgressRatePerSecond > 0 {
		e.limiter = ratelimit.New(cfg.EgressRatePerSecond, cfg.EgressBurst)
	}

	builder := rt.NewHostModuleBuilder("host")
	builder.NewFunctionBuilder().WithFunc(e.hostHTTPGet).Export("http_get")
	builder.NewFunctionBuilder().WithFunc(e.hostCurrentTimeMillis).Export("current_time_millis")
	builder.NewFunctionBuilder().WithFunc(e.hostCurrentTimeSecs).Export("current_time_secs")
	builder.NewFunctionBuilder().WithFunc(e.hostFileRead).Export("file_read")
	builder.NewFunctionBuilder().WithFunc(e.hostFileWrite).Export("file_write")
	if _, err := builder.Instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("executor: instantiating host module: %w", err)
	}

	return e, nil
}

// Close releases the underlying wazero runtime and every cached compiled
// module.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Run compiles (or reuses a cached compilation of) binaryPath and executes
// it to completion with inputJSON preloaded on its virtual stdin, returning
// stdout as UTF-8 on success.
func (e *Executor) Run(ctx context.Context, cap *capability.Capability, binaryPath, inputJSON string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	compiled, err := e.compile(ctx, binaryPath)
	if err != nil {
		return Result{}, fmt.Errorf("executor: compiling %q: %w", cap.ID, err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader([]byte(inputJSON))).
		WithStdout(&boundedWriter{buf: &stdout, max: maxHostBufferBytes}).
		WithStderr(&boundedWriter{buf: &stderr, max: maxHostBufferBytes}).
		WithName("")

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		if exitErr, ok := exitCode(err); ok {
			if exitErr == 0 {
				out := stdout.String()
				if !utf8.ValidString(out) {
					return Result{}, fmt.Errorf("executor: capability %q produced invalid UTF-8 stdout", cap.ID)
				}
				return Result{Stdout: out}, nil
			}
			return Result{}, &RunError{CapabilityID: cap.ID, ExitCode: exitErr, HasExitCode: true, Stderr: stderr.String()}
		}
		return Result{}, &RunError{CapabilityID: cap.ID, Stderr: stderr.String(), Err: err}
	}

	out := stdout.String()
	if !utf8.ValidString(out) {
		return Result{}, fmt.Errorf("executor: capability %q produced invalid UTF-8 stdout", cap.ID)
	}
	return Result{Stdout: out}, nil
}

func (e *Executor) compile(ctx context.Context, binaryPath string) (wazero.CompiledModule, error) {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("stat binary: %w", err)
	}
	if entry, ok := e.cache.Get(binaryPath); ok && entry.mtime.Equal(info.ModTime()) {
		return entry.mod, nil
	}

	data, err := os.ReadFile(binaryPath) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading binary: %w", err)
	}
	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("compiling module: %w", err)
	}
	e.cache.Set(binaryPath, compiledEntry{mod: compiled, mtime: info.ModTime()})
	return compiled, nil
}

// resolvePath joins a guest-supplied relative path against the configured
// file root and rejects any path that escapes it.
func (e *Executor) resolvePath(guestPath string) (string, bool) {
	root := e.cfg.FileRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", false
		}
		root = wd
	}
	full := filepath.Join(root, guestPath)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return full, true
}

// boundedWriter caps the number of bytes written to buf, satisfying the
// "bounded in-memory virtual stdout/stderr buffer (>= 1 MiB capacity)"
// requirement without letting a runaway guest exhaust host memory.
type boundedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // silently drop past the cap; guest isn't trapped for verbosity
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	return w.buf.Write(p)
}

var _ io.Writer = (*boundedWriter)(nil)
