package synth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Builder drives the native toolchain for one crate directory. Per spec §1
// and §5, the toolchain itself is opaque: a non-zero exit or a context
// deadline is treated uniformly as a build or test failure.
type Builder interface {
	Build(ctx context.Context, dir string) (output string, err error)
	Test(ctx context.Context, dir string) (output string, err error)
}

// CargoBuilder shells out to cargo, targeting wasm32-wasip1 for build and
// the host target for test (tests run natively; only the final artifact
// needs to be wasm).
type CargoBuilder struct{}

func (CargoBuilder) Build(ctx context.Context, dir string) (string, error) {
	return runCargo(ctx, dir, "build", "--release", "--target", "wasm32-wasip1")
}

func (CargoBuilder) Test(ctx context.Context, dir string) (string, error) {
	return runCargo(ctx, dir, "test")
}

func runCargo(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		return out.String(), fmt.Errorf("synth: cargo %v: %w", args, err)
	}
	return out.String(), nil
}

// rustcExplain shells out to `rustc --explain <code>`, used by the coder
// sub-agent's optional rustc_explain tool to demystify a compiler error
// code surfaced in a failing build's output.
func rustcExplain(ctx context.Context, code string) (string, error) {
	cmd := exec.CommandContext(ctx, "rustc", "--explain", code)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("synth: rustc --explain %s: %w", code, err)
	}
	return out.String(), nil
}
