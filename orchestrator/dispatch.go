package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/internal/metrics"
	"github.com/forge-labs/capforge/plugin"
)

type runCapabilityArgs struct {
	CapabilityID string `json:"capability_id"`
	InputJSON    string `json:"input_json"`
}

type mutateCapabilityArgs struct {
	TaskDescription    string `json:"task_description"`
	ParentCapabilityID string `json:"parent_capability_id"`
}

// dispatch runs the plugin pipeline around one tool call and returns the
// string to feed back to the model, plus whether it represents a failure.
// Per spec, execution and synthesis failures are never raised as host
// errors — they're stringified into the tool result so the model can react.
//
// A before_request plugin may reject the call outright (word filter, length
// guard, rate limit) or short-circuit it with a cached result; after_request
// and on_error plugins observe but never alter the outcome they're shown.
func (o *Orchestrator) dispatch(ctx context.Context, call aiclient.FunctionCall) (string, bool) {
	pctx := plugin.NewContext(toolInvocationFromCall(call))

	if o.plugins != nil && o.plugins.HasPlugins() {
		if err := o.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.PluginRejectionsTotal.WithLabelValues(call.Name).Inc()
			return err.Error(), true
		}
		if pctx.Skip && pctx.Result != nil {
			return pctx.Result.Output, pctx.Result.IsError
		}
	}

	output, isError := o.dispatchCall(ctx, call)
	pctx.Result = &plugin.ToolResult{Output: output, IsError: isError}

	if o.plugins != nil && o.plugins.HasPlugins() {
		if isError {
			pctx.Error = errors.New(output)
			o.plugins.RunOnError(ctx, pctx)
		} else if err := o.plugins.RunAfter(ctx, pctx); err != nil {
			// after_request plugins observe; failures there never change
			// the result already handed to the model.
		}
	}

	return pctx.Result.Output, pctx.Result.IsError
}

func (o *Orchestrator) dispatchCall(ctx context.Context, call aiclient.FunctionCall) (string, bool) {
	switch call.Name {
	case toolRunCapability:
		return o.dispatchRunCapability(ctx, call)
	case toolMutateCapability:
		return o.dispatchMutateCapability(ctx, call)
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}

// toolInvocationFromCall decodes the call arguments leniently into a
// plugin.ToolInvocation; malformed arguments are left as zero values here
// since dispatchRunCapability/dispatchMutateCapability re-validate against
// the compiled JSON schemas and report the real error to the model.
func toolInvocationFromCall(call aiclient.FunctionCall) *plugin.ToolInvocation {
	inv := &plugin.ToolInvocation{CallID: call.CallID, Name: call.Name}
	switch call.Name {
	case toolRunCapability:
		var args runCapabilityArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err == nil {
			inv.CapabilityID = args.CapabilityID
			inv.InputJSON = args.InputJSON
		}
	case toolMutateCapability:
		var args mutateCapabilityArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err == nil {
			inv.TaskDescription = args.TaskDescription
			inv.ParentCapabilityID = args.ParentCapabilityID
		}
	}
	return inv
}

func (o *Orchestrator) dispatchRunCapability(ctx context.Context, call aiclient.FunctionCall) (string, bool) {
	if err := compiledSchemas.runCapability.Validate(decodeOrEmpty(call.Arguments)); err != nil {
		return fmt.Sprintf("invalid run_capability arguments: %v", err), true
	}

	var args runCapabilityArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Sprintf("invalid run_capability arguments: %v", err), true
	}

	cap, ok := o.catalog.Get(args.CapabilityID)
	if !ok || !cap.IsActive() {
		return fmt.Sprintf("capability %q is not active or does not exist", args.CapabilityID), true
	}

	started := time.Now()
	result, err := o.executor.Run(ctx, cap, o.catalog.BinaryPath(cap), args.InputJSON)
	metrics.CapabilityRunDuration.WithLabelValues(args.CapabilityID).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CapabilityRunsTotal.WithLabelValues(args.CapabilityID, "error").Inc()
		return o.recordFailure(args.CapabilityID, err)
	}

	metrics.CapabilityRunsTotal.WithLabelValues(args.CapabilityID, "success").Inc()
	o.failures[args.CapabilityID] = 0
	return result.Stdout, false
}

// recordFailure increments the per-id failure counter, auto-deprecating
// the capability once it reaches failureThreshold, and returns the message
// fed back to the model: the error plus the current failure tally, so the
// model can try an alternative rather than blindly retry.
func (o *Orchestrator) recordFailure(id string, runErr error) (string, bool) {
	o.failures[id]++
	count := o.failures[id]

	msg := fmt.Sprintf("run_capability(%q) failed (%d/%d consecutive failures): %v", id, count, failureThreshold, runErr)

	if count >= failureThreshold {
		if err := o.catalog.MarkDeprecated(id, fmt.Sprintf("auto-deprecated after %d consecutive failures", count)); err != nil {
			msg += fmt.Sprintf("; additionally failed to mark deprecated: %v", err)
		} else {
			msg += "; capability has been deprecated"
			metrics.CapabilityDeprecationsTotal.WithLabelValues("auto_failure_threshold").Inc()
		}
	}
	return msg, true
}

func (o *Orchestrator) dispatchMutateCapability(ctx context.Context, call aiclient.FunctionCall) (string, bool) {
	if err := compiledSchemas.mutateCapability.Validate(decodeOrEmpty(call.Arguments)); err != nil {
		return fmt.Sprintf("invalid mutate_capability arguments: %v", err), true
	}

	var args mutateCapabilityArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fmt.Sprintf("invalid mutate_capability arguments: %v", err), true
	}

	newID, err := o.synthesizer.Synthesize(ctx, args.TaskDescription, args.ParentCapabilityID)
	if err != nil {
		return fmt.Sprintf("mutate_capability failed: %v", err), true
	}
	return newID, false
}

func decodeOrEmpty(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{}
	}
	return v
}
