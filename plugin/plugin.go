// Package plugin defines the Plugin interface and the lifecycle stages
// used to hook into the orchestrator's tool-call pipeline.
//
// Plugins are registered by name via RegisterFactory and loaded by the
// runtime at startup. The plugin.Context carries one run_capability or
// mutate_capability invocation (and, past the before stage, its result)
// through each stage, and plugins may modify, reject, or skip it.
//
// Built-in plugins live in the internal/plugins/* packages and are registered
// by importing them with a blank import (e.g. _ "github.com/forge-labs/capforge/internal/plugins/wordfilter").
package plugin

import "context"

// Plugin is the interface all plugins must implement.
type Plugin interface {
	Name() string
	Type() PluginType
	Init(config map[string]interface{}) error
	Execute(ctx context.Context, pctx *Context) error
}

// PluginType categorizes plugins.
//nolint:revive // keep for backwards compatibility
type PluginType string

// PluginType constants define the supported lifecycle attachment points.
const (
	TypeGuardrail PluginType = "guardrail"
	TypeLogging   PluginType = "logging"
	TypeMetrics   PluginType = "metrics"
	TypeAuth      PluginType = "auth"
	TypeTransform PluginType = "transform"
	TypeRateLimit PluginType = "ratelimit"
)

// Stage defines when a plugin runs in the tool-call lifecycle.
type Stage string

// Stage constants define the execution phases around one tool dispatch.
const (
	StageBeforeRequest Stage = "before_request"
	StageAfterRequest  Stage = "after_request"
	StageOnError       Stage = "on_error"
)

// ToolInvocation describes one run_capability or mutate_capability call as
// the orchestrator is about to dispatch it. Exactly one of
// CapabilityID+InputJSON (run_capability) or TaskDescription
// (mutate_capability) is meaningful, distinguished by Name.
type ToolInvocation struct {
	CallID             string
	Name               string // "run_capability" or "mutate_capability"
	CapabilityID       string
	InputJSON          string
	TaskDescription    string
	ParentCapabilityID string
}

// ToolResult is the outcome of dispatching a ToolInvocation, filled in by
// the orchestrator before running the after_request/on_error stages.
type ToolResult struct {
	Output  string
	IsError bool
}

// Context provides access to one tool invocation and (after dispatch) its
// result for plugins at every stage.
type Context struct {
	Invocation *ToolInvocation
	Result     *ToolResult
	Metadata   map[string]interface{}
	Error      error
	Skip       bool
	Reject     bool
	Reason     string
}

// NewContext creates a new plugin context for a tool invocation.
func NewContext(inv *ToolInvocation) *Context {
	return &Context{
		Invocation: inv,
		Metadata:   make(map[string]interface{}),
	}
}
