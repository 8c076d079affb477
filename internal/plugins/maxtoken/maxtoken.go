// Package maxtoken provides a request-size guardrail plugin that caps the
// length of a tool invocation's input_json (run_capability) or
// task_description (mutate_capability). Register it with a blank import:
//
//	_ "github.com/forge-labs/capforge/internal/plugins/maxtoken"
package maxtoken

import (
	"context"
	"fmt"

	"github.com/forge-labs/capforge/plugin"
)

func init() {
	plugin.RegisterFactory("max-token", func() plugin.Plugin {
		return &MaxToken{}
	})
}

// MaxToken is a guardrail plugin that enforces maximum lengths on the
// free-form text fields of a tool invocation.
type MaxToken struct {
	maxInputJSONLen int
	maxTaskDescLen  int
}

// Name returns the plugin identifier.
func (m *MaxToken) Name() string { return "max-token" }

// Type returns the plugin lifecycle hook type.
func (m *MaxToken) Type() plugin.PluginType { return plugin.TypeGuardrail }

// Init configures the plugin from the provided options map.
func (m *MaxToken) Init(config map[string]interface{}) error {
	m.maxInputJSONLen = 4096 // default
	if v, ok := config["max_input_json_length"]; ok {
		switch val := v.(type) {
		case float64:
			m.maxInputJSONLen = int(val)
		case int:
			m.maxInputJSONLen = val
		}
	}
	m.maxTaskDescLen = 4096 // default
	if v, ok := config["max_task_description_length"]; ok {
		switch val := v.(type) {
		case float64:
			m.maxTaskDescLen = int(val)
		case int:
			m.maxTaskDescLen = val
		}
	}
	return nil
}

// Execute runs the plugin logic for the current tool invocation.
func (m *MaxToken) Execute(_ context.Context, pctx *plugin.Context) error {
	inv := pctx.Invocation
	if inv == nil {
		return nil
	}

	switch inv.Name {
	case "run_capability":
		if m.maxInputJSONLen > 0 && len(inv.InputJSON) > m.maxInputJSONLen {
			pctx.Reject = true
			pctx.Reason = fmt.Sprintf("input_json length %d exceeds limit of %d", len(inv.InputJSON), m.maxInputJSONLen)
		}
	case "mutate_capability":
		if m.maxTaskDescLen > 0 && len(inv.TaskDescription) > m.maxTaskDescLen {
			pctx.Reject = true
			pctx.Reason = fmt.Sprintf("task_description length %d exceeds limit of %d", len(inv.TaskDescription), m.maxTaskDescLen)
		}
	}
	return nil
}
