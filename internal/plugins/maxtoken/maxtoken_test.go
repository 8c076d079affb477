package maxtoken

import (
	"context"
	"strings"
	"testing"

	"github.com/forge-labs/capforge/plugin"
)

func initMaxToken(t *testing.T, config map[string]interface{}) *MaxToken {
	t.Helper()
	m := &MaxToken{}
	if err := m.Init(config); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return m
}

func TestMaxToken_InputJSONLengthEnforcement(t *testing.T) {
	m := initMaxToken(t, map[string]interface{}{"max_input_json_length": 10})

	t.Run("exceeds limit", func(t *testing.T) {
		pctx := plugin.NewContext(&plugin.ToolInvocation{
			Name: "run_capability", CapabilityID: "add", InputJSON: `{"a":1,"b":2,"c":3}`,
		})
		if err := m.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if !pctx.Reject {
			t.Error("expected request to be rejected")
		}
	})

	t.Run("within limit", func(t *testing.T) {
		pctx := plugin.NewContext(&plugin.ToolInvocation{
			Name: "run_capability", CapabilityID: "add", InputJSON: `{}`,
		})
		if err := m.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if pctx.Reject {
			t.Error("expected request to be allowed")
		}
	})
}

func TestMaxToken_TaskDescriptionLengthEnforcement(t *testing.T) {
	m := initMaxToken(t, map[string]interface{}{"max_task_description_length": 10})

	t.Run("exceeds limit", func(t *testing.T) {
		pctx := plugin.NewContext(&plugin.ToolInvocation{
			Name: "mutate_capability", TaskDescription: "a much longer task description than allowed",
		})
		if err := m.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if !pctx.Reject {
			t.Error("expected request to be rejected")
		}
	})

	t.Run("within limit", func(t *testing.T) {
		pctx := plugin.NewContext(&plugin.ToolInvocation{
			Name: "mutate_capability", TaskDescription: "short",
		})
		if err := m.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if pctx.Reject {
			t.Error("expected request to be allowed")
		}
	})
}

func TestMaxToken_ZeroLimitDisablesCheck(t *testing.T) {
	m := initMaxToken(t, map[string]interface{}{"max_input_json_length": 0})
	pctx := plugin.NewContext(&plugin.ToolInvocation{
		Name: "run_capability", CapabilityID: "add", InputJSON: `{"a":"` + strings.Repeat("x", 5000) + `"}`,
	})
	if err := m.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if pctx.Reject {
		t.Error("expected a zero limit to disable the check")
	}
}

func TestMaxToken_AllowedRequestPassesThrough(t *testing.T) {
	m := initMaxToken(t, map[string]interface{}{})
	pctx := plugin.NewContext(&plugin.ToolInvocation{
		Name: "run_capability", CapabilityID: "add", InputJSON: `{"a":1,"b":2}`,
	})
	if err := m.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if pctx.Reject {
		t.Error("expected default config to allow request")
	}
}
