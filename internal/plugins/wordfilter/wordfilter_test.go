package wordfilter

import (
	"context"
	"testing"

	"github.com/forge-labs/capforge/plugin"
)

func mutateInvocation(task string) *plugin.ToolInvocation {
	return &plugin.ToolInvocation{CallID: "1", Name: "mutate_capability", TaskDescription: task}
}

func initFilter(t *testing.T, config map[string]interface{}) *WordFilter {
	t.Helper()
	f := &WordFilter{}
	if err := f.Init(config); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return f
}

func TestWordFilter_Init(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words": []interface{}{"badword", "forbidden"},
	})
	if len(f.blockedWords) != 2 {
		t.Errorf("expected 2 blocked words, got %d", len(f.blockedWords))
	}
	if f.caseSensitive {
		t.Error("expected case_sensitive to default to false")
	}
}

func TestWordFilter_BlocksMutateTask(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words": []interface{}{"badword"},
	})
	pctx := plugin.NewContext(mutateInvocation("write a capability that does badword things"))

	if err := f.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !pctx.Reject {
		t.Error("expected request to be rejected")
	}
	if pctx.Reason != "blocked word detected: badword" {
		t.Errorf("unexpected reason: %s", pctx.Reason)
	}
}

func TestWordFilter_AllowsCleanTask(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words": []interface{}{"badword"},
	})
	pctx := plugin.NewContext(mutateInvocation("write a capability that adds two integers"))

	if err := f.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if pctx.Reject {
		t.Error("expected request to be allowed")
	}
}

func TestWordFilter_IgnoresRunCapability(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words": []interface{}{"badword"},
	})
	pctx := plugin.NewContext(&plugin.ToolInvocation{
		CallID: "1", Name: "run_capability", CapabilityID: "add", InputJSON: `{"note":"badword"}`,
	})

	if err := f.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if pctx.Reject {
		t.Error("expected run_capability calls to bypass the word filter")
	}
}

func TestWordFilter_CaseInsensitive(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words":  []interface{}{"BadWord"},
		"case_sensitive": false,
	})
	pctx := plugin.NewContext(mutateInvocation("this has BADWORD in it"))

	if err := f.Execute(context.Background(), pctx); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !pctx.Reject {
		t.Error("expected case-insensitive match to reject")
	}
}

func TestWordFilter_CaseSensitive(t *testing.T) {
	f := initFilter(t, map[string]interface{}{
		"blocked_words":  []interface{}{"BadWord"},
		"case_sensitive": true,
	})

	t.Run("no match", func(t *testing.T) {
		pctx := plugin.NewContext(mutateInvocation("this has badword in it"))
		if err := f.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if pctx.Reject {
			t.Error("expected case-sensitive mismatch to allow")
		}
	})

	t.Run("exact match", func(t *testing.T) {
		pctx := plugin.NewContext(mutateInvocation("this has BadWord in it"))
		if err := f.Execute(context.Background(), pctx); err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if !pctx.Reject {
			t.Error("expected case-sensitive exact match to reject")
		}
	})
}
