// Package wordfilter provides a word-filter guardrail plugin that rejects
// mutate_capability calls whose task description contains blocked words.
// Register it with a blank import:
//
//	_ "github.com/forge-labs/capforge/internal/plugins/wordfilter"
package wordfilter

import (
	"context"
	"strings"

	"github.com/forge-labs/capforge/plugin"
)

func init() {
	plugin.RegisterFactory("word-filter", func() plugin.Plugin {
		return &WordFilter{}
	})
}

// WordFilter is a guardrail plugin that blocks mutate_capability task
// descriptions containing configurable blocked words or phrases, keeping
// the runtime from being asked to synthesize disallowed capabilities.
type WordFilter struct {
	blockedWords  []string
	caseSensitive bool
}

// Name returns the plugin identifier.
func (w *WordFilter) Name() string { return "word-filter" }

// Type returns the plugin lifecycle hook type.
func (w *WordFilter) Type() plugin.PluginType { return plugin.TypeGuardrail }

// Init configures the plugin from the provided options map.
func (w *WordFilter) Init(config map[string]interface{}) error {
	if words, ok := config["blocked_words"]; ok {
		switch list := words.(type) {
		case []interface{}:
			for _, word := range list {
				if s, ok := word.(string); ok {
					w.blockedWords = append(w.blockedWords, s)
				}
			}
		case []string:
			w.blockedWords = append(w.blockedWords, list...)
		}
	}
	if cs, ok := config["case_sensitive"].(bool); ok {
		w.caseSensitive = cs
	}
	return nil
}

// Execute runs the plugin logic for the current tool invocation. Only
// mutate_capability calls are inspected; run_capability's input_json isn't
// natural-language text a word filter is meant to police.
func (w *WordFilter) Execute(_ context.Context, pctx *plugin.Context) error {
	inv := pctx.Invocation
	if inv == nil || inv.Name != "mutate_capability" || len(w.blockedWords) == 0 {
		return nil
	}

	content := inv.TaskDescription
	if !w.caseSensitive {
		content = strings.ToLower(content)
	}
	for _, word := range w.blockedWords {
		check := word
		if !w.caseSensitive {
			check = strings.ToLower(check)
		}
		if strings.Contains(content, check) {
			pctx.Reject = true
			pctx.Reason = "blocked word detected: " + word
			return nil
		}
	}
	return nil
}
