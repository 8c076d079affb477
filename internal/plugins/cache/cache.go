// Package cache provides a response-cache plugin that memoizes
// run_capability results in memory and serves them on exact-match cache
// hits, sparing a re-run of a deterministic capability. Register it with a
// blank import:
//
//	_ "github.com/forge-labs/capforge/internal/plugins/cache"
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	icache "github.com/forge-labs/capforge/internal/cache"
	"github.com/forge-labs/capforge/plugin"
)

func init() {
	plugin.RegisterFactory("response-cache", func() plugin.Plugin {
		return &ResponseCache{}
	})
}

// ResponseCache is a transform plugin that caches run_capability results
// using exact-match hashing of (capability_id, input_json). Mutate calls are
// never memoized: synthesis is never idempotent.
type ResponseCache struct {
	entries icache.Cache[string]
	maxAge  time.Duration
}

// Name returns the plugin identifier.
func (c *ResponseCache) Name() string {
	return "response-cache"
}

// Type returns the plugin lifecycle hook type.
func (c *ResponseCache) Type() plugin.PluginType {
	return plugin.TypeTransform
}

// Init configures the plugin from the provided options map.
func (c *ResponseCache) Init(config map[string]interface{}) error {
	maxAge := 300
	// JSON delivers numeric values as float64; YAML may deliver int. Handle both.
	switch v := config["max_age"].(type) {
	case int:
		maxAge = v
	case float64:
		maxAge = int(v)
	}
	c.maxAge = time.Duration(maxAge) * time.Second

	maxEntries := 1000
	switch v := config["max_entries"].(type) {
	case int:
		maxEntries = v
	case float64:
		maxEntries = int(v)
	}

	c.entries = icache.NewMemory[string](maxEntries, c.maxAge)
	return nil
}

// Execute checks for a cache hit (before dispatch) or stores the result
// (after dispatch).
func (c *ResponseCache) Execute(_ context.Context, pctx *plugin.Context) error {
	inv := pctx.Invocation
	if inv == nil || inv.Name != "run_capability" {
		return nil
	}

	key := cacheKey(inv.CapabilityID, inv.InputJSON)

	if pctx.Result == nil {
		// before_request: lookup
		if output, ok := c.entries.Get(key); ok {
			pctx.Result = &plugin.ToolResult{Output: output}
			pctx.Skip = true
			pctx.Metadata["cache_hit"] = true
		}
		return nil
	}

	// after_request: store
	if pctx.Metadata["cache_hit"] == true || pctx.Result.IsError {
		return nil
	}
	c.entries.Set(key, pctx.Result.Output)
	return nil
}

func cacheKey(capabilityID, inputJSON string) string {
	h := sha256.Sum256([]byte(capabilityID + "\n" + inputJSON))
	return hex.EncodeToString(h[:])
}
