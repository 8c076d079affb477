package llmroute

import (
	"context"
	"fmt"
	"strings"

	"github.com/forge-labs/capforge/aiclient"
)

// ConditionRule maps a match condition to a target backend.
type ConditionRule struct {
	Key     string // "model", "model_prefix"
	Value   string
	Backend string
}

// Conditional routes a turn based on the requested model, falling back to
// a default backend when no rule matches.
type Conditional struct {
	rules    []ConditionRule
	fallback string
	lookup   BackendLookup
}

// NewConditional creates a Conditional strategy. Rules are evaluated in
// order; the first match wins.
func NewConditional(rules []ConditionRule, fallback string, lookup BackendLookup) *Conditional {
	return &Conditional{rules: rules, fallback: fallback, lookup: lookup}
}

func (c *Conditional) Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	backend := c.matchBackend(req)
	client, ok := c.lookup(backend)
	if !ok {
		return nil, fmt.Errorf("llmroute: backend not found: %s", backend)
	}
	return client.Complete(ctx, req)
}

func (c *Conditional) matchBackend(req aiclient.Request) string {
	for _, rule := range c.rules {
		if c.matches(rule, req) {
			return rule.Backend
		}
	}
	return c.fallback
}

func (c *Conditional) matches(rule ConditionRule, req aiclient.Request) bool {
	switch rule.Key {
	case "model":
		return req.Model == rule.Value
	case "model_prefix":
		return strings.HasPrefix(req.Model, rule.Value)
	default:
		return false
	}
}
