package llmroute

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/forge-labs/capforge/aiclient"
)

// LoadBalance distributes turns across backends using weighted random
// selection.
type LoadBalance struct {
	targets []Target
	lookup  BackendLookup
	mu      sync.Mutex
}

// NewLoadBalance creates a LoadBalance strategy over targets.
func NewLoadBalance(targets []Target, lookup BackendLookup) *LoadBalance {
	return &LoadBalance{targets: targets, lookup: lookup}
}

func (lb *LoadBalance) Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	if len(lb.targets) == 0 {
		return nil, fmt.Errorf("llmroute: no targets configured for loadbalance")
	}

	target, err := lb.selectTarget()
	if err != nil {
		return nil, err
	}

	c, ok := lb.lookup(target.Backend)
	if !ok {
		return nil, fmt.Errorf("llmroute: backend not found: %s", target.Backend)
	}
	return c.Complete(ctx, req)
}

func (lb *LoadBalance) selectTarget() (Target, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	totalWeight := 0.0
	for _, t := range lb.targets {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return Target{}, fmt.Errorf("llmroute: no targets available")
	}

	r := rand.Float64() * totalWeight //nolint:gosec
	cumulative := 0.0
	for _, t := range lb.targets {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		cumulative += w
		if r < cumulative {
			return t, nil
		}
	}
	return lb.targets[len(lb.targets)-1], nil
}
