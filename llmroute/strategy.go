// Package llmroute implements the routing strategies the orchestrator uses
// to pick an aiclient.Client backend for a turn, generalizing
// internal/strategies (which picked a providers.Provider for a proxied
// chat-completion request) to the orchestrator's narrower turn-loop
// contract.
//
// Available strategies:
//   - Single:      always routes to one configured backend.
//   - Fallback:    tries backends in order, retrying on failure, tripping
//     a circuitbreaker.CircuitBreaker per backend.
//   - LoadBalance: distributes turns across backends by weight.
//   - Conditional: routes based on the requested model.
package llmroute

import (
	"context"

	"github.com/forge-labs/capforge/aiclient"
)

// Strategy picks a backend and completes one turn.
type Strategy interface {
	Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error)
}

// BackendLookup resolves a backend name to an aiclient.Client.
type BackendLookup func(name string) (aiclient.Client, bool)

// Target names one backend and its relative weight for LoadBalance.
type Target struct {
	Backend string
	Weight  float64
}
