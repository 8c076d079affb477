package llmroute

import (
	"context"
	"fmt"

	"github.com/forge-labs/capforge/aiclient"
)

// Single routes every turn to one configured backend.
type Single struct {
	backend string
	lookup  BackendLookup
}

// NewSingle creates a Single strategy for backend.
func NewSingle(backend string, lookup BackendLookup) *Single {
	return &Single{backend: backend, lookup: lookup}
}

func (s *Single) Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	c, ok := s.lookup(s.backend)
	if !ok {
		return nil, fmt.Errorf("llmroute: backend not found: %s", s.backend)
	}
	return c.Complete(ctx, req)
}
