package capforge

import (
	"context"

	"github.com/forge-labs/capforge/aiclient"
	"github.com/forge-labs/capforge/internal/metrics"
	"github.com/forge-labs/capforge/models"
)

// costedClient wraps an aiclient.Client and records estimated spend on
// metrics.LLMCostUSD after every completed turn, keyed by backend name and
// model. Cost estimation never blocks or fails a turn: an unpriced model
// silently contributes zero.
type costedClient struct {
	next        aiclient.Client
	backendName string
	modelKey    string
	catalog     models.Catalog
}

func newCostedClient(next aiclient.Client, backendName, modelKey string, catalog models.Catalog) *costedClient {
	return &costedClient{next: next, backendName: backendName, modelKey: modelKey, catalog: catalog}
}

func (c *costedClient) Complete(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	resp, err := c.next.Complete(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}
	result := models.Calculate(c.catalog, c.modelKey, models.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	})
	if result.TotalUSD > 0 {
		metrics.LLMCostUSD.WithLabelValues(c.backendName, c.modelKey).Add(result.TotalUSD)
	}
	return resp, nil
}
