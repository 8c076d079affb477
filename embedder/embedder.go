// Package embedder provides concrete implementations of router.Embedder.
//
// OpenAI wraps github.com/openai/openai-go's embeddings endpoint, grounded
// on the same SDK call the teacher gateway uses for its own
// providers.OpenAIProvider.Embed. Hash is a dependency-free deterministic
// double for tests and offline development, per the design note in spec §9
// ("ship at least an in-memory fake for tests: deterministic embeddings by
// hashing").
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embeds text using an OpenAI embedding model (default
// text-embedding-3-small).
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed embedder. baseURL may be empty to use
// the default API endpoint.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Embed implements router.Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("embedder: text must not be empty")
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: openai embeddings request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedder: openai returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

// Hash is a deterministic, dependency-free Embedder: it hashes overlapping
// trigrams of the input into a fixed-dimension bag-of-features vector and
// L2-normalizes it. Two calls with the same text always produce the same
// vector; semantically similar strings that share trigrams score higher
// under cosine similarity than unrelated ones. Intended for tests and
// offline development, not production ranking quality.
type Hash struct {
	dim int
}

// NewHash creates a Hash embedder producing vectors of the given dimension.
// A non-positive dim defaults to 64.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 64
	}
	return &Hash{dim: dim}
}

// Embed implements router.Embedder.
func (h *Hash) Embed(_ context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("embedder: text must not be empty")
	}
	vec := make([]float64, h.dim)
	const n = 3
	runes := []rune(text)
	if len(runes) < n {
		runes = append(runes, make([]rune, n-len(runes))...)
	}
	for i := 0; i+n <= len(runes); i++ {
		gram := string(runes[i : i+n])
		h64 := fnv.New64a()
		_, _ = h64.Write([]byte(gram))
		idx := h64.Sum64() % uint64(h.dim)
		vec[idx]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
