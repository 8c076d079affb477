// Package router implements the embedding-backed semantic index that maps a
// natural-language task to the top-k most similar Active capabilities.
//
// The Embedder is an injected dependency — any provider that maps a string
// to a fixed-dimension real vector is acceptable (package embedder ships
// concrete implementations). The index itself is a linear scan: the catalog
// is expected to remain small (at most a few hundred entries), so a cosine
// similarity sweep beats the complexity of an ANN structure.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/forge-labs/capforge/capability"
)

// Embedder maps text to a fixed-dimension embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Match is one ranked result from a Query.
type Match struct {
	Capability *capability.Capability
	Score      float64
}

// Index holds the cached embedding vectors for a catalog's capabilities.
// All vectors must share the same dimension (invariant I2); a mismatch is a
// hard error rather than a silent coercion.
type Index struct {
	dim     int
	vectors map[string][]float64
}

// NewIndex creates an empty index with no fixed dimension yet. The dimension
// is pinned by the first vector added via Sync.
func NewIndex() *Index {
	return &Index{vectors: make(map[string][]float64)}
}

// Dim returns the index's fixed vector dimension, or 0 if no vector has been
// added yet.
func (idx *Index) Dim() int { return idx.dim }

// Sync ensures every Active capability in cat has a cached embedding,
// calling embedder.Embed for any that are missing one and persisting the
// result back through cat.SetEmbedding so it survives a restart. It then
// rebuilds the index's in-memory vector map from the catalog's current
// state, dropping vectors for capabilities no longer present.
//
// Sync enforces uniform dimension: the first vector observed (whether
// pre-cached or freshly embedded) pins idx.dim; any capability whose
// embedding has a different length is a fatal error (invariant I2),
// indicating an embedding-provider misconfiguration.
func Sync(ctx context.Context, idx *Index, cat *capability.Catalog, embedder Embedder) error {
	next := make(map[string][]float64, cat.Len())
	for _, cap := range cat.Active() {
		vec := cap.Embedding
		if vec == nil {
			embedded, err := embedder.Embed(ctx, cap.Summary)
			if err != nil {
				return fmt.Errorf("router: embedding capability %q: %w", cap.ID, err)
			}
			vec = embedded
			if err := cat.SetEmbedding(cap.ID, vec); err != nil {
				return fmt.Errorf("router: caching embedding for %q: %w", cap.ID, err)
			}
		}
		if idx.dim == 0 && len(next) == 0 {
			idx.dim = len(vec)
		}
		if len(vec) != idx.dim {
			return fmt.Errorf("router: capability %q has embedding dimension %d, index dimension is %d", cap.ID, len(vec), idx.dim)
		}
		next[cap.ID] = vec
	}
	idx.vectors = next
	return nil
}

// Query embeds task and returns the top-k most similar Active capabilities,
// sorted by descending cosine similarity. Deprecated and Legacy capabilities
// never appear in results, because Sync only ever indexes Active ones.
func Query(ctx context.Context, idx *Index, cat *capability.Catalog, embedder Embedder, task string, k int) ([]Match, error) {
	queryVec, err := embedder.Embed(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("router: embedding query: %w", err)
	}
	if idx.dim != 0 && len(queryVec) != idx.dim {
		return nil, fmt.Errorf("router: query embedding dimension %d does not match index dimension %d", len(queryVec), idx.dim)
	}

	matches := make([]Match, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		cap, ok := cat.Get(id)
		if !ok || !cap.IsActive() {
			continue
		}
		matches = append(matches, Match{Capability: cap, Score: cosineSimilarity(queryVec, vec)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// Stable tie-break so test expectations don't depend on map order.
		return matches[i].Capability.ID < matches[j].Capability.ID
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// cosineSimilarity returns the cosine similarity of a and b. A zero-length
// vector on either side yields 0 rather than NaN, per spec.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
