package router

import (
	"context"
	"errors"
	"testing"

	"github.com/forge-labs/capforge/capability"
)

// fakeEmbedder returns a pre-scripted vector per input string, or an error
// for unscripted inputs.
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("fakeEmbedder: no scripted vector for " + text)
	}
	return v, nil
}

func mustCatalog(t *testing.T, items []*capability.Capability) *capability.Catalog {
	t.Helper()
	cat, err := capability.NewCatalog(t.TempDir(), items)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return cat
}

func TestSync_PinsDimensionAndEmbedsMissing(t *testing.T) {
	items := []*capability.Capability{
		{ID: "echo", Summary: "echoes its input", Status: capability.StatusActive},
		{ID: "add", Summary: "adds two integers", Status: capability.StatusActive},
	}
	cat := mustCatalog(t, items)
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"echoes its input":  {1, 0},
		"adds two integers": {0, 1},
	}}

	idx := NewIndex()
	if err := Sync(context.Background(), idx, cat, emb); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if idx.Dim() != 2 {
		t.Errorf("got dim %d, want 2", idx.Dim())
	}
}

func TestSync_DimensionMismatchIsError(t *testing.T) {
	items := []*capability.Capability{
		{ID: "echo", Summary: "echoes its input", Status: capability.StatusActive},
		{ID: "add", Summary: "adds two integers", Status: capability.StatusActive, Embedding: []float64{1, 2, 3}},
	}
	cat := mustCatalog(t, items)
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"echoes its input": {1, 0},
	}}

	idx := NewIndex()
	if err := Sync(context.Background(), idx, cat, emb); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestSync_SkipsNonActive(t *testing.T) {
	items := []*capability.Capability{
		{ID: "broken", Summary: "traps", Status: capability.StatusDeprecated},
	}
	cat := mustCatalog(t, items)
	emb := &fakeEmbedder{vectors: map[string][]float64{}}

	idx := NewIndex()
	if err := Sync(context.Background(), idx, cat, emb); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(idx.vectors) != 0 {
		t.Errorf("expected no vectors for non-active capability, got %d", len(idx.vectors))
	}
}

func TestQuery_RanksBySimilarityAndExcludesNonActive(t *testing.T) {
	items := []*capability.Capability{
		{ID: "echo", Summary: "echoes its input", Status: capability.StatusActive, Embedding: []float64{1, 0}},
		{ID: "add", Summary: "adds two integers", Status: capability.StatusActive, Embedding: []float64{0, 1}},
		{ID: "broken", Summary: "legacy thing", Status: capability.StatusLegacy, ReplacedBy: "add", Embedding: []float64{1, 0}},
	}
	cat := mustCatalog(t, items)
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"echo {\"x\":1}": {1, 0},
	}}

	idx := NewIndex()
	if err := Sync(context.Background(), idx, cat, emb); err != nil {
		t.Fatalf("sync: %v", err)
	}

	matches, err := Query(context.Background(), idx, cat, emb, `echo {"x":1}`, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (legacy/deprecated excluded)", len(matches))
	}
	if matches[0].Capability.ID != "echo" {
		t.Errorf("got top match %q, want echo", matches[0].Capability.ID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("expected echo to score higher than add: %+v", matches)
	}
}

func TestQuery_TopKTruncates(t *testing.T) {
	items := []*capability.Capability{
		{ID: "a", Summary: "a", Status: capability.StatusActive, Embedding: []float64{1, 0}},
		{ID: "b", Summary: "b", Status: capability.StatusActive, Embedding: []float64{0.9, 0.1}},
		{ID: "c", Summary: "c", Status: capability.StatusActive, Embedding: []float64{0, 1}},
	}
	cat := mustCatalog(t, items)
	emb := &fakeEmbedder{vectors: map[string][]float64{"task": {1, 0}}}

	idx := NewIndex()
	if err := Sync(context.Background(), idx, cat, emb); err != nil {
		t.Fatalf("sync: %v", err)
	}
	matches, err := Query(context.Background(), idx, cat, emb, "task", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}

func TestCosineSimilarity_ZeroVectorYieldsZeroNotNaN(t *testing.T) {
	s := cosineSimilarity([]float64{0, 0}, []float64{1, 1})
	if s != 0 {
		t.Errorf("got %v, want 0", s)
	}
}
