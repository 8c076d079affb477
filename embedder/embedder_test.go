package embedder

import (
	"context"
	"math"
	"testing"
)

func TestHash_Deterministic(t *testing.T) {
	h := NewHash(32)
	a, err := h.Embed(context.Background(), "echoes its input")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := h.Embed(context.Background(), "echoes its input")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("got dim %d, want 32", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestHash_L2Normalized(t *testing.T) {
	h := NewHash(16)
	v, err := h.Embed(context.Background(), "adds two integers together")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-9 {
		t.Errorf("got norm %v, want ~1.0", norm)
	}
}

func TestHash_RejectsEmptyText(t *testing.T) {
	h := NewHash(16)
	if _, err := h.Embed(context.Background(), ""); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestHash_DefaultsDimension(t *testing.T) {
	h := NewHash(0)
	v, err := h.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 64 {
		t.Errorf("got dim %d, want default 64", len(v))
	}
}
