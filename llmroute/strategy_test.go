package llmroute

import (
	"context"
	"errors"
	"testing"

	"github.com/forge-labs/capforge/aiclient"
)

type mockClient struct {
	resp  *aiclient.Response
	err   error
	calls int
}

func (m *mockClient) Complete(context.Context, aiclient.Request) (*aiclient.Response, error) {
	m.calls++
	return m.resp, m.err
}

func newLookup(clients map[string]aiclient.Client) BackendLookup {
	return func(name string) (aiclient.Client, bool) {
		c, ok := clients[name]
		return c, ok
	}
}

func TestSingle_Complete(t *testing.T) {
	mc := &mockClient{resp: &aiclient.Response{Usage: aiclient.Usage{PromptTokens: 1}}}
	s := NewSingle("a", newLookup(map[string]aiclient.Client{"a": mc}))

	if _, err := s.Complete(context.Background(), aiclient.Request{Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if mc.calls != 1 {
		t.Fatalf("expected 1 call, got %d", mc.calls)
	}
}

func TestSingle_BackendNotFound(t *testing.T) {
	s := NewSingle("missing", newLookup(nil))
	if _, err := s.Complete(context.Background(), aiclient.Request{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFallback_FallsToSecond(t *testing.T) {
	bad := &mockClient{err: errors.New("down")}
	good := &mockClient{resp: &aiclient.Response{}}

	f := NewFallback([]string{"bad", "good"}, newLookup(map[string]aiclient.Client{"bad": bad, "good": good}))

	if _, err := f.Complete(context.Background(), aiclient.Request{}); err != nil {
		t.Fatal(err)
	}
	if good.calls != 1 {
		t.Fatalf("expected good to be called once, got %d", good.calls)
	}
}

func TestFallback_AllFail(t *testing.T) {
	bad1 := &mockClient{err: errors.New("fail1")}
	bad2 := &mockClient{err: errors.New("fail2")}

	f := NewFallback([]string{"a", "b"}, newLookup(map[string]aiclient.Client{"a": bad1, "b": bad2}))

	if _, err := f.Complete(context.Background(), aiclient.Request{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFallback_SkipsCircuitOpenBackend(t *testing.T) {
	bad := &mockClient{err: errors.New("down")}
	good := &mockClient{resp: &aiclient.Response{}}

	f := NewFallback([]string{"bad", "good"}, newLookup(map[string]aiclient.Client{"bad": bad, "good": good}))
	// Trip "bad"'s breaker by driving it through its failure threshold (5
	// consecutive failures by default).
	for i := 0; i < 5; i++ {
		_, _ = f.Complete(context.Background(), aiclient.Request{})
		// Keep bad failing on every iteration so each call tries it first.
		bad.err = errors.New("down")
	}

	callsBefore := bad.calls
	if _, err := f.Complete(context.Background(), aiclient.Request{}); err != nil {
		t.Fatal(err)
	}
	if bad.calls != callsBefore {
		t.Fatalf("expected bad's open circuit to skip it, call count changed from %d to %d", callsBefore, bad.calls)
	}
}

func TestLoadBalance_RespectsWeights(t *testing.T) {
	ma := &mockClient{resp: &aiclient.Response{}}
	mb := &mockClient{resp: &aiclient.Response{}}

	lb := NewLoadBalance([]Target{{Backend: "a", Weight: 90}, {Backend: "b", Weight: 10}},
		newLookup(map[string]aiclient.Client{"a": ma, "b": mb}))

	for i := 0; i < 500; i++ {
		if _, err := lb.Complete(context.Background(), aiclient.Request{}); err != nil {
			t.Fatal(err)
		}
	}
	if ma.calls < 350 {
		t.Errorf("expected backend a to dominate, got %d/%d", ma.calls, ma.calls+mb.calls)
	}
	if mb.calls == 0 {
		t.Error("expected backend b to get some traffic")
	}
}

func TestLoadBalance_NoTargets(t *testing.T) {
	lb := NewLoadBalance(nil, newLookup(nil))
	if _, err := lb.Complete(context.Background(), aiclient.Request{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestConditional_MatchesModelPrefix(t *testing.T) {
	openai := &mockClient{resp: &aiclient.Response{}}
	bedrock := &mockClient{resp: &aiclient.Response{}}

	c := NewConditional([]ConditionRule{
		{Key: "model_prefix", Value: "gpt-", Backend: "openai"},
		{Key: "model_prefix", Value: "anthropic.", Backend: "bedrock"},
	}, "openai", newLookup(map[string]aiclient.Client{"openai": openai, "bedrock": bedrock}))

	if _, err := c.Complete(context.Background(), aiclient.Request{Model: "anthropic.claude-3-5-sonnet"}); err != nil {
		t.Fatal(err)
	}
	if bedrock.calls != 1 {
		t.Fatalf("expected bedrock to be called, got %d calls", bedrock.calls)
	}
	if openai.calls != 0 {
		t.Errorf("expected openai not to be called, got %d calls", openai.calls)
	}
}

func TestConditional_FallsBackWhenNoRuleMatches(t *testing.T) {
	fallback := &mockClient{resp: &aiclient.Response{}}

	c := NewConditional([]ConditionRule{
		{Key: "model", Value: "gpt-4o", Backend: "other"},
	}, "fallback", newLookup(map[string]aiclient.Client{"fallback": fallback}))

	if _, err := c.Complete(context.Background(), aiclient.Request{Model: "unknown"}); err != nil {
		t.Fatal(err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback to be called, got %d", fallback.calls)
	}
}
