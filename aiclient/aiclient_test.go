package aiclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResponse_FunctionCallsAndText(t *testing.T) {
	resp := Response{Output: []Item{
		{Kind: KindAssistantMessage, AssistantMessage: &AssistantMessage{Text: "thinking"}},
		{Kind: KindFunctionCall, FunctionCall: &FunctionCall{CallID: "1", Name: "run_capability"}},
		{Kind: KindAssistantMessage, AssistantMessage: &AssistantMessage{Text: " more"}},
	}}

	calls := resp.FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "run_capability" {
		t.Fatalf("unexpected function calls: %+v", calls)
	}
	if got := resp.Text(); got != "thinking more" {
		t.Fatalf("expected concatenated text, got %q", got)
	}
}

func TestNewUserMessage(t *testing.T) {
	item := NewUserMessage("hello")
	if item.Kind != KindUserMessage || item.UserMessage.Text != "hello" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestNewFunctionCallOutput(t *testing.T) {
	item := NewFunctionCallOutput("call-1", "result", true)
	if item.Kind != KindFunctionCallOutput {
		t.Fatalf("expected function_call_output kind, got %s", item.Kind)
	}
	if !item.FunctionCallOutput.IsError {
		t.Fatal("expected IsError to be propagated")
	}
}

type scriptedClient struct {
	results []result
	calls   int
}

type result struct {
	resp *Response
	err  error
}

func (s *scriptedClient) Complete(context.Context, Request) (*Response, error) {
	r := s.results[s.calls]
	s.calls++
	return r.resp, r.err
}

func TestRetrying_SucceedsAfterTransientFailures(t *testing.T) {
	sc := &scriptedClient{results: []result{
		{err: errors.New("transient")},
		{err: errors.New("transient")},
		{resp: &Response{}},
	}}
	r := NewRetrying(sc, 3, time.Millisecond)

	if _, err := r.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if sc.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sc.calls)
	}
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	sc := &scriptedClient{results: []result{
		{err: errors.New("fail 1")},
		{err: errors.New("fail 2")},
	}}
	r := NewRetrying(sc, 2, time.Millisecond)

	_, err := r.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if sc.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", sc.calls)
	}
}

func TestRetrying_RateLimitedBacksOffLonger(t *testing.T) {
	sc := &scriptedClient{results: []result{
		{err: ErrRateLimited},
		{resp: &Response{}},
	}}
	r := NewRetrying(sc, 2, time.Millisecond)

	start := time.Now()
	if _, err := r.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Fatal("expected the rate-limited backoff to have elapsed")
	}
}
