package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI adapts an OpenAI chat-completions endpoint (or any
// OpenAI-compatible one, via baseURL) to Client, the same way
// providers.OpenAIProvider adapts it to providers.Provider.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI-backed Client. baseURL overrides the default
// endpoint, for OpenAI-compatible backends (e.g. a local vLLM server).
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    modelOrDefault(req.Model, o.model),
		Messages: buildMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return &Response{Usage: usageFrom(completion.Usage)}, nil
	}

	msg := completion.Choices[0].Message
	var output []Item
	if msg.Content != "" {
		output = append(output, Item{Kind: KindAssistantMessage, AssistantMessage: &AssistantMessage{Text: msg.Content}})
	}
	for _, tc := range msg.ToolCalls {
		output = append(output, Item{Kind: KindFunctionCall, FunctionCall: &FunctionCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}

	return &Response{Output: output, Usage: usageFrom(completion.Usage)}, nil
}

func modelOrDefault(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func usageFrom(u openai.CompletionUsage) Usage {
	return Usage{PromptTokens: int(u.PromptTokens), CompletionTokens: int(u.CompletionTokens)}
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, item := range req.Input {
		switch item.Kind {
		case KindUserMessage:
			out = append(out, openai.UserMessage(item.UserMessage.Text))
		case KindAssistantMessage:
			out = append(out, openai.AssistantMessage(item.AssistantMessage.Text))
		case KindFunctionCall:
			fc := item.FunctionCall
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: fc.CallID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      fc.Name,
							Arguments: fc.Arguments,
						},
					}},
				},
			})
		case KindFunctionCallOutput:
			out = append(out, openai.ToolMessage(item.FunctionCallOutput.Output, item.FunctionCallOutput.CallID))
		}
	}
	return out
}

func buildTools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		var schema openai.FunctionParameters
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}

// classifyOpenAIError maps a 429 status from the SDK's error type to
// ErrRateLimited so Retrying can back off longer.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
