package aiclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Bedrock adapts Anthropic Claude models served through AWS Bedrock's
// InvokeModel API to Client, following the same anthropic_version wire
// envelope as providers.BedrockProvider's completeAnthropic path, extended
// with the "tools"/"tool_use"/"tool_result" blocks the orchestrator needs.
type Bedrock struct {
	client  *bedrockruntime.Client
	model   string
	region  string
}

// NewBedrock builds a Bedrock-backed Client for Anthropic Claude models.
// region defaults to us-east-1.
func NewBedrock(ctx context.Context, region, model string) (*Bedrock, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aiclient: loading AWS config: %w", err)
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(cfg), model: model, region: region}, nil
}

type bedrockContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type bedrockMessage struct {
	Role    string                 `json:"role"`
	Content []bedrockContentBlock  `json:"content"`
}

type bedrockTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	ID         string                 `json:"id"`
	Content    []bedrockContentBlock  `json:"content"`
	StopReason string                 `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *Bedrock) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	breq := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.System,
		Temperature:      req.Temperature,
		Messages:         buildBedrockMessages(req.Input),
		Tools:            buildBedrockTools(req.Tools),
	}

	body, err := json.Marshal(breq)
	if err != nil {
		return nil, fmt.Errorf("aiclient: marshaling bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelOrDefault(req.Model, b.model)),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("aiclient: bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("aiclient: unmarshaling bedrock response: %w", err)
	}

	var output []Item
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			output = append(output, Item{Kind: KindAssistantMessage, AssistantMessage: &AssistantMessage{Text: block.Text}})
		case "tool_use":
			output = append(output, Item{Kind: KindFunctionCall, FunctionCall: &FunctionCall{
				CallID:    block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			}})
		}
	}

	return &Response{
		Output: output,
		Usage:  Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens},
	}, nil
}

// buildBedrockMessages folds the turn-loop Item sequence into Anthropic's
// alternating user/assistant message list, merging a FunctionCall and the
// AssistantMessage that precedes it into one assistant turn, and a
// FunctionCallOutput into the next user turn's tool_result block.
func buildBedrockMessages(items []Item) []bedrockMessage {
	var out []bedrockMessage
	for _, item := range items {
		var role string
		var block bedrockContentBlock
		switch item.Kind {
		case KindUserMessage:
			role, block = "user", bedrockContentBlock{Type: "text", Text: item.UserMessage.Text}
		case KindAssistantMessage:
			role, block = "assistant", bedrockContentBlock{Type: "text", Text: item.AssistantMessage.Text}
		case KindFunctionCall:
			fc := item.FunctionCall
			role, block = "assistant", bedrockContentBlock{
				Type: "tool_use", ID: fc.CallID, Name: fc.Name, Input: json.RawMessage(fc.Arguments),
			}
		case KindFunctionCallOutput:
			fco := item.FunctionCallOutput
			role, block = "user", bedrockContentBlock{
				Type: "tool_result", ToolUseID: fco.CallID, Content: fco.Output, IsError: fco.IsError,
			}
		default:
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, bedrockMessage{Role: role, Content: []bedrockContentBlock{block}})
	}
	return out
}

func buildBedrockTools(tools []Tool) []bedrockTool {
	out := make([]bedrockTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, bedrockTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}
