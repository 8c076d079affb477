package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// Ollama adapts a local Ollama server's OpenAI-compatible
// /v1/chat/completions endpoint to Client, the same raw-HTTP style as
// providers.OllamaProvider (no API key, local base URL). It also serves as
// the generic self-hosted OpenAI-compatible backend: one fronted by a
// client-credentials OAuth2 gateway instead of Ollama's usual no-auth local
// listener needs only an OAuth2Config, everything else is identical.
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// OAuth2Config, when passed to NewOllama, authenticates every request with
// an access token obtained via the OAuth2 client-credentials grant instead
// of a static API key — the shape a self-hosted model gateway behind an
// identity provider typically requires.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// NewOllama builds an Ollama-backed Client. baseURL defaults to
// http://localhost:11434. oauth2Cfg may be nil; when set with a non-empty
// ClientID and TokenURL, requests are authenticated with a client-credentials
// access token that's fetched and refreshed automatically instead of going
// out unauthenticated.
func NewOllama(baseURL, model string, oauth2Cfg *OAuth2Config) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	httpClient := &http.Client{}
	if oauth2Cfg != nil && oauth2Cfg.ClientID != "" && oauth2Cfg.TokenURL != "" {
		ccCfg := clientcredentials.Config{
			ClientID:     oauth2Cfg.ClientID,
			ClientSecret: oauth2Cfg.ClientSecret,
			TokenURL:     oauth2Cfg.TokenURL,
			Scopes:       oauth2Cfg.Scopes,
		}
		httpClient = ccCfg.Client(context.Background())
	}
	return &Ollama{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

type ollamaChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model       string              `json:"model"`
	Messages    []ollamaChatMessage `json:"messages"`
	Tools       []ollamaTool        `json:"tools,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Stream      bool                `json:"stream"`
}

type ollamaResponse struct {
	Choices []struct {
		Message ollamaChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type ollamaErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *Ollama) Complete(ctx context.Context, req Request) (*Response, error) {
	oreq := ollamaRequest{
		Model:       modelOrDefault(req.Model, o.model),
		Messages:    buildOllamaMessages(req),
		Tools:       buildOllamaTools(req.Tools),
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("aiclient: marshaling ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("aiclient: building ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aiclient: ollama request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("aiclient: reading ollama response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var eresp ollamaErrorResponse
		_ = json.Unmarshal(respBody, &eresp)
		if httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, eresp.Error.Message)
		}
		return nil, fmt.Errorf("aiclient: ollama returned %d: %s", httpResp.StatusCode, eresp.Error.Message)
	}

	var oresp ollamaResponse
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, fmt.Errorf("aiclient: unmarshaling ollama response: %w", err)
	}
	if len(oresp.Choices) == 0 {
		return &Response{}, nil
	}

	msg := oresp.Choices[0].Message
	var output []Item
	if msg.Content != "" {
		output = append(output, Item{Kind: KindAssistantMessage, AssistantMessage: &AssistantMessage{Text: msg.Content}})
	}
	for _, tc := range msg.ToolCalls {
		output = append(output, Item{Kind: KindFunctionCall, FunctionCall: &FunctionCall{
			CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		}})
	}

	return &Response{
		Output: output,
		Usage:  Usage{PromptTokens: oresp.Usage.PromptTokens, CompletionTokens: oresp.Usage.CompletionTokens},
	}, nil
}

func buildOllamaMessages(req Request) []ollamaChatMessage {
	var out []ollamaChatMessage
	if req.System != "" {
		out = append(out, ollamaChatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, item := range req.Input {
		switch item.Kind {
		case KindUserMessage:
			out = append(out, ollamaChatMessage{Role: RoleUser, Content: item.UserMessage.Text})
		case KindAssistantMessage:
			out = append(out, ollamaChatMessage{Role: RoleAssistant, Content: item.AssistantMessage.Text})
		case KindFunctionCall:
			fc := item.FunctionCall
			out = append(out, ollamaChatMessage{Role: RoleAssistant, ToolCalls: []ollamaToolCall{{
				ID:   fc.CallID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: fc.Name, Arguments: fc.Arguments},
			}}})
		case KindFunctionCallOutput:
			fco := item.FunctionCallOutput
			out = append(out, ollamaChatMessage{Role: "tool", Content: fco.Output, ToolCallID: fco.CallID})
		}
	}
	return out
}

func buildOllamaTools(tools []Tool) []ollamaTool {
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out = append(out, ot)
	}
	return out
}
