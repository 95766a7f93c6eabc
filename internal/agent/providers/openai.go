// Package providers implements the chat-completion backends for the agent
// loop. Each provider converts between the loop's request format and one
// vendor SDK, with retry on transient failures.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// OpenAIProvider implements agent.Provider on the OpenAI chat completions
// API. Safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider. Only APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete issues one blocking chat completion with retry on transient
// failures (rate limits, 5xx, network).
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	apiReq := p.buildRequest(req)

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, apiReq)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("openai: %w", err)
		}
		if attempt < p.maxRetries {
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0].Message
	out := &agent.ChatResponse{
		Content: choice.Content,
		Usage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.ChatRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg)...)
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	for _, def := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}
	if req.ForcedTool != "" {
		apiReq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ForcedTool},
		}
	}
	return apiReq
}

// convertMessage maps one context message onto OpenAI's wire roles. A tool
// message with multiple results expands to one wire message per result.
func convertMessage(msg agent.ChatMessage) []openai.ChatCompletionMessage {
	switch msg.Role {
	case models.RoleTool:
		out := make([]openai.ChatCompletionMessage, 0, len(msg.ToolResults))
		for _, result := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
			})
		}
		if len(out) == 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleTool,
				Content: msg.Content,
			})
		}
		return out

	case models.RoleAssistant:
		wire := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		return []openai.ChatCompletionMessage{wire}

	default:
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: msg.Content,
		}}
	}
}

// isRetryable classifies transient failures worth a backoff and retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused")
}
