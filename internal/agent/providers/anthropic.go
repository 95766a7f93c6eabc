package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// AnthropicProvider implements agent.Provider on the Anthropic Messages API.
// The underlying call streams; Complete accumulates the stream into a single
// response, which is all the orchestration loop consumes.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete issues one completion and blocks until the stream finishes,
// retrying stream creation on transient failures.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		stream, err = p.createStream(ctx, req)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			return nil, fmt.Errorf("anthropic: %w", err)
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
		return nil, fmt.Errorf("anthropic: max retries exceeded: %w", err)
	}

	return p.collect(stream)
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.ChatRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.ForcedTool != "" {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.ForcedTool},
		}
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// collect drains the event stream into one blocking response.
func (p *AnthropicProvider) collect(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) (*agent.ChatResponse, error) {
	var (
		content     strings.Builder
		toolCalls   []models.ToolCall
		currentCall *models.ToolCall
		toolInput   strings.Builder
		usage       models.TokenUsage
	)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				content.WriteString(delta.Text)
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentCall.Input = json.RawMessage(input)
				toolCalls = append(toolCalls, *currentCall)
				currentCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			return &agent.ChatResponse{
				Content:   content.String(),
				ToolCalls: toolCalls,
				Usage:     usage,
			}, nil

		case "error":
			return nil, errors.New("anthropic: stream error")
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return &agent.ChatResponse{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

// convertAnthropicMessages maps context messages onto Anthropic content
// blocks. System rows never appear here; the system prompt rides separately.
func convertAnthropicMessages(messages []agent.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role != models.RoleTool && msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				tr.ToolCallID,
				tr.Content,
				tr.IsError,
			))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(call.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Tool results travel as user messages in the Anthropic API.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
