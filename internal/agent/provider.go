package agent

import (
	"context"
	"encoding/json"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// Provider is the chat-completion backend contract.
//
// Implementations must be safe for concurrent use; the runner may drive
// completions for many conversations at once.
type Provider interface {
	// Complete issues one blocking chat-completion call. The response
	// carries either final text or tool-call requests, never a stream.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier ("openai", "anthropic").
	Name() string
}

// ProviderFactory builds a provider client for a resolved credential.
// Unknown provider names return an error.
type ProviderFactory func(provider, apiKey string) (Provider, error)

// ChatRequest contains one completion call's inputs.
type ChatRequest struct {
	Model       string            `json:"model"`
	System      string            `json:"system,omitempty"`
	Messages    []ChatMessage     `json:"messages"`
	Tools       []ToolDefinition  `json:"tools,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`

	// ForcedTool, when set, instructs the model to call that specific tool.
	// Only ever set on the first loop iteration.
	ForcedTool string `json:"forced_tool,omitempty"`
}

// ChatMessage is one turn of conversation context sent to the model.
type ChatMessage struct {
	Role        models.Role         `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ChatResponse is the model's reply to one completion call.
type ChatResponse struct {
	Content   string            `json:"content"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
	Usage     models.TokenUsage `json:"usage"`
}

// ToolDefinition is the schema advertised to the model for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ToolExecutor runs tool calls on behalf of the loop. Implementations are
// tenant-scoped: the loop never passes a tenant identifier, so an executor
// bound to one tenant is structurally unable to touch another's rows.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	// Execute runs one tool call. Failures come back as an error-shaped
	// result, never as a Go error; the model reacts to them in-band.
	Execute(ctx context.Context, name string, args json.RawMessage) models.ToolResult
}
