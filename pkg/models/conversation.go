package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is a tenant-scoped thread of agent messages.
type Conversation struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	AgentName string             `json:"agent_name"`
	Status    ConversationStatus `json:"status"`
	Title     string             `json:"title,omitempty"`
	Topic     string             `json:"topic,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Message belongs to exactly one conversation. Insertion order is the only
// serialization used to rebuild model context, so CreatedAt must be stable
// and monotonic within a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult   `json:"tool_results,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ToolCall is an LLM request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool execution. Errors are communicated via
// IsError so the model can react instead of the turn aborting.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TokenUsage records model token consumption for a single completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates usage across loop iterations.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}
