package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/crosswindhq/crosswind/internal/broadcast"
	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/conversations"
	"github.com/crosswindhq/crosswind/internal/credentials"
	"github.com/crosswindhq/crosswind/internal/memory"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// scriptedProvider returns canned responses in order and records requests.
type scriptedProvider struct {
	responses []*ChatResponse
	errs      []error
	requests  []*ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return nil, errors.New("no scripted response")
	}
	return p.responses[i], nil
}

// recordingExecutor is a minimal tenant-scoped tool executor.
type recordingExecutor struct {
	executed []string
	result   string
	isError  bool
	panics   bool
}

func (e *recordingExecutor) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: "search_leads", Description: "Search leads", Schema: json.RawMessage(`{"type":"object"}`)},
		{Name: "next_best_action", Description: "Suggest next action", Schema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, args json.RawMessage) models.ToolResult {
	if e.panics {
		panic("tool blew up")
	}
	e.executed = append(e.executed, name)
	content := e.result
	if content == "" {
		content = `{"ok":true}`
	}
	return models.ToolResult{Content: content, IsError: e.isError}
}

type loopFixture struct {
	orchestrator *Orchestrator
	convs        *conversations.Service
	stores       storage.StoreSet
	provider     *scriptedProvider
	tools        *recordingExecutor
	tenant       *models.Tenant
	conv         *models.Conversation
}

func newLoopFixture(t *testing.T, provider *scriptedProvider) *loopFixture {
	t.Helper()
	ctx := context.Background()

	stores := storage.NewMemoryStores()
	hub := broadcast.NewHub(observability.NopLogger(), nil)
	convs := conversations.NewService(stores.Conversations, hub, observability.NopLogger())
	creds := credentials.NewResolver(stores.Integrations, stores.UserCredentials, stores.Settings, observability.NopLogger())

	tenant := &models.Tenant{ID: "t1", Slug: "acme", Name: "Acme"}
	stores.Tenants.Create(ctx, tenant)
	stores.Integrations.Create(ctx, &models.Integration{
		ID: "i1", TenantID: "t1", Provider: "scripted", APIKey: "sk-test", Active: true,
	})

	factory := func(name, apiKey string) (Provider, error) {
		if apiKey == "" {
			return nil, errors.New("missing key")
		}
		return provider, nil
	}

	cfg := config.Default().Agent
	cfg.MaxIterations = 3

	orchestrator := NewOrchestrator(
		convs, creds, memory.NewInMemStore(), factory,
		cfg, config.Default().Memory,
		observability.NopLogger(), nil,
	)

	conv, err := convs.Create(ctx, "t1", "crm", nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	return &loopFixture{
		orchestrator: orchestrator,
		convs:        convs,
		stores:       stores,
		provider:     provider,
		tools:        &recordingExecutor{},
		tenant:       tenant,
		conv:         conv,
	}
}

func (f *loopFixture) run(t *testing.T, userContent string) []*models.Message {
	t.Helper()
	ctx := context.Background()
	if _, err := f.convs.Append(ctx, f.conv, models.RoleUser, userContent, nil); err != nil {
		t.Fatalf("append user message: %v", err)
	}
	f.orchestrator.HandleUserMessage(ctx, RunInput{
		Tenant:       f.tenant,
		Conversation: f.conv,
		UserContent:  userContent,
		Model:        models.ModelConfig{Provider: "scripted", Model: "test-model", Temperature: 0.7},
		Tools:        f.tools,
	})
	history, err := f.convs.History(ctx, f.conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return history
}

func lastMessage(t *testing.T, history []*models.Message) *models.Message {
	t.Helper()
	if len(history) == 0 {
		t.Fatal("empty history")
	}
	return history[len(history)-1]
}

func TestLoopRespondsWithoutTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{
		{Content: "You have 3 open leads.", Usage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 5}},
	}}
	f := newLoopFixture(t, provider)

	history := f.run(t, "how many leads do I have?")
	final := lastMessage(t, history)

	if final.Role != models.RoleAssistant || final.Content != "You have 3 open leads." {
		t.Fatalf("final message = %+v", final)
	}
	if final.Metadata["iterations"] != 1 {
		t.Fatalf("iterations metadata = %v", final.Metadata["iterations"])
	}
	if final.Metadata["model"] != "test-model" {
		t.Fatalf("model metadata = %v", final.Metadata["model"])
	}
}

func TestLoopExecutesToolsAndFeedsResultsBack(t *testing.T) {
	call := models.ToolCall{ID: "tc1", Name: "search_leads", Input: json.RawMessage(`{"query":"acme"}`)}
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []models.ToolCall{call}, Usage: models.TokenUsage{PromptTokens: 10}},
		{Content: "Found one lead.", Usage: models.TokenUsage{PromptTokens: 20, CompletionTokens: 5}},
	}}
	f := newLoopFixture(t, provider)

	history := f.run(t, "find acme leads")

	if got := f.tools.executed; len(got) != 1 || got[0] != "search_leads" {
		t.Fatalf("executed tools = %v", got)
	}

	// user, assistant(tool calls), tool, assistant(final)
	if len(history) != 4 {
		t.Fatalf("history length %d, want 4", len(history))
	}
	if history[1].Role != models.RoleAssistant || len(history[1].ToolCalls) != 1 {
		t.Fatalf("tool-call message = %+v", history[1])
	}
	if history[2].Role != models.RoleTool || history[2].ToolResults[0].ToolCallID != "tc1" {
		t.Fatalf("tool result message = %+v", history[2])
	}
	final := history[3]
	if final.Content != "Found one lead." {
		t.Fatalf("final = %q", final.Content)
	}

	// Second model call saw the tool result in context.
	second := provider.requests[1]
	sawToolResult := false
	for _, msg := range second.Messages {
		if msg.Role == models.RoleTool && len(msg.ToolResults) == 1 {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("tool result missing from second request context")
	}

	// Usage accumulated across iterations.
	usage := final.Metadata["usage"].(models.TokenUsage)
	if usage.PromptTokens != 30 || usage.CompletionTokens != 5 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestLoopIterationBound(t *testing.T) {
	call := models.ToolCall{ID: "tc", Name: "search_leads", Input: json.RawMessage(`{}`)}
	loop := &ChatResponse{ToolCalls: []models.ToolCall{call}}
	provider := &scriptedProvider{responses: []*ChatResponse{loop, loop, loop, loop}}
	f := newLoopFixture(t, provider)

	history := f.run(t, "keep digging")

	if len(provider.requests) != 3 {
		t.Fatalf("model called %d times, want 3", len(provider.requests))
	}
	final := lastMessage(t, history)
	if final.Content != msgBounded {
		t.Fatalf("final = %q, want bounded message", final.Content)
	}
	if final.Metadata["run_status"] != "bounded" {
		t.Fatalf("run_status = %v", final.Metadata["run_status"])
	}
}

func TestLoopNoCredentialsShortCircuits(t *testing.T) {
	provider := &scriptedProvider{}
	f := newLoopFixture(t, provider)

	// Point the run at a tenant with no integration and no other source.
	f.tenant = &models.Tenant{ID: "t-bare", Slug: "bare", Name: "Bare"}
	ctx := context.Background()
	conv, _ := f.convs.Create(ctx, "t-bare", "crm", nil)
	f.conv = conv

	history := f.run(t, "hello")
	final := lastMessage(t, history)

	if final.Content != msgNoCredentials {
		t.Fatalf("final = %q, want no-credentials message", final.Content)
	}
	if len(provider.requests) != 0 {
		t.Fatalf("model called %d times, want 0", len(provider.requests))
	}
}

func TestLoopProviderErrorPersistsApology(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("rate limited")}}
	f := newLoopFixture(t, provider)

	history := f.run(t, "hello")
	final := lastMessage(t, history)

	if final.Content != msgFailed {
		t.Fatalf("final = %q, want failure message", final.Content)
	}
	if final.Metadata["run_status"] != "failed" {
		t.Fatalf("run_status = %v", final.Metadata["run_status"])
	}
}

func TestLoopToolPanicRecovered(t *testing.T) {
	call := models.ToolCall{ID: "tc", Name: "search_leads", Input: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []models.ToolCall{call}},
	}}
	f := newLoopFixture(t, provider)
	f.tools.panics = true

	history := f.run(t, "hello")
	final := lastMessage(t, history)
	if final.Content != msgFailed {
		t.Fatalf("final = %q, want failure message after panic", final.Content)
	}
}

func TestLoopForcedToolOnFirstIterationOnly(t *testing.T) {
	call := models.ToolCall{ID: "tc", Name: "next_best_action", Input: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: []*ChatResponse{
		{ToolCalls: []models.ToolCall{call}},
		{Content: "Call the Acme contact back."},
	}}
	f := newLoopFixture(t, provider)

	f.run(t, "What should I do next?")

	if len(provider.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(provider.requests))
	}
	if provider.requests[0].ForcedTool != "next_best_action" {
		t.Fatalf("first request forced tool = %q", provider.requests[0].ForcedTool)
	}
	if provider.requests[1].ForcedTool != "" {
		t.Fatalf("second request forced tool = %q, want none", provider.requests[1].ForcedTool)
	}
}

func TestLoopSystemPromptAndContext(t *testing.T) {
	provider := &scriptedProvider{responses: []*ChatResponse{{Content: "hi"}}}
	f := newLoopFixture(t, provider)
	f.tenant.Dictionary = "MRR means monthly recurring revenue"

	// A persisted system row must not leak into model context.
	ctx := context.Background()
	f.convs.Append(ctx, f.conv, models.RoleSystem, "internal note", nil)

	f.run(t, "hello")

	req := provider.requests[0]
	if !strings.Contains(req.System, "Acme") {
		t.Fatalf("system prompt missing tenant name: %q", req.System)
	}
	if !strings.Contains(req.System, "MRR means monthly recurring revenue") {
		t.Fatal("system prompt missing tenant dictionary")
	}
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			t.Fatal("system-role row leaked into context messages")
		}
	}
}

func TestPhaseTransitions(t *testing.T) {
	legal := [][2]Phase{
		{PhaseIdle, PhaseResolvingCredentials},
		{PhaseResolvingCredentials, PhaseBuildingContext},
		{PhaseBuildingContext, PhaseAwaitingModel},
		{PhaseAwaitingModel, PhaseExecutingTools},
		{PhaseExecutingTools, PhaseAwaitingModel},
		{PhaseAwaitingModel, PhaseResponded},
	}
	for _, pair := range legal {
		if !canTransition(pair[0], pair[1]) {
			t.Errorf("transition %s -> %s should be legal", pair[0], pair[1])
		}
	}
	illegal := [][2]Phase{
		{PhaseIdle, PhaseAwaitingModel},
		{PhaseExecutingTools, PhaseResponded},
		{PhaseResponded, PhaseAwaitingModel},
	}
	for _, pair := range illegal {
		if canTransition(pair[0], pair[1]) {
			t.Errorf("transition %s -> %s should be illegal", pair[0], pair[1])
		}
	}
}
