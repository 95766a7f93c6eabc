// Package agent implements the orchestration loop: given a persisted user
// message it resolves credentials, assembles model context, and alternates
// completion calls with tool execution until the model produces a final
// answer or the iteration bound is hit.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/conversations"
	"github.com/crosswindhq/crosswind/internal/credentials"
	"github.com/crosswindhq/crosswind/internal/memory"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// User-facing terminal messages. Always calm and generic; internal detail
// goes to the log, never to the end user.
const (
	msgNoCredentials = "I can't respond yet because no AI provider key is configured for your organization. Please ask an administrator to set one up."
	msgBounded       = "I couldn't complete that request within the allowed number of steps. Please try again, or break the request into smaller parts."
	msgFailed        = "Sorry, something went wrong while I was working on that. Please try again in a moment."
)

// RunInput is everything one orchestration run needs. The triggering user
// message is already persisted; it arrives via history replay.
type RunInput struct {
	Tenant       *models.Tenant
	Conversation *models.Conversation
	UserContent  string
	UserID       string

	// Credential overrides from the request, tried before stored sources.
	ExplicitKey string
	HeaderKey   string

	Model models.ModelConfig
	Tools ToolExecutor
}

// Orchestrator drives agent runs. One instance serves all conversations.
type Orchestrator struct {
	conversations *conversations.Service
	credentials   *credentials.Resolver
	memory        memory.Store
	factory       ProviderFactory
	cfg           config.AgentConfig
	memCfg        config.MemoryConfig
	logger        *slog.Logger
	metrics       *observability.Metrics
}

func NewOrchestrator(
	convs *conversations.Service,
	creds *credentials.Resolver,
	mem memory.Store,
	factory ProviderFactory,
	cfg config.AgentConfig,
	memCfg config.MemoryConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		conversations: convs,
		credentials:   creds,
		memory:        mem,
		factory:       factory,
		cfg:           cfg,
		memCfg:        memCfg,
		logger:        logger,
		metrics:       metrics,
	}
}

// HandleUserMessage runs one agent turn to completion. It never returns an
// error: every failure is logged and converted into a persisted, user-visible
// assistant message. Callers invoke it detached from the HTTP response path.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, in RunInput) {
	logger := o.logger.With(
		"conversation_id", in.Conversation.ID,
		"tenant_id", in.Tenant.ID,
		"op", "agent_run",
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent run panicked", "panic", r)
			o.persistTerminal(in, msgFailed, "failed")
		}
	}()

	if o.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunDeadline)
		defer cancel()
	}

	status, err := o.run(ctx, logger, in)
	if err != nil {
		logger.Error("agent run terminated", "status", status, "error", err)
	}
	if o.metrics != nil {
		o.metrics.AgentRunCounter.WithLabelValues(status).Inc()
	}
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, in RunInput) (string, error) {
	t := &turn{phase: PhaseIdle}

	// ResolvingCredentials: no key is a normal outcome with its own message,
	// not an error.
	if err := t.to(PhaseResolvingCredentials); err != nil {
		o.persistTerminal(in, msgFailed, "failed")
		return "failed", err
	}
	key, source, err := o.credentials.Resolve(ctx, credentials.Request{
		ExplicitKey: in.ExplicitKey,
		HeaderKey:   in.HeaderKey,
		UserID:      in.UserID,
		TenantID:    in.Tenant.ID,
		Provider:    in.Model.Provider,
	})
	if err != nil {
		t.to(PhaseFailed)
		o.persistTerminal(in, msgFailed, "failed")
		return "failed", &LoopError{Phase: PhaseResolvingCredentials, Cause: err}
	}
	if key == "" {
		t.to(PhaseFailed)
		o.persistTerminal(in, msgNoCredentials, "no_credentials")
		return "no_credentials", nil
	}

	provider, err := o.factory(in.Model.Provider, key)
	if err != nil {
		t.to(PhaseFailed)
		o.persistTerminal(in, msgFailed, "failed")
		return "failed", &LoopError{Phase: PhaseResolvingCredentials, Cause: err}
	}
	logger.Debug("credentials resolved", "provider", in.Model.Provider, "source", source)

	// BuildingContext: one system message, then the prior history with
	// system-role rows dropped. The triggering user message is already in
	// the history.
	if err := t.to(PhaseBuildingContext); err != nil {
		o.persistTerminal(in, msgFailed, "failed")
		return "failed", err
	}
	recalled, err := o.recallMemory(ctx, in)
	if err != nil {
		logger.Warn("memory recall failed, continuing without it", "error", err)
	}
	system := BuildSystemPrompt(in.Tenant, recalled)

	history, err := o.conversations.History(ctx, in.Conversation.ID)
	if err != nil {
		t.to(PhaseFailed)
		o.persistTerminal(in, msgFailed, "failed")
		return "failed", &LoopError{Phase: PhaseBuildingContext, Cause: err}
	}
	msgs := contextMessages(history)

	var (
		defs       = in.Tools.Definitions()
		forced     = o.forcedTool(in.UserContent, defs)
		usage      models.TokenUsage
		toolsUsed  []string
		iterations int
	)

	for iteration := 0; iteration < o.cfg.MaxIterations; iteration++ {
		t.iteration = iteration
		iterations = iteration + 1

		if err := t.to(PhaseAwaitingModel); err != nil {
			o.persistTerminal(in, msgFailed, "failed")
			return "failed", err
		}

		req := &ChatRequest{
			Model:       in.Model.Model,
			System:      system,
			Messages:    msgs,
			Tools:       defs,
			Temperature: models.ClampTemperature(in.Model.Temperature),
			MaxTokens:   o.cfg.MaxTokens,
		}
		if iteration == 0 {
			req.ForcedTool = forced
		}

		resp, err := o.complete(ctx, provider, in.Model.Model, req)
		if err != nil {
			t.to(PhaseFailed)
			o.persistTerminal(in, msgFailed, "failed")
			return "failed", &LoopError{Phase: PhaseAwaitingModel, Iteration: iteration, Cause: err}
		}
		usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				// Treat an empty final answer like a model failure.
				t.to(PhaseFailed)
				o.persistTerminal(in, msgFailed, "failed")
				return "failed", &LoopError{Phase: PhaseAwaitingModel, Iteration: iteration, Cause: fmt.Errorf("empty completion")}
			}

			t.to(PhaseResponded)
			o.persistResponse(in, content, models.Message{
				Metadata: map[string]any{
					"provider":   in.Model.Provider,
					"model":      in.Model.Model,
					"usage":      usage,
					"tools_used": toolsUsed,
					"iterations": iterations,
				},
			})
			o.rememberToolContext(in, toolsUsed)
			logger.Info("agent run responded",
				"iterations", iterations,
				"tools_used", toolsUsed,
				"prompt_tokens", usage.PromptTokens,
				"completion_tokens", usage.CompletionTokens)
			return "responded", nil
		}

		// ExecutingTools: record the raw requests, run each sequentially,
		// and feed one tool-role message back per call.
		if err := t.to(PhaseExecutingTools); err != nil {
			o.persistTerminal(in, msgFailed, "failed")
			return "failed", err
		}

		assistantMsg := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := o.conversations.AppendMessage(ctx, in.Conversation, &assistantMsg); err != nil {
			t.to(PhaseFailed)
			o.persistTerminal(in, msgFailed, "failed")
			return "failed", &LoopError{Phase: PhaseExecutingTools, Iteration: iteration, Cause: err}
		}
		msgs = append(msgs, ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := in.Tools.Execute(ctx, call.Name, call.Input)
			result.ToolCallID = call.ID
			toolsUsed = append(toolsUsed, call.Name)

			toolMsg := models.Message{
				Role:        models.RoleTool,
				Content:     result.Content,
				ToolResults: []models.ToolResult{result},
			}
			if err := o.conversations.AppendMessage(ctx, in.Conversation, &toolMsg); err != nil {
				t.to(PhaseFailed)
				o.persistTerminal(in, msgFailed, "failed")
				return "failed", &LoopError{Phase: PhaseExecutingTools, Iteration: iteration, Cause: err}
			}
			msgs = append(msgs, ChatMessage{
				Role:        models.RoleTool,
				Content:     result.Content,
				ToolResults: []models.ToolResult{result},
			})
		}
	}

	// Bound exceeded: a designed terminal state with its own message.
	t.to(PhaseFailed)
	o.persistTerminal(in, msgBounded, "bounded")
	return "bounded", &LoopError{Phase: PhaseAwaitingModel, Iteration: o.cfg.MaxIterations, Cause: ErrIterationBound}
}

// complete issues one completion call under the per-call timeout.
func (o *Orchestrator) complete(ctx context.Context, provider Provider, model string, req *ChatRequest) (*ChatResponse, error) {
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := provider.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if o.metrics != nil {
		o.metrics.LLMRequestDuration.WithLabelValues(provider.Name(), model).Observe(elapsed)
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.LLMRequestCounter.WithLabelValues(provider.Name(), model, status).Inc()
		if resp != nil {
			o.metrics.LLMTokensUsed.WithLabelValues(provider.Name(), model, "prompt").Add(float64(resp.Usage.PromptTokens))
			o.metrics.LLMTokensUsed.WithLabelValues(provider.Name(), model, "completion").Add(float64(resp.Usage.CompletionTokens))
		}
	}
	return resp, err
}

func (o *Orchestrator) recallMemory(ctx context.Context, in RunInput) ([]string, error) {
	if o.memory == nil || o.memCfg.TopK <= 0 {
		return nil, nil
	}
	return o.memory.List(ctx, memory.Key(in.Tenant.ID, in.Conversation.ID, "facts"), o.memCfg.TopK)
}

// rememberToolContext leaves a breadcrumb of this turn's tool usage in
// ephemeral memory so later turns can reference prior lookups cheaply.
func (o *Orchestrator) rememberToolContext(in RunInput, toolsUsed []string) {
	if o.memory == nil || len(toolsUsed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := "tools used: " + strings.Join(toolsUsed, ", ")
	key := memory.Key(in.Tenant.ID, in.Conversation.ID, "facts")
	if err := o.memory.Append(ctx, key, entry, o.memCfg.TTL); err != nil {
		o.logger.Warn("memory append failed", "error", err)
	}
}

func (o *Orchestrator) forcedTool(content string, defs []ToolDefinition) string {
	name := DetectForcedTool(content)
	if name == "" {
		return ""
	}
	for _, def := range defs {
		if def.Name == name {
			return name
		}
	}
	return ""
}

// persistResponse appends the final assistant message.
func (o *Orchestrator) persistResponse(in RunInput, content string, template models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := template
	msg.Role = models.RoleAssistant
	msg.Content = content
	if err := o.conversations.AppendMessage(ctx, in.Conversation, &msg); err != nil {
		o.logger.Error("persist assistant response failed",
			"conversation_id", in.Conversation.ID, "error", err)
	}
}

// persistTerminal appends a user-visible terminal message for a failed or
// short-circuited run. Uses a fresh context so it still works when the run
// context is cancelled or past its deadline.
func (o *Orchestrator) persistTerminal(in RunInput, content, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := models.Message{
		Role:     models.RoleAssistant,
		Content:  content,
		Metadata: map[string]any{"run_status": status},
	}
	if err := o.conversations.AppendMessage(ctx, in.Conversation, &msg); err != nil {
		o.logger.Error("persist terminal message failed",
			"conversation_id", in.Conversation.ID, "status", status, "error", err)
	}
}

// contextMessages converts stored history into model context, dropping any
// persisted system-role rows; the system prompt is rebuilt fresh each run.
func contextMessages(history []*models.Message) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		msgs = append(msgs, ChatMessage{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return msgs
}

// turn tracks the phase of one run and enforces legal transitions.
type turn struct {
	phase     Phase
	iteration int
}

func (t *turn) to(next Phase) error {
	if !canTransition(t.phase, next) && !next.Terminal() {
		return fmt.Errorf("illegal phase transition %s -> %s", t.phase, next)
	}
	t.phase = next
	return nil
}
