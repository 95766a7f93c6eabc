// Package tools implements the closed tool registry the agent loop executes
// against. Every tool runs with a resolved tenant UUID baked in at
// construction time, so a tool handler cannot read another tenant's rows no
// matter what arguments the model supplies.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// Tier is the trust level of the invocation channel.
type Tier int

const (
	// TierAgent is the standard chat path.
	TierAgent Tier = iota
	// TierRealtime is the lower-trust voice/realtime path; destructive
	// operations are rejected before execution.
	TierRealtime
)

// destructivePrefixes classify operations rejected on lower-trust tiers.
var destructivePrefixes = []string{"delete_", "drop_", "truncate_", "bulk_", "purge_"}

// destructiveDenylist names tools that are destructive regardless of prefix.
var destructiveDenylist = map[string]bool{
	"merge_accounts": true,
}

// Env is the tenant-scoped execution environment handed to tool handlers.
type Env struct {
	Tenant *models.Tenant
	CRM    storage.CRMStore
	Config config.ToolsConfig
}

// handler runs one tool. Returned errors become error-shaped results for the
// model, never turn-aborting failures.
type handler func(ctx context.Context, env *Env, args json.RawMessage) (string, error)

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	run         handler
}

// Registry is the closed tool set. Tools are registered at construction;
// there is no runtime extension point.
type Registry struct {
	tools   map[string]tool
	order   []string
	crm     storage.CRMStore
	cfg     config.ToolsConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewRegistry(crm storage.CRMStore, cfg config.ToolsConfig, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:   make(map[string]tool),
		crm:     crm,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	r.register(snapshotTool())
	r.register(searchLeadsTool())
	r.register(createLeadTool())
	r.register(searchAccountsTool())
	r.register(searchContactsTool())
	r.register(updateOpportunityTool())
	r.register(nextBestActionTool())
	return r
}

func (r *Registry) register(t tool) {
	r.tools[t.name] = t
	r.order = append(r.order, t.name)
}

// Destructive reports whether a tool name is classified destructive, by
// prefix or by the explicit denylist.
func Destructive(name string) bool {
	if destructiveDenylist[name] {
		return true
	}
	for _, prefix := range destructivePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ForTenant binds the registry to one resolved tenant at a trust tier. The
// returned executor satisfies the agent loop's contract.
func (r *Registry) ForTenant(tenant *models.Tenant, tier Tier) *TenantExecutor {
	return &TenantExecutor{registry: r, tenant: tenant, tier: tier}
}

// TenantExecutor executes tools for exactly one tenant.
type TenantExecutor struct {
	registry *Registry
	tenant   *models.Tenant
	tier     Tier
}

var _ agent.ToolExecutor = (*TenantExecutor)(nil)

// Definitions returns the schema set advertised to the model, in stable
// registration order.
func (e *TenantExecutor) Definitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(e.registry.order))
	for _, name := range e.registry.order {
		t := e.registry.tools[name]
		defs = append(defs, agent.ToolDefinition{
			Name:        t.name,
			Description: t.description,
			Schema:      t.schema,
		})
	}
	return defs
}

// Execute runs one tool call. Unknown names, rejected destructive calls, and
// handler failures all come back as error-shaped results.
func (e *TenantExecutor) Execute(ctx context.Context, name string, args json.RawMessage) models.ToolResult {
	r := e.registry

	t, ok := r.tools[name]
	if !ok {
		r.count(name, "error")
		return models.ToolResult{Content: fmt.Sprintf("unknown tool %q", name), IsError: true}
	}
	if e.tier == TierRealtime && Destructive(name) {
		r.logger.Warn("destructive tool rejected on realtime tier",
			"tool", name, "tenant_id", e.tenant.ID)
		r.count(name, "error")
		return models.ToolResult{Content: "this operation is not available on this channel", IsError: true}
	}

	env := &Env{Tenant: e.tenant, CRM: r.crm, Config: r.cfg}

	start := time.Now()
	content, err := t.run(ctx, env, args)
	if r.metrics != nil {
		r.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		r.logger.Warn("tool execution failed",
			"tool", name, "tenant_id", e.tenant.ID, "error", err)
		r.count(name, "error")
		return models.ToolResult{Content: "tool error: " + err.Error(), IsError: true}
	}

	preview := Truncate(content, r.cfg.MaxResultChars)
	r.logger.Debug("tool executed",
		"tool", name, "tenant_id", e.tenant.ID, "preview", preview)
	r.count(name, "success")
	return models.ToolResult{Content: preview}
}

func (r *Registry) count(name, status string) {
	if r.metrics != nil {
		r.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}
}

// Truncate caps a tool result before it is echoed into logs or the next
// model turn. The cut backs up to a rune boundary so the preview stays
// valid UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "… [truncated]"
}

// clampLimit bounds a model-supplied limit to [1, max], defaulting when
// absent or out of range.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
