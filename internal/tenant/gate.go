package tenant

import (
	"log/slog"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// Denial messages surfaced to callers. They are deliberately generic: a
// denied caller must not learn whether the requested tenant exists.
const (
	DenialAuthRequired = "authentication required"
	DenialNoTenant     = "account not assigned to any tenant"
	DenialMismatch     = "cannot access this tenant"
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Authorized bool
	Reason     string // caller-facing denial message, empty when authorized
}

// Gate decides whether an authenticated caller may act on a tenant's data.
// It fails closed and runs before any conversation access or tool execution.
type Gate struct {
	devMode bool
	logger  *slog.Logger
}

func NewGate(devMode bool, logger *slog.Logger) *Gate {
	return &Gate{devMode: devMode, logger: logger}
}

// Authorize checks the caller against the resolved tenant. There is no
// elevated-role bypass: every caller is confined to their assigned tenant.
func (g *Gate) Authorize(identity *models.Identity, requested string, resolved *models.Tenant) Decision {
	if identity == nil {
		if g.devMode {
			return Decision{Authorized: true}
		}
		return Decision{Reason: DenialAuthRequired}
	}

	if identity.TenantID == "" {
		g.logger.Warn("tenant access denied: caller unassigned",
			"user_id", identity.UserID,
			"requested", requested)
		return Decision{Reason: DenialNoTenant}
	}

	if resolved == nil {
		g.logger.Warn("tenant access denied: unresolved tenant",
			"user_id", identity.UserID,
			"requested", requested)
		return Decision{Reason: DenialMismatch}
	}

	if identity.TenantID != resolved.ID && identity.TenantID != resolved.Slug {
		g.logger.Warn("tenant access denied: assignment mismatch",
			"user_id", identity.UserID,
			"assigned_tenant", identity.TenantID,
			"requested", requested,
			"resolved_tenant", resolved.ID)
		return Decision{Reason: DenialMismatch}
	}

	return Decision{Authorized: true}
}
