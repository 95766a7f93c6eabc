package models

import "time"

// Tenant is an isolated customer organization. Every data access and tool
// execution is scoped by the tenant's UUID, never by a caller-supplied string.
type Tenant struct {
	ID         string    `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	Dictionary string    `json:"dictionary,omitempty"` // tenant-specific terminology injected into prompts
	CreatedAt  time.Time `json:"created_at"`
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"` // assigned tenant UUID, empty if unassigned
}

// Integration is a tenant-scoped stored credential for an LLM provider.
type Integration struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelConfig is the provider/model selection resolved per request. It is
// derived fresh each call and only persisted as message metadata.
type ModelConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Capability  string  `json:"capability"`
}

// ClampTemperature bounds the temperature to the supported [0, 2] range.
func ClampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}
