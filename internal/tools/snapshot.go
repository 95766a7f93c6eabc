package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// snapshotTool aggregates a small bounded sample across the tenant's entity
// categories. It grounds broad pipeline questions in real rows instead of
// leaving the model to guess.
func snapshotTool() tool {
	return tool{
		name:        "crm_snapshot",
		description: "Fetch a small snapshot of the organization's recent CRM data: activities, opportunities, leads, accounts, and contacts. Use for broad questions about how the pipeline is going.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "description": "Max records per category"}
			}
		}`),
		run: runSnapshot,
	}
}

func runSnapshot(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
	var input struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	limit := clampLimit(input.Limit, env.Config.SnapshotDefault, env.Config.SnapshotMax)

	tenantID := env.Tenant.ID
	activities, err := env.CRM.ListActivities(ctx, tenantID, limit)
	if err != nil {
		return "", fmt.Errorf("activities: %w", err)
	}
	opportunities, err := env.CRM.ListOpportunities(ctx, tenantID, limit)
	if err != nil {
		return "", fmt.Errorf("opportunities: %w", err)
	}
	leads, err := env.CRM.ListLeads(ctx, tenantID, limit)
	if err != nil {
		return "", fmt.Errorf("leads: %w", err)
	}
	accounts, err := env.CRM.ListAccounts(ctx, tenantID, limit)
	if err != nil {
		return "", fmt.Errorf("accounts: %w", err)
	}
	contacts, err := env.CRM.ListContacts(ctx, tenantID, limit)
	if err != nil {
		return "", fmt.Errorf("contacts: %w", err)
	}

	snapshot := map[string]any{
		"activities":    activities,
		"opportunities": opportunities,
		"leads":         leads,
		"accounts":      accounts,
		"contacts":      contacts,
	}
	out, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return string(out), nil
}
