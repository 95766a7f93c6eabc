package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crosswindhq/crosswind/pkg/models"
)

func searchLeadsTool() tool {
	return tool{
		name:        "search_leads",
		description: "Search the organization's leads by name or company. Returns matching lead records.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Name or company fragment to match"},
				"limit": {"type": "integer", "description": "Max records to return"}
			},
			"required": ["query"]
		}`),
		run: runSearchLeads,
	}
}

func runSearchLeads(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := clampLimit(input.Limit, env.Config.SnapshotDefault, env.Config.SnapshotMax)

	leads, err := env.CRM.SearchLeads(ctx, env.Tenant.ID, input.Query, limit)
	if err != nil {
		return "", fmt.Errorf("search leads: %w", err)
	}
	return encodeRecords("leads", leads)
}

func createLeadTool() tool {
	return tool{
		name:        "create_lead",
		description: "Create a new lead for the organization. Requires a name; company, email, and source are optional.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Lead's full name"},
				"company": {"type": "string"},
				"email": {"type": "string"},
				"source": {"type": "string", "description": "Where this lead came from"}
			},
			"required": ["name"]
		}`),
		run: runCreateLead,
	}
}

func runCreateLead(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
	var input struct {
		Name    string `json:"name"`
		Company string `json:"company"`
		Email   string `json:"email"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.Name) == "" {
		return "", fmt.Errorf("name is required")
	}

	now := time.Now().UTC()
	lead := &models.Lead{
		ID:        uuid.NewString(),
		TenantID:  env.Tenant.ID,
		Name:      input.Name,
		Company:   input.Company,
		Email:     input.Email,
		Status:    "new",
		Source:    input.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := env.CRM.CreateLead(ctx, lead); err != nil {
		return "", fmt.Errorf("create lead: %w", err)
	}

	out, err := json.Marshal(lead)
	if err != nil {
		return "", fmt.Errorf("encode lead: %w", err)
	}
	return string(out), nil
}

// encodeRecords marshals a result set with its category label.
func encodeRecords(label string, records any) (string, error) {
	out, err := json.Marshal(map[string]any{label: records})
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", label, err)
	}
	return string(out), nil
}
