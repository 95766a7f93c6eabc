package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

func searchContactsTool() tool {
	return tool{
		name:        "search_contacts",
		description: "Search the organization's contacts by name or email. Returns matching contact records.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Name or email fragment to match"},
				"limit": {"type": "integer", "description": "Max records to return"}
			},
			"required": ["query"]
		}`),
		run: runSearchContacts,
	}
}

func runSearchContacts(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
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

	contacts, err := env.CRM.SearchContacts(ctx, env.Tenant.ID, input.Query, limit)
	if err != nil {
		return "", fmt.Errorf("search contacts: %w", err)
	}
	return encodeRecords("contacts", contacts)
}
