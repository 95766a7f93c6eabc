package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

func searchAccountsTool() tool {
	return tool{
		name:        "search_accounts",
		description: "Search the organization's accounts by name. Returns matching account records.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Account name fragment to match"},
				"limit": {"type": "integer", "description": "Max records to return"}
			},
			"required": ["query"]
		}`),
		run: runSearchAccounts,
	}
}

func runSearchAccounts(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
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

	accounts, err := env.CRM.SearchAccounts(ctx, env.Tenant.ID, input.Query, limit)
	if err != nil {
		return "", fmt.Errorf("search accounts: %w", err)
	}
	return encodeRecords("accounts", accounts)
}
