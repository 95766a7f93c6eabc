package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func updateOpportunityTool() tool {
	return tool{
		name:        "update_opportunity",
		description: "Update an opportunity's stage, amount, or expected close date. Requires the opportunity id; only provided fields change.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Opportunity id"},
				"stage": {"type": "string", "description": "New pipeline stage"},
				"amount": {"type": "number", "description": "New deal amount"},
				"close_date": {"type": "string", "description": "New close date, RFC 3339"}
			},
			"required": ["id"]
		}`),
		run: runUpdateOpportunity,
	}
}

func runUpdateOpportunity(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
	var input struct {
		ID        string   `json:"id"`
		Stage     string   `json:"stage"`
		Amount    *float64 `json:"amount"`
		CloseDate string   `json:"close_date"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(input.ID) == "" {
		return "", fmt.Errorf("id is required")
	}

	opp, err := env.CRM.GetOpportunity(ctx, env.Tenant.ID, input.ID)
	if err != nil {
		return "", fmt.Errorf("load opportunity: %w", err)
	}

	if input.Stage != "" {
		opp.Stage = input.Stage
	}
	if input.Amount != nil {
		opp.Amount = *input.Amount
	}
	if input.CloseDate != "" {
		closeDate, err := time.Parse(time.RFC3339, input.CloseDate)
		if err != nil {
			return "", fmt.Errorf("invalid close_date: %w", err)
		}
		opp.CloseDate = closeDate
	}
	opp.UpdatedAt = time.Now().UTC()

	if err := env.CRM.UpdateOpportunity(ctx, opp); err != nil {
		return "", fmt.Errorf("update opportunity: %w", err)
	}

	out, err := json.Marshal(opp)
	if err != nil {
		return "", fmt.Errorf("encode opportunity: %w", err)
	}
	return string(out), nil
}
