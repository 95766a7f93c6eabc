package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// nextBestActionTool surfaces the most pressing items: overdue activities
// first, then the largest open deals, then the newest untouched leads. The
// model turns this ranked list into advice; the ranking itself is fixed.
func nextBestActionTool() tool {
	return tool{
		name:        "next_best_action",
		description: "Suggest what the user should work on next, based on overdue activities, the largest open opportunities, and untouched new leads.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
		run: runNextBestAction,
	}
}

func runNextBestAction(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
	tenantID := env.Tenant.ID
	limit := env.Config.SnapshotDefault
	now := time.Now().UTC()

	activities, err := env.CRM.ListActivities(ctx, tenantID, env.Config.SnapshotMax)
	if err != nil {
		return "", fmt.Errorf("activities: %w", err)
	}
	var overdue []map[string]any
	for _, a := range activities {
		if !a.Done && !a.DueAt.IsZero() && a.DueAt.Before(now) {
			overdue = append(overdue, map[string]any{
				"kind":    a.Kind,
				"subject": a.Subject,
				"due_at":  a.DueAt,
			})
		}
		if len(overdue) >= limit {
			break
		}
	}

	opportunities, err := env.CRM.ListOpportunities(ctx, tenantID, env.Config.SnapshotMax)
	if err != nil {
		return "", fmt.Errorf("opportunities: %w", err)
	}
	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].Amount > opportunities[j].Amount
	})
	if len(opportunities) > limit {
		opportunities = opportunities[:limit]
	}

	leads, err := env.CRM.ListLeads(ctx, tenantID, env.Config.SnapshotMax)
	if err != nil {
		return "", fmt.Errorf("leads: %w", err)
	}
	var fresh []map[string]any
	for _, l := range leads {
		if l.Status == "new" {
			fresh = append(fresh, map[string]any{
				"name":    l.Name,
				"company": l.Company,
				"source":  l.Source,
			})
		}
		if len(fresh) >= limit {
			break
		}
	}

	out, err := json.Marshal(map[string]any{
		"overdue_activities": overdue,
		"largest_open_deals": opportunities,
		"new_leads":          fresh,
	})
	if err != nil {
		return "", fmt.Errorf("encode next actions: %w", err)
	}
	return string(out), nil
}
