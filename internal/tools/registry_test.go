package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.MemoryCRMStore) {
	t.Helper()
	crm := storage.NewMemoryCRMStore()
	cfg := config.Default().Tools
	return NewRegistry(crm, cfg, observability.NopLogger(), nil), crm
}

func seedTenants(t *testing.T, crm *storage.MemoryCRMStore) {
	t.Helper()
	ctx := context.Background()
	crm.CreateLead(ctx, &models.Lead{ID: "l1", TenantID: "t1", Name: "Ada Lovelace", Company: "Analytical", Status: "new"})
	crm.CreateLead(ctx, &models.Lead{ID: "l2", TenantID: "t2", Name: "Ada Byron", Company: "Other Org", Status: "new"})
}

func TestExecuteUnknownToolIsErrorResult(t *testing.T) {
	registry, _ := newTestRegistry(t)
	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)

	result := exec.Execute(context.Background(), "rm_rf", nil)
	if !result.IsError {
		t.Fatal("unknown tool did not return error result")
	}
	if !strings.Contains(result.Content, "unknown tool") {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestExecuteScopedToTenant(t *testing.T) {
	registry, crm := newTestRegistry(t)
	seedTenants(t, crm)
	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)

	result := exec.Execute(context.Background(), "search_leads", json.RawMessage(`{"query":"ada"}`))
	if result.IsError {
		t.Fatalf("execute failed: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Ada Lovelace") {
		t.Fatalf("own tenant's lead missing: %s", result.Content)
	}
	if strings.Contains(result.Content, "Ada Byron") {
		t.Fatalf("cross-tenant lead leaked: %s", result.Content)
	}
}

func TestDestructiveClassification(t *testing.T) {
	for _, name := range []string{"delete_account", "bulk_update_leads", "truncate_activities", "merge_accounts"} {
		if !Destructive(name) {
			t.Errorf("%q should be destructive", name)
		}
	}
	for _, name := range []string{"search_leads", "crm_snapshot", "create_lead"} {
		if Destructive(name) {
			t.Errorf("%q should not be destructive", name)
		}
	}
}

func TestRealtimeTierRejectsDestructive(t *testing.T) {
	registry, _ := newTestRegistry(t)

	// Register a destructive tool to exercise the tier check.
	registry.register(tool{
		name:        "delete_lead",
		description: "Delete a lead",
		schema:      json.RawMessage(`{"type":"object"}`),
		run: func(ctx context.Context, env *Env, args json.RawMessage) (string, error) {
			t.Fatal("destructive tool executed on realtime tier")
			return "", nil
		},
	})

	realtime := registry.ForTenant(&models.Tenant{ID: "t1"}, TierRealtime)
	result := realtime.Execute(context.Background(), "delete_lead", nil)
	if !result.IsError {
		t.Fatal("destructive call not rejected on realtime tier")
	}
}

func TestExecuteTruncatesResults(t *testing.T) {
	registry, crm := newTestRegistry(t)
	registry.cfg.MaxResultChars = 50

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		crm.CreateLead(ctx, &models.Lead{
			ID: string(rune('a' + i)), TenantID: "t1",
			Name: "A very long lead name to inflate the payload", Status: "new",
		})
	}

	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)
	result := exec.Execute(ctx, "search_leads", json.RawMessage(`{"query":"lead","limit":25}`))
	if result.IsError {
		t.Fatalf("execute failed: %s", result.Content)
	}
	if len(result.Content) > 50+len("… [truncated]") {
		t.Fatalf("result not truncated: %d chars", len(result.Content))
	}
	if !strings.HasSuffix(result.Content, "[truncated]") {
		t.Fatalf("missing truncation marker: %q", result.Content)
	}
}

func TestTruncatePreservesRuneBoundaries(t *testing.T) {
	// "é" is two bytes; a cap of 3 falls inside the second rune.
	got := Truncate("aéé", 3)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated result is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(got, "aé") {
		t.Fatalf("got %q", got)
	}

	if got := Truncate("héllo", 100); got != "héllo" {
		t.Fatalf("under-cap string changed: %q", got)
	}
}

func TestHandlerErrorBecomesErrorResult(t *testing.T) {
	registry, _ := newTestRegistry(t)
	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)

	// search_leads requires a query; its absence is a handler error.
	result := exec.Execute(context.Background(), "search_leads", json.RawMessage(`{}`))
	if !result.IsError {
		t.Fatal("handler error did not produce error result")
	}
	if !strings.HasPrefix(result.Content, "tool error:") {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestSnapshotClampsLimit(t *testing.T) {
	registry, crm := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		crm.CreateActivity(ctx, &models.Activity{
			ID: string(rune('a' + i)), TenantID: "t1", Kind: "call", Subject: "check in",
		})
	}
	registry.cfg.MaxResultChars = 100000

	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)
	result := exec.Execute(ctx, "crm_snapshot", json.RawMessage(`{"limit":500}`))
	if result.IsError {
		t.Fatalf("snapshot failed: %s", result.Content)
	}

	var snapshot struct {
		Activities []models.Activity `json:"activities"`
	}
	if err := json.Unmarshal([]byte(result.Content), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Activities) != registry.cfg.SnapshotMax {
		t.Fatalf("activities = %d, want clamped to %d", len(snapshot.Activities), registry.cfg.SnapshotMax)
	}
}

func TestCreateLeadPersists(t *testing.T) {
	registry, crm := newTestRegistry(t)
	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)

	result := exec.Execute(context.Background(), "create_lead",
		json.RawMessage(`{"name":"Grace Hopper","company":"Navy","source":"referral"}`))
	if result.IsError {
		t.Fatalf("create failed: %s", result.Content)
	}

	leads, err := crm.SearchLeads(context.Background(), "t1", "grace", 10)
	if err != nil || len(leads) != 1 {
		t.Fatalf("lead not persisted: %v, %v", leads, err)
	}
	if leads[0].Status != "new" {
		t.Fatalf("status = %q, want new", leads[0].Status)
	}
}

func TestUpdateOpportunityPartialPatch(t *testing.T) {
	registry, crm := newTestRegistry(t)
	ctx := context.Background()
	crm.CreateOpportunity(ctx, &models.Opportunity{
		ID: "o1", TenantID: "t1", Name: "Acme expansion", Stage: "qualify", Amount: 1000,
		CloseDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})

	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)
	result := exec.Execute(ctx, "update_opportunity", json.RawMessage(`{"id":"o1","stage":"negotiate"}`))
	if result.IsError {
		t.Fatalf("update failed: %s", result.Content)
	}

	opp, _ := crm.GetOpportunity(ctx, "t1", "o1")
	if opp.Stage != "negotiate" {
		t.Fatalf("stage = %q", opp.Stage)
	}
	if opp.Amount != 1000 {
		t.Fatalf("amount changed: %v", opp.Amount)
	}
}

func TestDefinitionsStableOrder(t *testing.T) {
	registry, _ := newTestRegistry(t)
	exec := registry.ForTenant(&models.Tenant{ID: "t1"}, TierAgent)

	first := exec.Definitions()
	second := exec.Definitions()
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("definitions lengths %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Fatalf("definition order unstable at %d: %q vs %q", i, first[i].Name, second[i].Name)
		}
	}
}
