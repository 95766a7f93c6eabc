package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/internal/auth"
	"github.com/crosswindhq/crosswind/internal/broadcast"
	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/conversations"
	"github.com/crosswindhq/crosswind/internal/credentials"
	"github.com/crosswindhq/crosswind/internal/memory"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/internal/tenant"
	"github.com/crosswindhq/crosswind/internal/tools"
	"github.com/crosswindhq/crosswind/internal/webhooks"
	"github.com/crosswindhq/crosswind/pkg/models"
)

type stubProvider struct {
	content string
}

func (p *stubProvider) Complete(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	return &agent.ChatResponse{Content: p.content}, nil
}

func (p *stubProvider) Name() string { return "stub" }

type fixture struct {
	server *httptest.Server
	stores storage.StoreSet
	jwt    *auth.JWTService
	hub    *broadcast.Hub
}

func newFixture(t *testing.T, devMode bool) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.DevMode = devMode
	cfg.Auth.JWTSecret = "test-secret"

	logger := observability.NopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	stores := storage.NewMemoryStores()
	ctx := context.Background()
	stores.Tenants.Create(ctx, &models.Tenant{ID: "t1", Slug: "acme", Name: "Acme Corp"})
	stores.Tenants.Create(ctx, &models.Tenant{ID: "t2", Slug: "globex", Name: "Globex"})

	hub := broadcast.NewHub(logger, metrics)
	convs := conversations.NewService(stores.Conversations, hub, logger)
	creds := credentials.NewResolver(stores.Integrations, stores.UserCredentials, stores.Settings, logger)
	resolver := tenant.NewResolver(stores.Tenants)
	gate := tenant.NewGate(devMode, logger)
	registry := tools.NewRegistry(stores.CRM, cfg.Tools, logger, metrics)
	dispatcher := webhooks.NewDispatcher(stores.Webhooks, logger)

	factory := func(provider, apiKey string) (agent.Provider, error) {
		return &stubProvider{content: "All set."}, nil
	}
	orch := agent.NewOrchestrator(convs, creds, memory.NewInMemStore(), factory, cfg.Agent, cfg.Memory, logger, metrics)
	runner := agent.NewRunner(orch, 16, 2, logger)
	t.Cleanup(runner.Close)

	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	srv := New(cfg, Deps{
		Stores:        stores,
		Tenants:       resolver,
		Gate:          gate,
		Credentials:   creds,
		Conversations: convs,
		Hub:           hub,
		Registry:      registry,
		Runner:        runner,
		Dispatcher:    dispatcher,
		JWT:           jwtSvc,
	}, logger, metrics)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, stores: stores, jwt: jwtSvc, hub: hub}
}

func (f *fixture) request(t *testing.T, method, path, tenantID string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if tenantID != "" {
		req.Header.Set(tenantHeader, tenantID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodGet, "/healthz", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodGet, "/api/conversations", "", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnauthenticatedDeniedOutsideDevMode(t *testing.T) {
	f := newFixture(t, false)
	resp := f.request(t, http.MethodGet, "/api/conversations", "t1", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCrossTenantAccessDenied(t *testing.T) {
	f := newFixture(t, false)
	token, err := f.jwt.Generate(&models.Identity{UserID: "u1", TenantID: "t2"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	authz := map[string]string{"Authorization": "Bearer " + token}

	resp := f.request(t, http.MethodGet, "/api/conversations", "t1", nil, authz)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	existing := decodeBody[map[string]string](t, resp)

	// Requesting a tenant that does not exist must yield the same denial, so
	// a denied caller cannot probe which tenants exist.
	resp = f.request(t, http.MethodGet, "/api/conversations", "no-such-tenant", nil, authz)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	missing := decodeBody[map[string]string](t, resp)
	if existing["error"] != missing["error"] {
		t.Fatalf("denial messages differ: %q vs %q", existing["error"], missing["error"])
	}
}

func TestTenantDefaultsToAssignedWithoutHeader(t *testing.T) {
	f := newFixture(t, false)
	token, err := f.jwt.Generate(&models.Identity{UserID: "u1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	resp := f.request(t, http.MethodGet, "/api/conversations", "", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnassignedCallerDenied(t *testing.T) {
	f := newFixture(t, false)
	token, err := f.jwt.Generate(&models.Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	resp := f.request(t, http.MethodGet, "/api/conversations", "t1", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestTenantResolvesBySlug(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodGet, "/api/conversations", "acme", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, true)

	resp := f.request(t, http.MethodPost, "/api/conversations", "t1",
		map[string]any{"agent_name": "sales-assistant"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	conv := decodeBody[models.Conversation](t, resp)
	if conv.ID == "" || conv.TenantID != "t1" {
		t.Fatalf("conversation = %+v", conv)
	}

	resp = f.request(t, http.MethodGet, "/api/conversations/"+conv.ID, "t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Scoped to the tenant: another tenant cannot see it.
	resp = f.request(t, http.MethodGet, "/api/conversations/"+conv.ID, "t2", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant get status = %d, want 404", resp.StatusCode)
	}

	resp = f.request(t, http.MethodGet, "/api/conversations", "t1", nil, nil)
	listed := decodeBody[map[string][]models.Conversation](t, resp)
	if len(listed["conversations"]) != 1 {
		t.Fatalf("listed %d conversations", len(listed["conversations"]))
	}

	resp = f.request(t, http.MethodDelete, "/api/conversations/"+conv.ID, "t1", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = f.request(t, http.MethodGet, "/api/conversations/"+conv.ID, "t1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestPostMessageTriggersAgentRun(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.stores.Integrations.Create(ctx, &models.Integration{
		ID: "i1", TenantID: "t1", Provider: "openai", APIKey: "sk-test", Active: true,
	})

	resp := f.request(t, http.MethodPost, "/api/conversations", "t1", map[string]any{}, nil)
	conv := decodeBody[models.Conversation](t, resp)

	resp = f.request(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", "t1",
		map[string]any{"content": "What leads came in this week?"}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post message status = %d", resp.StatusCode)
	}
	msg := decodeBody[models.Message](t, resp)
	if msg.Role != models.RoleUser {
		t.Fatalf("acknowledged role = %q", msg.Role)
	}

	// The run is detached; poll history for the assistant reply.
	deadline := time.Now().Add(3 * time.Second)
	for {
		history, err := f.stores.Conversations.History(ctx, conv.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) >= 2 {
			last := history[len(history)-1]
			if last.Role != models.RoleAssistant || last.Content != "All set." {
				t.Fatalf("assistant reply = %+v", last)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("assistant reply never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPostMessageRequiresContent(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodPost, "/api/conversations", "t1", map[string]any{}, nil)
	conv := decodeBody[models.Conversation](t, resp)

	resp = f.request(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", "t1",
		map[string]any{"content": "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamDeliversMessages(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodPost, "/api/conversations", "t1", map[string]any{}, nil)
	conv := decodeBody[models.Conversation](t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.server.URL+"/api/conversations/"+conv.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("build stream request: %v", err)
	}
	req.Header.Set(tenantHeader, "t1")

	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(stream.Body)
	waitForEvent := func(name string) string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.TrimSpace(line) == "event: "+name {
				data, err := reader.ReadString('\n')
				if err != nil {
					t.Fatalf("read stream data: %v", err)
				}
				return strings.TrimPrefix(strings.TrimSpace(data), "data: ")
			}
		}
	}

	connected := waitForEvent("connected")
	if !strings.Contains(connected, conv.ID) {
		t.Fatalf("connected payload = %q", connected)
	}

	f.hub.Publish(&models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        "streamed reply",
	})

	payload := waitForEvent("message")
	var msg models.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("decode stream message: %v", err)
	}
	if msg.Content != "streamed reply" {
		t.Fatalf("streamed content = %q", msg.Content)
	}
}

func TestToolExecuteEndpoint(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.stores.CRM.CreateLead(ctx, &models.Lead{
		ID: "l1", TenantID: "t1", Name: "Ada Lovelace", Status: "new",
	})
	f.stores.CRM.CreateLead(ctx, &models.Lead{
		ID: "l2", TenantID: "t2", Name: "Ada Byron", Status: "new",
	})

	resp := f.request(t, http.MethodPost, "/api/tools/execute", "t1",
		map[string]any{"name": "search_leads", "arguments": map[string]any{"query": "ada"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	result := decodeBody[models.ToolResult](t, resp)
	if result.IsError {
		t.Fatalf("tool error: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Ada Lovelace") || strings.Contains(result.Content, "Ada Byron") {
		t.Fatalf("tenant scoping violated: %s", result.Content)
	}

	resp = f.request(t, http.MethodPost, "/api/tools/execute", "t1",
		map[string]any{"name": "drop_everything"}, nil)
	result = decodeBody[models.ToolResult](t, resp)
	if !result.IsError {
		t.Fatal("unknown tool did not produce an error result")
	}
}

func TestListTools(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodGet, "/api/tools", "t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	listed := decodeBody[map[string][]agent.ToolDefinition](t, resp)
	if len(listed["tools"]) != 7 {
		t.Fatalf("tool count = %d, want 7", len(listed["tools"]))
	}
}

func TestWebhookRegistration(t *testing.T) {
	f := newFixture(t, true)

	resp := f.request(t, http.MethodPost, "/api/webhooks", "t1",
		map[string]any{"url": "not a url"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid url status = %d, want 400", resp.StatusCode)
	}

	resp = f.request(t, http.MethodPost, "/api/webhooks", "t1",
		map[string]any{"url": "https://example.com/hook", "events": []string{webhooks.EventMessageCreated}}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	hook := decodeBody[models.Webhook](t, resp)
	if !hook.Active {
		t.Fatal("new webhook not active")
	}

	resp = f.request(t, http.MethodDelete, "/api/webhooks/"+hook.ID, "t1", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = f.request(t, http.MethodDelete, "/api/webhooks/"+hook.ID, "t1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestIntegrationCreateNeverEchoesKey(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodPost, "/api/integrations", "t1",
		map[string]any{"provider": "openai", "api_key": "sk-supersecret-value-123456"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.Contains(raw.String(), "supersecret") {
		t.Fatalf("api key echoed in response: %s", raw.String())
	}

	key, err := f.stores.Integrations.ActiveKey(context.Background(), "t1", "openai")
	if err != nil || key != "sk-supersecret-value-123456" {
		t.Fatalf("stored key = %q, err = %v", key, err)
	}
}

func TestCacheClear(t *testing.T) {
	f := newFixture(t, true)
	resp := f.request(t, http.MethodPost, "/api/admin/cache/clear", "t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCacheClearRequiresAdminRole(t *testing.T) {
	f := newFixture(t, false)

	member, err := f.jwt.Generate(&models.Identity{UserID: "u1", Role: "member", TenantID: "t1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	resp := f.request(t, http.MethodPost, "/api/admin/cache/clear", "t1", nil,
		map[string]string{"Authorization": "Bearer " + member})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member status = %d, want 403", resp.StatusCode)
	}

	admin, err := f.jwt.Generate(&models.Identity{UserID: "u2", Role: "admin", TenantID: "t1"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	resp = f.request(t, http.MethodPost, "/api/admin/cache/clear", "t1", nil,
		map[string]string{"Authorization": "Bearer " + admin})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", resp.StatusCode)
	}
}

func TestCRMAccountCRUD(t *testing.T) {
	f := newFixture(t, true)

	resp := f.request(t, http.MethodPost, "/api/crm/accounts", "t1",
		map[string]any{"name": "Initech", "industry": "software"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	account := decodeBody[models.Account](t, resp)
	if account.TenantID != "t1" {
		t.Fatalf("tenant = %q", account.TenantID)
	}

	resp = f.request(t, http.MethodPut, "/api/crm/accounts/"+account.ID, "t1",
		map[string]any{"website": "https://initech.example"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	updated := decodeBody[models.Account](t, resp)
	if updated.Website != "https://initech.example" || updated.Name != "Initech" {
		t.Fatalf("partial update wrong: %+v", updated)
	}

	resp = f.request(t, http.MethodGet, "/api/crm/accounts?q=initech", "t1", nil, nil)
	found := decodeBody[map[string][]models.Account](t, resp)
	if len(found["accounts"]) != 1 {
		t.Fatalf("search found %d accounts", len(found["accounts"]))
	}

	resp = f.request(t, http.MethodGet, "/api/crm/accounts/"+account.ID, "t2", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant get status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricPathCollapsesIDs(t *testing.T) {
	path := fmt.Sprintf("/api/conversations/%s/messages", "0b39ab36-0e04-4521-9fb6-e1f3b4d1a0c7")
	if got := metricPath(path); got != "/api/conversations/{id}/messages" {
		t.Fatalf("metricPath = %q", got)
	}
	if got := metricPath("/api/conversations"); got != "/api/conversations" {
		t.Fatalf("metricPath = %q", got)
	}
}
