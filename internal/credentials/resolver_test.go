package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

func newTestResolver() (*Resolver, storage.StoreSet) {
	stores := storage.NewMemoryStores()
	r := NewResolver(stores.Integrations, stores.UserCredentials, stores.Settings, observability.NopLogger())
	return r, stores
}

func TestResolvePriorityOrder(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestResolver()

	stores.Integrations.Create(ctx, &models.Integration{
		ID: "i1", TenantID: "t1", Provider: "openai", APIKey: "sk-tenant", Active: true,
	})
	stores.UserCredentials.Set(ctx, "u1", "openai", "sk-user")
	stores.Settings.Set(ctx, SettingFallbackEnabled, "true")
	stores.Settings.Set(ctx, SettingFallbackKeyPrefix+"openai", "sk-fallback")

	cases := []struct {
		name       string
		req        Request
		wantKey    string
		wantSource string
	}{
		{"explicit wins", Request{ExplicitKey: "sk-explicit", HeaderKey: "sk-header", UserID: "u1", TenantID: "t1", Provider: "openai"}, "sk-explicit", "request"},
		{"header next", Request{HeaderKey: "sk-header", UserID: "u1", TenantID: "t1", Provider: "openai"}, "sk-header", "header"},
		{"tenant integration next", Request{UserID: "u1", TenantID: "t1", Provider: "openai"}, "sk-tenant", "integration"},
		{"user key next", Request{UserID: "u1", TenantID: "t-none", Provider: "openai"}, "sk-user", "user"},
		{"fallback last", Request{TenantID: "t-none", Provider: "openai"}, "sk-fallback", "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, source, err := r.Resolve(ctx, tc.req)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if key != tc.wantKey || source != tc.wantSource {
				t.Fatalf("got (%q, %q), want (%q, %q)", key, source, tc.wantKey, tc.wantSource)
			}
		})
	}
}

func TestResolveNoKeyIsNotAnError(t *testing.T) {
	r, _ := newTestResolver()
	key, source, err := r.Resolve(context.Background(), Request{TenantID: "t1", UserID: "u1", Provider: "openai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "" || source != "" {
		t.Fatalf("got (%q, %q), want empty", key, source)
	}
}

func TestResolveFallbackRequiresEnabledFlag(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestResolver()
	stores.Settings.Set(ctx, SettingFallbackKeyPrefix+"openai", "sk-fallback")

	key, _, err := r.Resolve(ctx, Request{Provider: "openai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "" {
		t.Fatalf("fallback used without enabled flag: %q", key)
	}

	stores.Settings.Set(ctx, SettingFallbackEnabled, "true")
	key, _, err = r.Resolve(ctx, Request{Provider: "openai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-fallback" {
		t.Fatalf("got %q, want sk-fallback", key)
	}
}

func TestNegativeLookupCachedButInvalidatable(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestResolver()

	counting := &countingIntegrations{inner: stores.Integrations}
	r.integrations = counting

	// Two misses, one store hit.
	r.Resolve(ctx, Request{TenantID: "t1", Provider: "openai"})
	r.Resolve(ctx, Request{TenantID: "t1", Provider: "openai"})
	if counting.calls != 1 {
		t.Fatalf("store hit %d times, want 1", counting.calls)
	}

	// Integration appears; explicit invalidation makes it visible immediately.
	stores.Integrations.Create(ctx, &models.Integration{
		ID: "i1", TenantID: "t1", Provider: "openai", APIKey: "sk-new", Active: true, CreatedAt: time.Now(),
	})
	r.Invalidate("t1", "openai")

	key, source, err := r.Resolve(ctx, Request{TenantID: "t1", Provider: "openai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-new" || source != "integration" {
		t.Fatalf("got (%q, %q), want (sk-new, integration)", key, source)
	}
}

func TestNegativeLookupExpires(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestResolver()

	now := time.Now()
	r.now = func() time.Time { return now }

	r.Resolve(ctx, Request{TenantID: "t1", Provider: "anthropic"})
	stores.Integrations.Create(ctx, &models.Integration{
		ID: "i1", TenantID: "t1", Provider: "anthropic", APIKey: "sk-ant-new", Active: true, CreatedAt: now,
	})

	// Still within the negative TTL: miss is served from cache.
	key, _, _ := r.Resolve(ctx, Request{TenantID: "t1", Provider: "anthropic"})
	if key != "" {
		t.Fatalf("negative cache bypassed, got %q", key)
	}

	now = now.Add(negativeTTL + time.Second)
	key, _, _ = r.Resolve(ctx, Request{TenantID: "t1", Provider: "anthropic"})
	if key != "sk-ant-new" {
		t.Fatalf("got %q after expiry, want sk-ant-new", key)
	}
}

type countingIntegrations struct {
	inner storage.IntegrationStore
	calls int
}

func (c *countingIntegrations) Create(ctx context.Context, in *models.Integration) error {
	return c.inner.Create(ctx, in)
}

func (c *countingIntegrations) ActiveKey(ctx context.Context, tenantID, provider string) (string, error) {
	c.calls++
	return c.inner.ActiveKey(ctx, tenantID, provider)
}
