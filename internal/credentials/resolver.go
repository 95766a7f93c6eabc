package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crosswindhq/crosswind/internal/storage"
)

// Settings keys for the process-wide fallback credential. The fallback is
// only consulted when the enabled flag is the literal "true".
const (
	SettingFallbackEnabled   = "llm.fallback_enabled"
	SettingFallbackKeyPrefix = "llm.fallback_key." // + provider
)

// negativeTTL bounds how long a "tenant has no integration" result is
// remembered. Keeps the hot path off the database without hiding a newly
// configured integration for more than half a minute.
const negativeTTL = 30 * time.Second

// Request carries the per-call inputs to resolution. Source fields are tried
// in declared priority order.
type Request struct {
	ExplicitKey string // key passed in the request body
	HeaderKey   string // key passed via the X-LLM-API-Key header
	UserID      string // authenticated caller, for the personal-key source
	TenantID    string // resolved tenant UUID
	Provider    string
}

type cacheEntry struct {
	key     string // empty means a cached negative lookup
	expires time.Time
}

// Resolver obtains a usable provider API key for a request, trying sources
// in priority order. Finding no key is a normal outcome, not an error: the
// caller gets "" and must degrade gracefully.
type Resolver struct {
	integrations storage.IntegrationStore
	userKeys     storage.UserCredentialStore
	settings     storage.SettingsStore
	logger       *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry // tenantID + "\x00" + provider
	now   func() time.Time
}

func NewResolver(integrations storage.IntegrationStore, userKeys storage.UserCredentialStore, settings storage.SettingsStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		integrations: integrations,
		userKeys:     userKeys,
		settings:     settings,
		logger:       logger,
		cache:        make(map[string]cacheEntry),
		now:          time.Now,
	}
}

// Resolve returns the first non-empty key found, and the name of the source
// that provided it for audit logging. Returns ("", "") when no source has a
// key; an error only signals a store failure, never a missing key.
func (r *Resolver) Resolve(ctx context.Context, req Request) (key, source string, err error) {
	if k := strings.TrimSpace(req.ExplicitKey); k != "" {
		return k, "request", nil
	}
	if k := strings.TrimSpace(req.HeaderKey); k != "" {
		return k, "header", nil
	}

	if req.TenantID != "" {
		k, err := r.tenantKey(ctx, req.TenantID, req.Provider)
		if err != nil {
			return "", "", err
		}
		if k != "" {
			return k, "integration", nil
		}
	}

	if req.UserID != "" {
		k, err := r.userKeys.Key(ctx, req.UserID, req.Provider)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", "", err
		}
		if k != "" {
			return k, "user", nil
		}
	}

	k, err := r.fallbackKey(ctx, req.Provider)
	if err != nil {
		return "", "", err
	}
	if k != "" {
		return k, "fallback", nil
	}

	r.logger.Info("no credential resolved",
		"tenant_id", req.TenantID,
		"provider", req.Provider)
	return "", "", nil
}

// Invalidate drops the cached integration lookup for a tenant+provider.
// Called when an integration is created or updated so the change is
// observed immediately instead of after the negative cache ages out.
func (r *Resolver) Invalidate(tenantID, provider string) {
	r.mu.Lock()
	delete(r.cache, tenantID+"\x00"+provider)
	r.mu.Unlock()
}

// Flush drops all cached integration lookups.
func (r *Resolver) Flush() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) tenantKey(ctx context.Context, tenantID, provider string) (string, error) {
	cacheKey := tenantID + "\x00" + provider

	r.mu.Lock()
	entry, ok := r.cache[cacheKey]
	r.mu.Unlock()
	if ok && (entry.key != "" || r.now().Before(entry.expires)) {
		return entry.key, nil
	}

	key, err := r.integrations.ActiveKey(ctx, tenantID, provider)
	if errors.Is(err, storage.ErrNotFound) {
		r.mu.Lock()
		r.cache[cacheKey] = cacheEntry{expires: r.now().Add(negativeTTL)}
		r.mu.Unlock()
		return "", nil
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[cacheKey] = cacheEntry{key: key}
	r.mu.Unlock()
	return key, nil
}

func (r *Resolver) fallbackKey(ctx context.Context, provider string) (string, error) {
	enabled, err := r.settings.Get(ctx, SettingFallbackEnabled)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if enabled != "true" {
		return "", nil
	}

	key, err := r.settings.Get(ctx, SettingFallbackKeyPrefix+provider)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return key, nil
}
