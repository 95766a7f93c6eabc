package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// ErrUnknownTenant is returned when the identifier resolves to nothing.
var ErrUnknownTenant = errors.New("unknown tenant")

const (
	positiveTTL = 5 * time.Minute
	negativeTTL = 1 * time.Minute
)

type cacheEntry struct {
	tenant  *models.Tenant // nil for a cached negative lookup
	expires time.Time
}

// Resolver resolves tenant identifiers (UUID or slug) against the store with
// an in-process cache. Negative lookups are cached too, but with a shorter
// lifetime so a freshly created tenant becomes visible without a restart.
type Resolver struct {
	store storage.TenantStore

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

func NewResolver(store storage.TenantStore) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Resolve returns the tenant for a UUID or slug. Resolution is idempotent:
// repeated calls with the same identifier hit the cache.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*models.Tenant, error) {
	if identifier == "" {
		return nil, ErrUnknownTenant
	}

	r.mu.Lock()
	entry, ok := r.cache[identifier]
	if ok && r.now().Before(entry.expires) {
		r.mu.Unlock()
		if entry.tenant == nil {
			return nil, ErrUnknownTenant
		}
		return entry.tenant, nil
	}
	r.mu.Unlock()

	tenant, err := r.store.GetByIDOrSlug(ctx, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		r.put(identifier, nil, negativeTTL)
		return nil, ErrUnknownTenant
	}
	if err != nil {
		// Do not cache transient store failures.
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	r.put(identifier, tenant, positiveTTL)
	// A tenant is reachable by both its UUID and its slug; prime both keys.
	if tenant.Slug != "" && tenant.Slug != identifier {
		r.put(tenant.Slug, tenant, positiveTTL)
	}
	if tenant.ID != identifier {
		r.put(tenant.ID, tenant, positiveTTL)
	}
	return tenant, nil
}

// Invalidate drops any cached entry for the identifier, forcing the next
// Resolve to hit the store.
func (r *Resolver) Invalidate(identifier string) {
	r.mu.Lock()
	delete(r.cache, identifier)
	r.mu.Unlock()
}

// Flush drops the entire cache. Exposed through the admin API.
func (r *Resolver) Flush() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) put(key string, tenant *models.Tenant, ttl time.Duration) {
	r.mu.Lock()
	r.cache[key] = cacheEntry{tenant: tenant, expires: r.now().Add(ttl)}
	r.mu.Unlock()
}
