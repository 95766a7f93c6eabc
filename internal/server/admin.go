package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crosswindhq/crosswind/internal/auth"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		hooks, err := s.deps.Stores.Webhooks.List(r.Context(), tnt.ID)
		if err != nil {
			s.logger.Error("list webhooks failed", "tenant_id", tnt.ID, "error", err)
			s.jsonError(w, "list webhooks failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})

	case http.MethodPost:
		var body struct {
			URL    string   `json:"url"`
			Events []string `json:"events"`
		}
		if !s.decodeJSON(w, r, &body) {
			return
		}
		parsed, err := url.Parse(body.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			s.jsonError(w, "url must be a valid http(s) endpoint", http.StatusBadRequest)
			return
		}

		hook := &models.Webhook{
			ID:        uuid.NewString(),
			TenantID:  tnt.ID,
			URL:       body.URL,
			Events:    body.Events,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.deps.Stores.Webhooks.Create(r.Context(), hook); err != nil {
			s.logger.Error("create webhook failed", "tenant_id", tnt.ID, "error", err)
			s.jsonError(w, "create webhook failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusCreated, hook)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWebhookByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodDelete {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/webhooks/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.jsonError(w, "webhook id required", http.StatusBadRequest)
		return
	}

	if err := s.deps.Stores.Webhooks.Delete(r.Context(), tnt.ID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.jsonError(w, "webhook not found", http.StatusNotFound)
			return
		}
		s.logger.Error("delete webhook failed", "webhook_id", id, "error", err)
		s.jsonError(w, "delete webhook failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateIntegration stores a tenant provider credential and invalidates
// the resolver's cache so the key is usable on the next run, not after the
// negative cache ages out.
func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Provider) == "" || strings.TrimSpace(body.APIKey) == "" {
		s.jsonError(w, "provider and api_key are required", http.StatusBadRequest)
		return
	}

	integration := &models.Integration{
		ID:        uuid.NewString(),
		TenantID:  tnt.ID,
		Provider:  body.Provider,
		APIKey:    body.APIKey,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Stores.Integrations.Create(r.Context(), integration); err != nil {
		s.logger.Error("create integration failed", "tenant_id", tnt.ID, "provider", body.Provider, "error", err)
		s.jsonError(w, "create integration failed", http.StatusInternalServerError)
		return
	}
	s.deps.Credentials.Invalidate(tnt.ID, body.Provider)

	s.logger.Info("integration created", "tenant_id", tnt.ID, "provider", body.Provider)
	// The key never round-trips; the model's json tag keeps it out.
	s.writeJSON(w, http.StatusCreated, integration)
}

// handleCacheClear flushes the tenant and credential caches. The flush is
// process-wide, so it requires the admin role outside dev mode.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.cfg.Auth.DevMode {
		identity := auth.IdentityFrom(r.Context())
		if identity == nil || identity.Role != roleAdmin {
			s.logger.Warn("cache clear denied", "user_id", userIDFrom(identity))
			s.jsonError(w, "admin role required", http.StatusForbidden)
			return
		}
	}
	if _, ok := s.tenantFor(w, r); !ok {
		return
	}

	s.deps.Tenants.Flush()
	s.deps.Credentials.Flush()
	s.logger.Info("caches flushed")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userIDFrom(identity *models.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.UserID
}
