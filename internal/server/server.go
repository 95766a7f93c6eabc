// Package server exposes the HTTP API: conversations and their live streams,
// direct tool execution, CRM records, webhooks, and admin operations. Every
// /api route resolves and authorizes a tenant before touching data.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/internal/auth"
	"github.com/crosswindhq/crosswind/internal/broadcast"
	"github.com/crosswindhq/crosswind/internal/config"
	"github.com/crosswindhq/crosswind/internal/conversations"
	"github.com/crosswindhq/crosswind/internal/credentials"
	"github.com/crosswindhq/crosswind/internal/observability"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/internal/tenant"
	"github.com/crosswindhq/crosswind/internal/tools"
	"github.com/crosswindhq/crosswind/internal/webhooks"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// tenantHeader names the tenant a request targets, as a UUID or slug.
const tenantHeader = "X-Tenant-ID"

// llmKeyHeader optionally carries a caller-supplied provider API key.
const llmKeyHeader = "X-LLM-API-Key"

// roleAdmin is the role claim required for process-wide admin operations.
const roleAdmin = "admin"

// Deps bundles the wired subsystems the server routes requests into.
type Deps struct {
	Stores        storage.StoreSet
	Tenants       *tenant.Resolver
	Gate          *tenant.Gate
	Credentials   *credentials.Resolver
	Conversations *conversations.Service
	Hub           *broadcast.Hub
	Registry      *tools.Registry
	Runner        *agent.Runner
	Dispatcher    *webhooks.Dispatcher
	JWT           *auth.JWTService
}

// Server is the HTTP front end.
type Server struct {
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	metrics *observability.Metrics

	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the full route tree, including middleware. Exposed for
// httptest-based tests.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/conversations", s.handleConversations)
	api.HandleFunc("/api/conversations/", s.handleConversationByID)
	api.HandleFunc("/api/tools", s.handleListTools)
	api.HandleFunc("/api/tools/execute", s.handleToolExecute)
	api.HandleFunc("/api/crm/accounts", s.handleAccounts)
	api.HandleFunc("/api/crm/accounts/", s.handleAccountByID)
	api.HandleFunc("/api/crm/leads", s.handleLeads)
	api.HandleFunc("/api/crm/leads/", s.handleLeadByID)
	api.HandleFunc("/api/crm/contacts", s.handleContacts)
	api.HandleFunc("/api/crm/contacts/", s.handleContactByID)
	api.HandleFunc("/api/crm/opportunities", s.handleOpportunities)
	api.HandleFunc("/api/crm/opportunities/", s.handleOpportunityByID)
	api.HandleFunc("/api/crm/activities", s.handleActivities)
	api.HandleFunc("/api/webhooks", s.handleWebhooks)
	api.HandleFunc("/api/webhooks/", s.handleWebhookByID)
	api.HandleFunc("/api/integrations", s.handleCreateIntegration)
	api.HandleFunc("/api/admin/cache/clear", s.handleCacheClear)

	authenticate := auth.Middleware(s.deps.JWT, s.cfg.Auth.DevMode, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/", authenticate(api))

	return s.instrument(mux)
}

// Start runs the HTTP listener until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument attaches a correlation id to each request and records latency
// and count metrics keyed by a low-cardinality path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(observability.WithRequestID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			path := metricPath(r.URL.Path)
			code := strconv.Itoa(rec.status)
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
			s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, path, code).Inc()
		}
	})
}

// statusRecorder captures the response code for metrics. It forwards Flush so
// streaming handlers keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricPath collapses resource ids so metric label cardinality stays bounded.
func metricPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if _, err := uuid.Parse(seg); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// tenantFor resolves and authorizes the tenant a request targets. On failure
// it writes the error response and returns false; handlers just bail out.
// Without an explicit header the caller's assigned tenant is used.
func (s *Server) tenantFor(w http.ResponseWriter, r *http.Request) (*models.Tenant, bool) {
	identity := auth.IdentityFrom(r.Context())

	identifier := strings.TrimSpace(r.Header.Get(tenantHeader))
	if identifier == "" && identity != nil {
		identifier = identity.TenantID
	}
	if identifier == "" {
		s.jsonError(w, tenantHeader+" header required", http.StatusBadRequest)
		return nil, false
	}

	resolved, err := s.deps.Tenants.Resolve(r.Context(), identifier)
	if err != nil && !errors.Is(err, tenant.ErrUnknownTenant) {
		s.logger.Error("tenant resolution failed", "requested", identifier, "error", err)
		s.jsonError(w, "tenant resolution failed", http.StatusInternalServerError)
		return nil, false
	}

	decision := s.deps.Gate.Authorize(identity, identifier, resolved)
	if !decision.Authorized {
		s.jsonError(w, decision.Reason, http.StatusForbidden)
		return nil, false
	}
	if resolved == nil {
		// Only reachable unauthenticated in dev mode; authenticated callers
		// get the generic mismatch denial above.
		s.jsonError(w, "unknown tenant", http.StatusNotFound)
		return nil, false
	}
	return resolved, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryInt reads an integer query parameter, falling back on absence or junk.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
