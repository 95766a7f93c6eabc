package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/crosswindhq/crosswind/internal/tools"
)

// handleListTools returns the tool schemas the agent advertises to models.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}
	defs := s.deps.Registry.ForTenant(tnt, tools.TierAgent).Definitions()
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

// handleToolExecute runs a single tool directly, bypassing the model. This is
// the realtime channel, so destructive operations are rejected by the
// registry's tier check.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	var body struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		s.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	exec := s.deps.Registry.ForTenant(tnt, tools.TierRealtime)
	result := exec.Execute(r.Context(), body.Name, body.Arguments)
	s.writeJSON(w, http.StatusOK, result)
}
