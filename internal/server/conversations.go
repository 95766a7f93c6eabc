package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/crosswindhq/crosswind/internal/agent"
	"github.com/crosswindhq/crosswind/internal/auth"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/internal/tools"
	"github.com/crosswindhq/crosswind/internal/webhooks"
	"github.com/crosswindhq/crosswind/pkg/models"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		convs, err := s.deps.Conversations.List(r.Context(), tnt.ID, limit, offset)
		if err != nil {
			s.logger.Error("list conversations failed", "tenant_id", tnt.ID, "error", err)
			s.jsonError(w, "list conversations failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})

	case http.MethodPost:
		var body struct {
			AgentName string         `json:"agent_name"`
			Metadata  map[string]any `json:"metadata"`
		}
		if !s.decodeJSON(w, r, &body) {
			return
		}
		if body.AgentName == "" {
			body.AgentName = "crosswind"
		}
		conv, err := s.deps.Conversations.Create(r.Context(), tnt.ID, body.AgentName, body.Metadata)
		if err != nil {
			s.logger.Error("create conversation failed", "tenant_id", tnt.ID, "error", err)
			s.jsonError(w, "create conversation failed", http.StatusInternalServerError)
			return
		}
		s.deps.Dispatcher.Dispatch(r.Context(), tnt.ID, webhooks.EventConversationCreated, conv)
		s.writeJSON(w, http.StatusCreated, conv)

	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	tnt, ok := s.tenantFor(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" {
		s.jsonError(w, "conversation id required", http.StatusBadRequest)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			conv, ok := s.loadConversation(w, r, tnt.ID, id)
			if !ok {
				return
			}
			s.writeJSON(w, http.StatusOK, conv)
		case http.MethodDelete:
			if err := s.deps.Conversations.Delete(r.Context(), tnt.ID, id); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					s.jsonError(w, "conversation not found", http.StatusNotFound)
					return
				}
				s.logger.Error("delete conversation failed", "conversation_id", id, "error", err)
				s.jsonError(w, "delete conversation failed", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "messages":
		switch r.Method {
		case http.MethodGet:
			s.handleMessageHistory(w, r, tnt, id)
		case http.MethodPost:
			s.handlePostMessage(w, r, tnt, id)
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "stream":
		if r.Method != http.MethodGet {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleStream(w, r, tnt, id)

	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request, tnt *models.Tenant, id string) {
	if _, ok := s.loadConversation(w, r, tnt.ID, id); !ok {
		return
	}
	history, err := s.deps.Conversations.History(r.Context(), id)
	if err != nil {
		s.logger.Error("load history failed", "conversation_id", id, "error", err)
		s.jsonError(w, "load history failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

// handlePostMessage persists the user message, acknowledges it, and schedules
// the agent run detached from this request. The assistant's reply arrives via
// the stream or a later history read.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, tnt *models.Tenant, id string) {
	var body struct {
		Content     string   `json:"content"`
		Provider    string   `json:"provider"`
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		APIKey      string   `json:"api_key"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		s.jsonError(w, "content is required", http.StatusBadRequest)
		return
	}

	conv, ok := s.loadConversation(w, r, tnt.ID, id)
	if !ok {
		return
	}

	msg, err := s.deps.Conversations.Append(r.Context(), conv, models.RoleUser, body.Content, nil)
	if err != nil {
		s.logger.Error("append user message failed", "conversation_id", id, "error", err)
		s.jsonError(w, "append message failed", http.StatusInternalServerError)
		return
	}
	s.deps.Dispatcher.Dispatch(r.Context(), tnt.ID, webhooks.EventMessageCreated, msg)

	model := models.ModelConfig{
		Provider:    s.cfg.Agent.DefaultProvider,
		Model:       s.cfg.Agent.DefaultModel,
		Temperature: s.cfg.Agent.DefaultTemperature,
	}
	if body.Provider != "" {
		model.Provider = body.Provider
	}
	if body.Model != "" {
		model.Model = body.Model
	}
	if body.Temperature != nil {
		model.Temperature = *body.Temperature
	}

	var userID string
	if identity := auth.IdentityFrom(r.Context()); identity != nil {
		userID = identity.UserID
	}

	// A full queue is logged by the runner; the message is already durable and
	// the caller gets the same acknowledgement either way.
	s.deps.Runner.Enqueue(agent.RunInput{
		Tenant:       tnt,
		Conversation: conv,
		UserContent:  body.Content,
		UserID:       userID,
		ExplicitKey:  body.APIKey,
		HeaderKey:    r.Header.Get(llmKeyHeader),
		Model:        model,
		Tools:        s.deps.Registry.ForTenant(tnt, tools.TierAgent),
	})

	s.writeJSON(w, http.StatusAccepted, msg)
}

// handleStream serves server-sent events for one conversation. Events the
// subscriber is too slow to drain are dropped by the hub, not queued.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, tnt *models.Tenant, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	conv, ok := s.loadConversation(w, r, tnt.ID, id)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.deps.Hub.Subscribe(conv.ID)
	defer s.deps.Hub.Unsubscribe(sub)

	writeSSE(w, flusher, "connected", fmt.Sprintf(`{"conversation_id":%q}`, conv.ID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.C:
			if !open {
				return
			}
			data, err := encodeSSEData(msg)
			if err != nil {
				s.logger.Warn("encode stream message failed", "conversation_id", conv.ID, "error", err)
				continue
			}
			writeSSE(w, flusher, "message", data)
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) loadConversation(w http.ResponseWriter, r *http.Request, tenantID, id string) (*models.Conversation, bool) {
	conv, err := s.deps.Conversations.Get(r.Context(), tenantID, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("load conversation failed", "conversation_id", id, "error", err)
		s.jsonError(w, "load conversation failed", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func encodeSSEData(msg *models.Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
