// Package conversations implements the durable conversation log and its
// append-time side effects: live broadcast, activity bumps, and title/topic
// auto-derivation.
package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crosswindhq/crosswind/internal/broadcast"
	"github.com/crosswindhq/crosswind/internal/storage"
	"github.com/crosswindhq/crosswind/pkg/models"
)

const maxTitleLen = 60

// topicGroups is the closed topic classifier, checked in priority order with
// first match winning.
var topicGroups = []struct {
	topic    string
	keywords []string
}{
	{"leads", []string{"lead", "prospect", "pipeline"}},
	{"accounts", []string{"account", "company", "customer"}},
	{"opportunities", []string{"opportunity", "deal", "quote", "close"}},
	{"contacts", []string{"contact", "email", "phone", "call"}},
	{"support", []string{"help", "issue", "problem", "broken", "error"}},
}

const defaultTopic = "general"

// Service wraps the conversation store with append side effects.
type Service struct {
	store  storage.ConversationStore
	hub    *broadcast.Hub
	logger *slog.Logger
}

func NewService(store storage.ConversationStore, hub *broadcast.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, hub: hub, logger: logger}
}

// Create starts a new conversation for a tenant.
func (s *Service) Create(ctx context.Context, tenantID, agentName string, metadata map[string]any) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		AgentName: agentName,
		Status:    models.ConversationActive,
		Topic:     defaultTopic,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get returns a conversation scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	return s.store.Get(ctx, tenantID, id)
}

// List returns a tenant's conversations sorted by most recent activity.
func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, tenantID, limit, offset)
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.store.Delete(ctx, tenantID, id)
}

// History returns the full ordered message log for a conversation.
func (s *Service) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return s.store.History(ctx, conversationID)
}

// Append persists a message, broadcasts it to live subscribers, bumps the
// conversation's activity timestamp, and derives title/topic from the first
// user message. The caller must have already authorized tenant access.
func (s *Service) Append(ctx context.Context, conv *models.Conversation, role models.Role, content string, metadata map[string]any) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	return msg, s.append(ctx, conv, msg)
}

// AppendMessage persists a prebuilt message, for callers that carry tool
// calls or results. Fields left empty are filled in.
func (s *Service) AppendMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conv.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.append(ctx, conv, msg)
}

func (s *Service) append(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if err := s.store.Touch(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("touch conversation failed",
			"conversation_id", conv.ID, "error", err)
	}

	if msg.Role == models.RoleUser {
		s.deriveTitleAndTopic(ctx, conv, msg.Content)
	}

	if s.hub != nil {
		s.hub.Publish(msg)
	}
	return nil
}

func (s *Service) deriveTitleAndTopic(ctx context.Context, conv *models.Conversation, content string) {
	changed := false
	if conv.Title == "" {
		conv.Title = DeriveTitle(content)
		changed = conv.Title != ""
	}
	if conv.Topic == "" || conv.Topic == defaultTopic {
		if topic := ClassifyTopic(content); topic != defaultTopic {
			conv.Topic = topic
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := s.store.Update(ctx, conv); err != nil {
		s.logger.Warn("update conversation title/topic failed",
			"conversation_id", conv.ID, "error", err)
	}
}

// DeriveTitle produces a short title from the first user message.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if len(title) > maxTitleLen {
		cut := title[:maxTitleLen]
		if i := strings.LastIndexByte(cut, ' '); i > maxTitleLen/2 {
			cut = cut[:i]
		}
		title = cut + "…"
	}
	return title
}

// ClassifyTopic maps message content onto the closed topic set. Keyword
// groups are checked in priority order; the first group with a hit wins.
func ClassifyTopic(content string) string {
	lower := strings.ToLower(content)
	for _, group := range topicGroups {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.topic
			}
		}
	}
	return defaultTopic
}
