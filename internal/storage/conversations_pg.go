package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// PostgresConversationStore implements ConversationStore on Postgres with
// prepared statements on the hot paths (append, history).
type PostgresConversationStore struct {
	db *sql.DB

	stmtAppend  *sql.Stmt
	stmtHistory *sql.Stmt
	stmtTouch   *sql.Stmt
}

// NewPostgresConversationStore prepares the hot-path statements.
func NewPostgresConversationStore(db *sql.DB) (*PostgresConversationStore, error) {
	s := &PostgresConversationStore{db: db}

	var err error
	s.stmtAppend, err = db.Prepare(`
		INSERT INTO conversation_messages (id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtHistory, err = db.Prepare(`
		SELECT id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at
		FROM conversation_messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare history: %w", err)
	}

	s.stmtTouch, err = db.Prepare(`
		UPDATE conversations SET updated_at = $1 WHERE id = $2
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare touch: %w", err)
	}

	return s, nil
}

// Close releases the prepared statements.
func (s *PostgresConversationStore) Close() {
	if s.stmtAppend != nil {
		s.stmtAppend.Close()
	}
	if s.stmtHistory != nil {
		s.stmtHistory.Close()
	}
	if s.stmtTouch != nil {
		s.stmtTouch.Close()
	}
}

// Create inserts a new conversation.
func (s *PostgresConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if conv.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}

	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, agent_name, status, title, topic, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, conv.ID, conv.TenantID, conv.AgentName, conv.Status, conv.Title, conv.Topic, metadata, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// Get fetches a conversation scoped to a tenant.
func (s *PostgresConversationStore) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, agent_name, status, title, topic, metadata, created_at, updated_at
		FROM conversations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanConversation(row)
}

// List returns conversations sorted by most recent activity descending,
// using the last message timestamp when one exists.
func (s *PostgresConversationStore) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.tenant_id, c.agent_name, c.status, c.title, c.topic, c.metadata, c.created_at, c.updated_at
		FROM conversations c
		LEFT JOIN (
			SELECT conversation_id, MAX(created_at) AS last_at
			FROM conversation_messages GROUP BY conversation_id
		) m ON m.conversation_id = c.id
		WHERE c.tenant_id = $1
		ORDER BY COALESCE(m.last_at, c.updated_at) DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Update persists title, topic, status, and metadata changes.
func (s *PostgresConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET agent_name = $1, status = $2, title = $3, topic = $4, metadata = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8
	`, conv.AgentName, conv.Status, conv.Title, conv.Topic, metadata, conv.UpdatedAt, conv.TenantID, conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation, cascading to messages first so no orphan
// rows survive a partial failure.
func (s *PostgresConversationStore) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE conversation_id = $1
	`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM conversations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendMessage inserts a message row.
func (s *PostgresConversationStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.stmtAppend.ExecContext(ctx,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, toolCalls, toolResults, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns all messages for a conversation in insertion order.
func (s *PostgresConversationStore) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.stmtHistory.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			msg         models.Message
			toolCalls   []byte
			toolResults []byte
			metadata    []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &toolCalls, &toolResults, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if len(toolResults) > 0 {
			if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("unmarshal tool results: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// Touch bumps the conversation's updated_at.
func (s *PostgresConversationStore) Touch(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.stmtTouch.ExecContext(ctx, at, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv     models.Conversation
		metadata []byte
	)
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.AgentName, &conv.Status, &conv.Title, &conv.Topic, &metadata, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &conv, nil
}
