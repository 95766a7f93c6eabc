package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// PostgresWebhookStore implements WebhookStore on Postgres.
type PostgresWebhookStore struct {
	db *sql.DB
}

// Create inserts a webhook registration.
func (s *PostgresWebhookStore) Create(ctx context.Context, webhook *models.Webhook) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, tenant_id, url, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, webhook.ID, webhook.TenantID, webhook.URL, pq.Array(webhook.Events), webhook.Active, webhook.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

// List returns all webhooks for a tenant.
func (s *PostgresWebhookStore) List(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	return s.list(ctx, tenantID, false)
}

// ListActive returns only active webhooks for a tenant.
func (s *PostgresWebhookStore) ListActive(ctx context.Context, tenantID string) ([]*models.Webhook, error) {
	return s.list(ctx, tenantID, true)
}

func (s *PostgresWebhookStore) list(ctx context.Context, tenantID string, activeOnly bool) ([]*models.Webhook, error) {
	query := `
		SELECT id, tenant_id, url, events, active, created_at
		FROM webhooks WHERE tenant_id = $1
	`
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*models.Webhook
	for rows.Next() {
		var w models.Webhook
		if err := rows.Scan(&w.ID, &w.TenantID, &w.URL, pq.Array(&w.Events), &w.Active, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, &w)
	}
	return hooks, rows.Err()
}

// Delete removes a webhook scoped to a tenant.
func (s *PostgresWebhookStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM webhooks WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
