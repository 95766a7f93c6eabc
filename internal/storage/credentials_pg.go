package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// PostgresIntegrationStore implements IntegrationStore on Postgres.
type PostgresIntegrationStore struct {
	db *sql.DB
}

// Create inserts an integration credential.
func (s *PostgresIntegrationStore) Create(ctx context.Context, integration *models.Integration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, tenant_id, provider, api_key, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, integration.ID, integration.TenantID, integration.Provider, integration.APIKey, integration.Active, integration.CreatedAt)
	if err != nil {
		return fmt.Errorf("create integration: %w", err)
	}
	return nil
}

// ActiveKey returns the newest active credential for tenant+provider.
func (s *PostgresIntegrationStore) ActiveKey(ctx context.Context, tenantID, provider string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		SELECT api_key FROM integrations
		WHERE tenant_id = $1 AND provider = $2 AND active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, provider).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query integration key: %w", err)
	}
	return key, nil
}

// PostgresUserCredentialStore implements UserCredentialStore on Postgres.
type PostgresUserCredentialStore struct {
	db *sql.DB
}

// Key returns the user's stored personal key for a provider.
func (s *PostgresUserCredentialStore) Key(ctx context.Context, userID, provider string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		SELECT api_key FROM user_credentials WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user credential: %w", err)
	}
	return key, nil
}

// Set upserts the user's personal key.
func (s *PostgresUserCredentialStore) Set(ctx context.Context, userID, provider, apiKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_credentials (user_id, provider, api_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, provider) DO UPDATE SET api_key = EXCLUDED.api_key
	`, userID, provider, apiKey)
	if err != nil {
		return fmt.Errorf("set user credential: %w", err)
	}
	return nil
}

// PostgresSettingsStore implements SettingsStore on Postgres.
type PostgresSettingsStore struct {
	db *sql.DB
}

// Get returns a settings value, or ErrNotFound.
func (s *PostgresSettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM settings WHERE key = $1
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query setting: %w", err)
	}
	return value, nil
}

// Set upserts a settings value.
func (s *PostgresSettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
