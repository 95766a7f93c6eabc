package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crosswindhq/crosswind/pkg/models"
)

// PostgresTenantStore implements TenantStore on Postgres.
type PostgresTenantStore struct {
	db *sql.DB
}

// GetByIDOrSlug resolves a tenant from a UUID or a slug in one query.
func (s *PostgresTenantStore) GetByIDOrSlug(ctx context.Context, identifier string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, dictionary, created_at
		FROM tenants WHERE id::text = $1 OR slug = $1
	`, identifier)

	var t models.Tenant
	var dictionary sql.NullString
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &dictionary, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.Dictionary = dictionary.String
	return &t, nil
}

// Create inserts a tenant row.
func (s *PostgresTenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, dictionary, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tenant.ID, tenant.Slug, tenant.Name, tenant.Dictionary, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}
