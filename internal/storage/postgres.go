package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/crosswindhq/crosswind/internal/config"
)

// OpenDB opens and pings a Postgres connection pool.
func OpenDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenPostgres opens a Postgres connection pool and returns the full store
// set backed by it.
func OpenPostgres(cfg config.DatabaseConfig) (StoreSet, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return StoreSet{}, err
	}
	return NewPostgresStores(db)
}

// NewPostgresStores builds the store set on an existing connection. Used by
// tests with sqlmock.
func NewPostgresStores(db *sql.DB) (StoreSet, error) {
	convs, err := NewPostgresConversationStore(db)
	if err != nil {
		db.Close()
		return StoreSet{}, err
	}

	return StoreSet{
		Tenants:         &PostgresTenantStore{db: db},
		Conversations:   convs,
		Integrations:    &PostgresIntegrationStore{db: db},
		UserCredentials: &PostgresUserCredentialStore{db: db},
		Settings:        &PostgresSettingsStore{db: db},
		CRM:             &PostgresCRMStore{db: db},
		Webhooks:        &PostgresWebhookStore{db: db},
		closer: func() error {
			convs.Close()
			return db.Close()
		},
	}, nil
}
