package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration pairs the up and down SQL for one schema change. Files are named
// <id>.up.sql / <id>.down.sql and apply in lexical id order.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration records when a migration ran.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the embedded schema migrations to a Postgres database.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

func NewMigrator(db *sql.DB) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Up applies pending migrations in order, each in its own transaction.
// steps <= 0 applies everything.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	done, err := m.appliedIDs(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !done[migration.ID] {
			pending = append(pending, migration)
		}
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	var applied []string
	for _, migration := range pending {
		if strings.TrimSpace(migration.UpSQL) == "" {
			return applied, fmt.Errorf("migration %s has no up script", migration.ID)
		}
		if err := m.runInTx(ctx, migration.UpSQL, `INSERT INTO schema_migrations (id) VALUES ($1)`, migration.ID); err != nil {
			return applied, fmt.Errorf("apply %s: %w", migration.ID, err)
		}
		applied = append(applied, migration.ID)
	}
	return applied, nil
}

// Down rolls back the most recent applied migrations. steps <= 0 means one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	history, err := m.appliedList(ctx)
	if err != nil {
		return nil, err
	}

	var rolled []string
	for i := len(history) - 1; i >= 0 && len(rolled) < steps; i-- {
		migration, ok := m.byID(history[i].ID)
		if !ok {
			return rolled, fmt.Errorf("migration %s applied but not embedded", history[i].ID)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return rolled, fmt.Errorf("migration %s has no down script", migration.ID)
		}
		if err := m.runInTx(ctx, migration.DownSQL, `DELETE FROM schema_migrations WHERE id = $1`, migration.ID); err != nil {
			return rolled, fmt.Errorf("rollback %s: %w", migration.ID, err)
		}
		rolled = append(rolled, migration.ID)
	}
	return rolled, nil
}

// Status returns applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, nil, err
	}
	applied, err := m.appliedList(ctx)
	if err != nil {
		return nil, nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, entry := range applied {
		done[entry.ID] = true
	}
	var pending []Migration
	for _, migration := range m.migrations {
		if !done[migration.ID] {
			pending = append(pending, migration)
		}
	}
	return applied, pending, nil
}

func (m *Migrator) runInTx(ctx context.Context, script, ledgerStmt, id string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, ledgerStmt, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) appliedIDs(ctx context.Context) (map[string]bool, error) {
	applied, err := m.appliedList(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(applied))
	for _, entry := range applied {
		ids[entry.ID] = true
	}
	return ids, nil
}

func (m *Migrator) appliedList(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var entry AppliedMigration
		if err := rows.Scan(&entry.ID, &entry.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied = append(applied, entry)
	}
	return applied, rows.Err()
}

func (m *Migrator) byID(id string) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.ID == id {
			return migration, true
		}
	}
	return Migration{}, false
}

func loadMigrations() ([]Migration, error) {
	paths, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	entries := map[string]*Migration{}
	for _, path := range paths {
		base := strings.TrimPrefix(path, "migrations/")
		var suffix string
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &Migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]Migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *entries[id])
	}
	return migrations, nil
}
