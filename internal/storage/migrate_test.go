package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMigrator(t *testing.T) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if len(migrator.migrations) == 0 {
		t.Fatal("no embedded migrations loaded")
	}
	return migrator, mock
}

func expectLedger(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func ledgerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "applied_at"})
}

func TestMigrateUpAppliesPendingInTransaction(t *testing.T) {
	migrator, mock := newMigrator(t)

	expectLedger(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations ORDER BY id")).
		WillReturnRows(ledgerRows())
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tenants")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (id) VALUES ($1)")).
		WithArgs("0001_init").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := migrator.Up(context.Background(), 0)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001_init" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateUpSkipsAlreadyApplied(t *testing.T) {
	migrator, mock := newMigrator(t)

	expectLedger(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations ORDER BY id")).
		WillReturnRows(ledgerRows().AddRow("0001_init", time.Now()))

	applied, err := migrator.Up(context.Background(), 0)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateDownRunsDownScript(t *testing.T) {
	migrator, mock := newMigrator(t)

	expectLedger(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations ORDER BY id")).
		WillReturnRows(ledgerRows().AddRow("0001_init", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS webhooks")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schema_migrations WHERE id = $1")).
		WithArgs("0001_init").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolled, err := migrator.Down(context.Background(), 1)
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if len(rolled) != 1 || rolled[0] != "0001_init" {
		t.Fatalf("rolled = %v", rolled)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateStatusSplitsAppliedAndPending(t *testing.T) {
	migrator, mock := newMigrator(t)

	expectLedger(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schema_migrations ORDER BY id")).
		WillReturnRows(ledgerRows())

	applied, pending, err := migrator.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	if len(pending) != len(migrator.migrations) {
		t.Fatalf("pending = %d, want %d", len(pending), len(migrator.migrations))
	}
	if pending[0].ID != "0001_init" {
		t.Fatalf("pending[0] = %q", pending[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
