// Package testutil provides shared helpers for package tests.
package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/atelierhq/atelier/internal/db"
)

// NewDB returns a migrated in-memory SQLite database. The pool is pinned to a
// single connection because each connection to :memory: is its own database.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	sqlDB, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.RunMigrations(sqlDB.DB, "sqlite")
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return sqlDB
}
