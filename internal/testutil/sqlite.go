// Package testutil holds helpers shared by package tests
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/reservation-import/migrations"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB opens a file-backed SQLite database with the service schema
// applied. The database is closed when the test ends.
func NewSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)

	// A single connection keeps transactions and plain queries serialized
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := migrations.InitUp()
	require.NoError(t, err)

	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db
}

// DiscardLogger returns a logger that drops every record
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
