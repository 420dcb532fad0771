// Package testutil provides storage fixtures for tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/quadstore/db"
	"github.com/teranos/quadstore/storage"
)

// SetupTestDB creates a migrated SQLite database in a temporary directory.
// Uses real migrations to ensure test schema matches production schema.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDB, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), storage.DatabaseFile), nil)
	require.NoError(t, err, "Failed to open migrated database")
	t.Cleanup(func() { testDB.Close() })
	return testDB
}

// SetupTestStorage opens a primary store in a temporary directory and
// closes it when the test ends.
func SetupTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "store"), storage.Options{
		Logger: zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}
