package db

import (
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/quadstore/errors"
)

func TestOpenWithMigrations(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "terms", "quads", "named_graphs", "store_meta"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist after migrations", table)
	}

	var generation int64
	require.NoError(t, db.QueryRow("SELECT value FROM store_meta WHERE key = 'generation'").Scan(&generation))
	assert.Equal(t, int64(0), generation)
}

func TestMigrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{Mode: ModeWriter}, nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 5, count)
		assert.Equal(t, "004", SchemaVersion())
	})

	t.Run("closed database fails", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{Mode: ModeWriter}, nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})

	t.Run("begin failure is wrapped with the migration name", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(errors.New("no such table: schema_migrations"))
		mock.ExpectBegin().WillReturnError(errors.New("disk full"))

		err = Migrate(mockDB, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "begin tx for 000_create_schema_migrations.sql")
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing schema table past 000 is an error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		// 000 reports applied, then 001 cannot see the table
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(errors.New("no such table"))

		err = Migrate(mockDB, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migration is not 000")
	})
}
