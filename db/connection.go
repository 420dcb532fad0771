package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
)

// SQLiteBusyTimeoutMS is the default time a connection waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// Mode selects how a connection pool may touch the database file.
type Mode int

const (
	// ModeWriter is the single read-write connection of a primary.
	// Transactions begin IMMEDIATE so writers serialize at BEGIN.
	ModeWriter Mode = iota
	// ModeReader is a pool of query-only connections on a primary.
	ModeReader
	// ModeReadOnly opens the file read-only, for secondaries and read-only handles.
	ModeReadOnly
	// ModeBulk is a writer with synchronous=OFF, used by the bulk loader.
	ModeBulk
)

func (m Mode) String() string {
	switch m {
	case ModeWriter:
		return "writer"
	case ModeReader:
		return "reader"
	case ModeReadOnly:
		return "read_only"
	case ModeBulk:
		return "bulk"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Options configures a connection pool.
type Options struct {
	Mode          Mode
	BusyTimeoutMS int // 0 = SQLiteBusyTimeoutMS
	MaxOpenConns  int // 0 = driver default; writers are always 1
}

var pathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// DSN builds the go-sqlite3 connection string for path. Settings travel in
// the DSN so every pooled connection gets them, not just the first one.
func DSN(path string, opts Options) string {
	busy := opts.BusyTimeoutMS
	if busy <= 0 {
		busy = SQLiteBusyTimeoutMS
	}
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(busy))
	switch opts.Mode {
	case ModeWriter:
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
		q.Set("_txlock", "immediate")
	case ModeBulk:
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "OFF")
		q.Set("_txlock", "immediate")
	case ModeReader:
		q.Set("_query_only", "1")
	case ModeReadOnly:
		q.Set("mode", "ro")
	}
	return "file:" + pathEscaper.Replace(path) + "?" + q.Encode()
}

// Open opens a SQLite database at the specified path in the given mode.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "mode", opts.Mode.String())
	}
	db, err := sql.Open("sqlite3", DSN(path, opts))
	if err != nil {
		return nil, errors.NewIOError(err, "failed to open database %s", path)
	}

	switch {
	case opts.Mode == ModeWriter || opts.Mode == ModeBulk:
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	// Connections hold no per-connection state worth keeping across idle periods
	db.SetMaxIdleConns(2)

	// Force the lazy driver to open the file now so path errors surface here
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewIOError(err, "failed to open database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"mode", opts.Mode.String(),
		)
	}

	return db, nil
}

// OpenWithMigrations opens the primary writer connection and applies pending migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, Options{Mode: ModeWriter}, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}
