// Package storage persists RDF quads in SQLite.
//
// A store is a directory holding the database file, a store.toml marker and,
// for primaries, an exclusive LOCK. Terms are interned into a dictionary and
// quads are stored as four integer ids in a table indexed in six orders, so
// any pattern is a range scan over one index.
//
// Reads go through Snapshot, a deferred read transaction on a pooled
// connection that is pinned when it is acquired. Writes go through
// Transaction, a BEGIN IMMEDIATE transaction on the single writer connection,
// serialized by a process-wide mutex.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/db"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/version"
)

// File names inside a store directory
const (
	DatabaseFile = "quads.db"
	MarkerFile   = "store.toml"
	LockFile     = "LOCK"
	ManifestFile = "MANIFEST.toml"
)

const (
	// DefaultTermCacheSize is the number of decoded terms kept in memory.
	DefaultTermCacheSize = 65536
	// DefaultReadPoolSize bounds concurrent snapshot connections.
	DefaultReadPoolSize = 8
)

// Role is how a handle participates in a store directory.
type Role int

const (
	// RolePrimary owns the LOCK and is the only handle that writes.
	RolePrimary Role = iota
	// RoleReadOnly opens the database read-only. New snapshots see the
	// latest primary commit.
	RoleReadOnly
	// RoleSecondary is a read-only handle with a follower tracking the primary.
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleReadOnly:
		return "read_only"
	case RoleSecondary:
		return "secondary"
	}
	return "unknown"
}

// Options configures Open.
type Options struct {
	Role          Role
	TermCacheSize int // 0 = DefaultTermCacheSize
	BusyTimeoutMS int // 0 = db.SQLiteBusyTimeoutMS
	ReadPoolSize  int // 0 = DefaultReadPoolSize
	// ReclaimBatchSize bounds the number of terms deleted per statement.
	ReclaimBatchSize int
	Logger           *zap.SugaredLogger
	// Metrics receives store counters. nil creates a fresh registry.
	Metrics *Metrics
}

// Storage is an open store directory.
type Storage struct {
	dir  string
	role Role

	writer *sql.DB // nil unless primary
	reader *sql.DB

	// writeMu serializes write transactions, bulk batches and maintenance.
	writeMu sync.Mutex

	terms   *lru.Cache[int64, rdf.Term]
	lock    *fileLock
	marker  Marker
	metrics *Metrics
	logger  *zap.SugaredLogger
	opts    Options

	reclaimStop chan struct{}
	reclaimDone chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
}

// Open opens or, for primaries, creates the store in dir.
func Open(dir string, opts Options) (*Storage, error) {
	if opts.TermCacheSize <= 0 {
		opts.TermCacheSize = DefaultTermCacheSize
	}
	if opts.ReadPoolSize <= 0 {
		opts.ReadPoolSize = DefaultReadPoolSize
	}
	if opts.ReclaimBatchSize <= 0 {
		opts.ReclaimBatchSize = DefaultReclaimBatchSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}

	cache, err := lru.New[int64, rdf.Term](opts.TermCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create term cache")
	}

	s := &Storage{
		dir:     dir,
		role:    opts.Role,
		terms:   cache,
		metrics: opts.Metrics,
		logger:  logger.OrComponent(opts.Logger, "storage").With(logger.FieldPath, dir, logger.FieldRole, opts.Role.String()),
		opts:    opts,
	}

	if opts.Role == RolePrimary {
		err = s.openPrimary()
	} else {
		err = s.openReader()
	}
	if err != nil {
		s.closeHandles()
		return nil, err
	}

	s.logger.Infow("Store opened", logger.FieldStoreID, s.marker.StoreID, logger.FieldVersion, version.Get().Short())
	return s, nil
}

func (s *Storage) openPrimary() error {
	if err := os.MkdirAll(s.dir, am.DefaultDirPermissions); err != nil {
		return errors.NewIOError(err, "failed to create store directory %s", s.dir)
	}

	lock, err := acquireLock(filepath.Join(s.dir, LockFile))
	if err != nil {
		return err
	}
	s.lock = lock

	marker, err := ensureMarker(s.dir)
	if err != nil {
		return err
	}
	s.marker = marker

	s.writer, err = db.OpenWithMigrations(s.DatabasePath(), s.logger)
	if err != nil {
		return err
	}
	s.reader, err = db.Open(s.DatabasePath(), db.Options{
		Mode:          db.ModeReader,
		BusyTimeoutMS: s.opts.BusyTimeoutMS,
		MaxOpenConns:  s.opts.ReadPoolSize,
	}, s.logger)
	return err
}

func (s *Storage) openReader() error {
	marker, err := readMarker(filepath.Join(s.dir, MarkerFile))
	if err != nil {
		return err
	}
	s.marker = marker

	if _, err := os.Stat(s.DatabasePath()); err != nil {
		return errors.NewIOError(err, "no database in store %s", s.dir)
	}
	s.reader, err = db.Open(s.DatabasePath(), db.Options{
		Mode:          db.ModeReadOnly,
		BusyTimeoutMS: s.opts.BusyTimeoutMS,
		MaxOpenConns:  s.opts.ReadPoolSize,
	}, s.logger)
	return err
}

// Dir returns the store directory.
func (s *Storage) Dir() string { return s.dir }

// DatabasePath returns the path of the SQLite file.
func (s *Storage) DatabasePath() string { return filepath.Join(s.dir, DatabaseFile) }

// Role returns the role the store was opened with.
func (s *Storage) Role() Role { return s.role }

// StoreID returns the id recorded in store.toml.
func (s *Storage) StoreID() string { return s.marker.StoreID }

// Marker returns the parsed store.toml.
func (s *Storage) Marker() Marker { return s.marker }

// Metrics returns the store's metrics.
func (s *Storage) Metrics() *Metrics { return s.metrics }

// Logger returns the store's logger.
func (s *Storage) Logger() *zap.SugaredLogger { return s.logger }

// Writable reports whether the handle accepts writes.
func (s *Storage) Writable() bool { return s.role == RolePrimary }

func (s *Storage) checkOpen() error {
	if s.closed.Load() {
		return errors.Mark(errors.WithStack(db.ErrDatabaseClosed), errors.ErrIO)
	}
	return nil
}

func (s *Storage) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.Writable() {
		return errors.Wrapf(errors.ErrReadOnly, "store %s opened as %s", s.dir, s.role)
	}
	return nil
}

// Generation returns the commit counter of the latest committed state.
func (s *Storage) Generation(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var gen int64
	err := s.reader.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'generation'").Scan(&gen)
	if err != nil {
		return 0, wrapSQL(err, "failed to read generation")
	}
	return gen, nil
}

// Close stops background work and closes the database. Open snapshots stay
// usable until they are closed.
func (s *Storage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.StopReclaimer()
		err = s.closeHandles()
		s.logger.Infow("Store closed")
	})
	return err
}

func (s *Storage) closeHandles() error {
	var errs error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = errors.WithSecondaryError(errors.NewIOError(err, "failed to close reader pool"), errs)
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = errors.WithSecondaryError(errors.NewIOError(err, "failed to close writer"), errs)
		}
	}
	if s.lock != nil {
		if err := s.lock.release(); err != nil {
			errs = errors.WithSecondaryError(errors.NewIOError(err, "failed to release store lock"), errs)
		}
	}
	return errs
}

// wrapSQL classifies a database/sql failure. Context errors keep their kind.
func wrapSQL(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, msg)
	}
	if db.IsDatabaseClosed(err) {
		return errors.Mark(errors.Wrap(db.ErrDatabaseClosed, msg), errors.ErrIO)
	}
	if db.IsBusy(err) {
		return errors.WithHint(errors.NewIOError(err, "%s", msg), "raise busy_timeout_ms when writers contend")
	}
	return errors.NewIOError(err, "%s", msg)
}

func since(start time.Time) int64 { return time.Since(start).Milliseconds() }
