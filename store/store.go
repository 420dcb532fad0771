// Package store is the embeddable quad store.
//
// A Store ties the persistent quad index to the SPARQL engine:
//
//	st, err := store.Open("/var/lib/quads", store.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.Update(ctx, `INSERT DATA { <urn:a> <urn:p> "v" }`); err != nil {
//	    return err
//	}
//	res, err := st.Query(ctx, `SELECT ?o WHERE { <urn:a> <urn:p> ?o }`)
//
// Single-call writes run in their own transaction. Transaction groups several
// writes, queries and updates atomically.
package store

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdfio"
	"github.com/teranos/quadstore/storage"
)

// Store is an open quad store. It is safe for concurrent use.
type Store struct {
	st       *storage.Storage
	follower *storage.Follower
	fetcher  *rdfio.Fetcher
	logger   *zap.SugaredLogger
	cfg      settings

	// temp is removed on Close for stores created by New.
	temp      string
	closeOnce sync.Once
}

type settings struct {
	logger           *zap.SugaredLogger
	termCacheSize    int
	busyTimeoutMS    int
	readPoolSize     int
	reclaimInterval  time.Duration
	reclaimBatchSize int
	bulkBatchSize    int
	follower         storage.FollowerOptions
	unionDefault     bool
	queryTimeout     time.Duration
	fetcher          *rdfio.Fetcher
	flushLogs        bool
}

// Option configures Open, New, OpenReadOnly and OpenSecondary.
type Option func(*settings)

// WithLogger sets the logger. The default is the "store" component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTermCacheSize sets the number of decoded terms kept in memory.
func WithTermCacheSize(n int) Option {
	return func(s *settings) { s.termCacheSize = n }
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *settings) { s.busyTimeoutMS = int(d.Milliseconds()) }
}

// WithReadPoolSize bounds the number of concurrent snapshots.
func WithReadPoolSize(n int) Option {
	return func(s *settings) { s.readPoolSize = n }
}

// WithReclaimInterval runs dictionary reclamation in the background on
// primaries. Zero disables it.
func WithReclaimInterval(d time.Duration) Option {
	return func(s *settings) { s.reclaimInterval = d }
}

// WithReclaimBatchSize bounds the number of terms deleted per statement.
func WithReclaimBatchSize(n int) Option {
	return func(s *settings) { s.reclaimBatchSize = n }
}

// WithBulkBatchSize sets the default BulkLoad batch size.
func WithBulkBatchSize(n int) Option {
	return func(s *settings) { s.bulkBatchSize = n }
}

// WithFollower configures the catch-up loop of secondaries.
func WithFollower(opts storage.FollowerOptions) Option {
	return func(s *settings) { s.follower = opts }
}

// WithDefaultUnionGraph makes every query treat the default graph as the
// union of all graphs unless the query says otherwise.
func WithDefaultUnionGraph(union bool) Option {
	return func(s *settings) { s.unionDefault = union }
}

// WithQueryTimeout bounds the evaluation of every query and update.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *settings) { s.queryTimeout = d }
}

// WithFetcher sets the fetcher used by SPARQL LOAD. The default fetches
// over HTTP and through go-getter.
func WithFetcher(f *rdfio.Fetcher) Option {
	return func(s *settings) { s.fetcher = f }
}

// Open opens or creates a primary store in path. Only one primary may hold
// a directory at a time.
func Open(path string, opts ...Option) (*Store, error) {
	return open(path, storage.RolePrimary, opts)
}

// OpenReadOnly opens an existing store without taking the primary lock.
// Each new read sees the latest primary commit.
func OpenReadOnly(path string, opts ...Option) (*Store, error) {
	return open(path, storage.RoleReadOnly, opts)
}

// OpenSecondary opens a read-only store that follows the primary and
// reports its catch-ups through OnCatchUp.
func OpenSecondary(path string, opts ...Option) (*Store, error) {
	return open(path, storage.RoleSecondary, opts)
}

// New creates a primary store in a temporary directory that is deleted on
// Close.
func New(opts ...Option) (*Store, error) {
	dir, err := os.MkdirTemp("", "quadstore-")
	if err != nil {
		return nil, errors.NewIOError(err, "failed to create temporary store directory")
	}
	s, err := open(dir, storage.RolePrimary, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	s.temp = dir
	return s, nil
}

// OpenWithConfig opens the store described by cfg. An empty store path
// creates a temporary store. Options given here override cfg. The global
// logger is initialized from cfg.Log and flushed on Close.
func OpenWithConfig(cfg *am.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	fromConfig := []Option{
		func(s *settings) { s.flushLogs = true },
		WithTermCacheSize(cfg.Store.TermCacheSize),
		WithBusyTimeout(time.Duration(cfg.Store.BusyTimeoutMS) * time.Millisecond),
		WithReadPoolSize(cfg.Store.ReadPoolSize),
		WithReclaimInterval(cfg.ReclaimInterval()),
		WithReclaimBatchSize(cfg.Maintenance.ReclaimBatchSize),
		WithBulkBatchSize(cfg.BulkLoad.BatchSize),
		WithFollower(storage.FollowerOptions{
			PollInterval:      cfg.PollInterval(),
			CatchUpsPerSecond: cfg.Replica.CatchUpsPerSecond,
			WatchWAL:          cfg.Replica.WatchWAL,
		}),
		WithDefaultUnionGraph(cfg.Query.UnionDefaultGraph),
		WithQueryTimeout(cfg.QueryTimeout()),
	}
	opts = append(fromConfig, opts...)

	if cfg.Store.Path == "" {
		return New(opts...)
	}
	switch cfg.Store.Mode {
	case am.ModeReadOnly:
		return OpenReadOnly(cfg.Store.Path, opts...)
	case am.ModeSecondary:
		return OpenSecondary(cfg.Store.Path, opts...)
	}
	return Open(cfg.Store.Path, opts...)
}

func open(path string, role storage.Role, opts []Option) (*Store, error) {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}
	log := logger.OrComponent(cfg.logger, "store")

	st, err := storage.Open(path, storage.Options{
		Role:             role,
		TermCacheSize:    cfg.termCacheSize,
		BusyTimeoutMS:    cfg.busyTimeoutMS,
		ReadPoolSize:     cfg.readPoolSize,
		ReclaimBatchSize: cfg.reclaimBatchSize,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{st: st, logger: log, cfg: cfg, fetcher: cfg.fetcher}
	if s.fetcher == nil {
		s.fetcher = rdfio.NewFetcher(log)
	}

	switch role {
	case storage.RolePrimary:
		st.StartReclaimer(cfg.reclaimInterval)
	case storage.RoleSecondary:
		fopts := cfg.follower
		if fopts.Logger == nil {
			fopts.Logger = log
		}
		s.follower, err = st.StartFollower(fopts)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close stops background work and closes the store. Results still being
// read keep their snapshot until they are closed.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.follower != nil {
			s.follower.Stop()
		}
		err = s.st.Close()
		if s.cfg.flushLogs {
			logger.Cleanup()
		}
		if s.temp != "" {
			if rmErr := os.RemoveAll(s.temp); rmErr != nil {
				err = errors.WithSecondaryError(err, errors.NewIOError(rmErr, "failed to remove temporary store %s", s.temp))
			}
		}
	})
	return err
}

// Path returns the store directory.
func (s *Store) Path() string { return s.st.Dir() }

// ID returns the store id recorded when the store was created.
func (s *Store) ID() string { return s.st.StoreID() }

// Writable reports whether the store accepts writes.
func (s *Store) Writable() bool { return s.st.Writable() }

// Generation returns the number of committed write transactions.
func (s *Store) Generation(ctx context.Context) (int64, error) {
	return s.st.Generation(ctx)
}

// Metrics returns the registry holding the store's counters.
func (s *Store) Metrics() *prometheus.Registry { return s.st.Metrics().Registry }

// CatchUp forces a secondary to observe the latest primary commit and
// returns its generation.
func (s *Store) CatchUp(ctx context.Context) (int64, error) {
	if s.follower == nil {
		return 0, errors.NewConstraintError("store %s is not a secondary", s.Path())
	}
	return s.follower.CatchUp(ctx)
}

// OnCatchUp registers fn to run whenever a secondary observes a new
// generation. It is a no-op on other stores.
func (s *Store) OnCatchUp(fn func(generation int64)) {
	if s.follower != nil {
		s.follower.OnCatchUp(fn)
	}
}
