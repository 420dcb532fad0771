package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
)

// Follower defaults
const (
	DefaultPollInterval      = time.Second
	DefaultCatchUpsPerSecond = 10.0
)

// FollowerOptions configures a secondary follower.
type FollowerOptions struct {
	PollInterval      time.Duration // 0 = DefaultPollInterval
	CatchUpsPerSecond float64       // 0 = DefaultCatchUpsPerSecond
	// WatchWAL adds fsnotify events on the database files to the poll ticker.
	WatchWAL bool
	Logger   *zap.SugaredLogger
}

// CatchUpCallback is called after a catch-up observed a new generation.
type CatchUpCallback func(generation int64)

// Follower trails the primary for a secondary handle. SQLite already hands
// every new snapshot the latest commit; the follower tracks the commit
// generation, publishes it and tells subscribers when it moves. It only ever
// reads, so it cannot block the primary.
type Follower struct {
	st      *Storage
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	poll    time.Duration
	logger  *zap.SugaredLogger

	mu        sync.RWMutex
	callbacks []CatchUpCallback

	generation atomic.Int64
	catchUpMu  sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// StartFollower starts following the primary. It is only valid on secondary
// handles.
func (s *Storage) StartFollower(opts FollowerOptions) (*Follower, error) {
	if s.role != RoleSecondary {
		return nil, errors.NewConstraintError("only secondary stores follow a primary, this one is %s", s.role)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CatchUpsPerSecond <= 0 {
		opts.CatchUpsPerSecond = DefaultCatchUpsPerSecond
	}

	f := &Follower{
		st:      s,
		limiter: rate.NewLimiter(rate.Limit(opts.CatchUpsPerSecond), 1),
		poll:    opts.PollInterval,
		logger:  logger.OrComponent(opts.Logger, "storage.follower").With(logger.FieldPath, s.dir),
		done:    make(chan struct{}),
	}

	if opts.WatchWAL {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, errors.NewIOError(err, "failed to create fsnotify watcher")
		}
		// The -wal file comes and goes with checkpoints, so watch the directory
		if err := watcher.Add(s.dir); err != nil {
			watcher.Close()
			return nil, errors.NewIOError(err, "failed to watch store directory %s", s.dir)
		}
		f.watcher = watcher
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	if _, err := f.CatchUp(ctx); err != nil {
		cancel()
		if f.watcher != nil {
			f.watcher.Close()
		}
		return nil, err
	}

	go f.loop(ctx)
	return f, nil
}

// OnCatchUp registers a callback for generation changes.
func (f *Follower) OnCatchUp(cb CatchUpCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

// Generation returns the last observed commit generation.
func (f *Follower) Generation() int64 { return f.generation.Load() }

// CatchUp reads the primary's current generation and notifies callbacks when
// it changed. It returns the observed generation.
func (f *Follower) CatchUp(ctx context.Context) (int64, error) {
	f.catchUpMu.Lock()
	defer f.catchUpMu.Unlock()

	gen, err := f.st.Generation(ctx)
	if err != nil {
		return 0, err
	}
	m := f.st.metrics
	m.CatchUps.Inc()
	m.ReplicaGeneration.Set(float64(gen))

	prev := f.generation.Swap(gen)
	if prev == gen {
		return gen, nil
	}
	f.logger.Debugw("Secondary caught up", logger.FieldGeneration, gen)

	f.mu.RLock()
	callbacks := append([]CatchUpCallback(nil), f.callbacks...)
	f.mu.RUnlock()
	for _, cb := range callbacks {
		cb(gen)
	}
	return gen, nil
}

func (f *Follower) loop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if f.watcher != nil {
		events = f.watcher.Events
		errs = f.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tryCatchUp(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(event.Name), DatabaseFile) {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				f.tryCatchUp(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.logger.Warnw("Store watcher error", logger.FieldError, err)
		}
	}
}

// tryCatchUp catches up unless the rate limit is exhausted; the next tick
// covers skipped events.
func (f *Follower) tryCatchUp(ctx context.Context) {
	if !f.limiter.Allow() {
		return
	}
	if _, err := f.CatchUp(ctx); err != nil && ctx.Err() == nil {
		f.logger.Warnw("Secondary catch-up failed", logger.FieldError, err)
	}
}

// Stop ends the follower and waits for its goroutine.
func (f *Follower) Stop() {
	f.cancel()
	<-f.done
	if f.watcher != nil {
		f.watcher.Close()
	}
}
