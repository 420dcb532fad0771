package storage

import (
	"context"
	"database/sql"
	"sync"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// view is the read surface shared by snapshots and write transactions.
type view struct {
	st       *Storage
	tx       *sql.Tx
	writable bool
	// fresh holds terms created by the enclosing write transaction.
	fresh map[int64]rdf.Term
}

// Snapshot is a repeatable-read view of the store. It never observes commits
// made after it was acquired. Lazy results built on a snapshot Retain it and
// Release it when they close; the snapshot ends when the last user releases.
type Snapshot struct {
	view
	generation int64

	mu     sync.Mutex
	refs   int
	closed bool
}

// Snapshot acquires a new snapshot. The snapshot ends when ctx is cancelled
// or Close is called.
func (s *Storage) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	tx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQL(err, "failed to begin snapshot")
	}

	// A deferred transaction starts reading, and so pins the WAL snapshot,
	// at its first statement.
	var gen int64
	var nonEmpty bool
	err = tx.QueryRowContext(ctx,
		"SELECT (SELECT value FROM store_meta WHERE key = 'generation'), EXISTS (SELECT 1 FROM quads)").
		Scan(&gen, &nonEmpty)
	if err != nil {
		tx.Rollback()
		return nil, wrapSQL(err, "failed to pin snapshot")
	}

	return &Snapshot{
		view:       view{st: s, tx: tx},
		generation: gen,
		refs:       1,
	}, nil
}

// Generation returns the commit generation the snapshot sees.
func (sn *Snapshot) Generation() int64 { return sn.generation }

// Retain adds a user. It fails once the snapshot has ended.
func (sn *Snapshot) Retain() error {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return errors.NewConstraintError("snapshot is closed")
	}
	sn.refs++
	return nil
}

// Release drops a user and ends the snapshot after the last one.
func (sn *Snapshot) Release() error {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return nil
	}
	sn.refs--
	if sn.refs > 0 {
		return nil
	}
	sn.closed = true
	if err := sn.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return wrapSQL(err, "failed to end snapshot")
	}
	return nil
}

// Close releases the reference taken by Storage.Snapshot.
func (sn *Snapshot) Close() error { return sn.Release() }
