package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
)

// txState tracks a write transaction from start to outcome.
type txState int

const (
	txWriting txState = iota
	txCommitted
	txAborted
)

// Transaction is an atomic write. It sees its own writes. Every write of the
// store is serialized behind the one open Transaction.
type Transaction struct {
	view
	state    txState
	unlock   func()
	started  time.Time
	dirty    bool
	inserted int64
	removed  int64
}

// Begin starts a write transaction. It blocks while another write is in
// progress and fails on read-only handles.
func (s *Storage) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	return s.beginLocked(ctx, s.writer, s.writeMu.Unlock)
}

// beginLocked starts a transaction on conn. The caller holds writeMu and
// passes the function that releases it.
func (s *Storage) beginLocked(ctx context.Context, conn *sql.DB, unlock func()) (*Transaction, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		return nil, wrapSQL(err, "failed to begin write transaction")
	}
	return &Transaction{
		view:    view{st: s, tx: tx, writable: true, fresh: make(map[int64]rdf.Term)},
		unlock:  unlock,
		started: time.Now(),
	}, nil
}

// Update runs fn in a write transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Storage) Update(ctx context.Context, fn func(*Transaction) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.WithSecondaryError(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (t *Transaction) checkWriting() error {
	if t.state != txWriting {
		return errors.NewConstraintError("transaction already finished")
	}
	return nil
}

// Insert adds q. It reports whether q was new.
func (t *Transaction) Insert(ctx context.Context, q rdf.Quad) (bool, error) {
	if err := t.checkWriting(); err != nil {
		return false, err
	}
	q = q.Canonical()
	if err := q.Validate(); err != nil {
		return false, errors.Mark(errors.WithStack(err), errors.ErrConstraint)
	}

	var ids [4]int64
	for i, term := range []rdf.Term{q.S, q.P, q.O, q.G} {
		id, err := t.intern(ctx, term)
		if err != nil {
			return false, err
		}
		ids[i] = id
	}

	res, err := t.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO quads (subject, predicate, object, graph_name) VALUES (?, ?, ?, ?)",
		ids[0], ids[1], ids[2], ids[3])
	if err != nil {
		return false, wrapSQL(err, "failed to insert quad")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQL(err, "failed to insert quad")
	}
	if ids[3] != defaultGraphID {
		if err := t.registerGraph(ctx, ids[3]); err != nil {
			return false, err
		}
	}
	if n > 0 {
		t.dirty = true
		t.inserted++
	}
	return n > 0, nil
}

// Remove deletes q. It reports whether q was present. The graph of q stays
// registered even when it becomes empty.
func (t *Transaction) Remove(ctx context.Context, q rdf.Quad) (bool, error) {
	if err := t.checkWriting(); err != nil {
		return false, err
	}
	ids, found, err := t.quadIDs(ctx, q.Canonical())
	if err != nil || !found {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM quads WHERE subject = ? AND predicate = ? AND object = ? AND graph_name = ?",
		ids[0], ids[1], ids[2], ids[3])
	if err != nil {
		return false, wrapSQL(err, "failed to remove quad")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQL(err, "failed to remove quad")
	}
	if n > 0 {
		t.dirty = true
		t.removed += n
	}
	return n > 0, nil
}

func (t *Transaction) registerGraph(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, "INSERT OR IGNORE INTO named_graphs (graph_name) VALUES (?)", id)
	if err != nil {
		return wrapSQL(err, "failed to register named graph")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.dirty = true
	}
	return nil
}

// InsertNamedGraph registers g. It reports whether g was new. The default
// graph always exists and is never registered.
func (t *Transaction) InsertNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	if err := t.checkWriting(); err != nil {
		return false, err
	}
	if rdf.IsDefaultGraph(g) {
		return false, nil
	}
	if !rdf.ValidGraphName(g) {
		return false, errors.NewConstraintError("%v cannot name a graph", g)
	}
	existed, err := t.ContainsNamedGraph(ctx, g)
	if err != nil || existed {
		return false, err
	}
	id, err := t.intern(ctx, g)
	if err != nil {
		return false, err
	}
	if err := t.registerGraph(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// ClearGraph removes every quad of g and keeps g registered. The default
// graph may be cleared.
func (t *Transaction) ClearGraph(ctx context.Context, g rdf.Term) (int64, error) {
	if err := t.checkWriting(); err != nil {
		return 0, err
	}
	id, found, err := t.lookupID(ctx, g)
	if err != nil || !found {
		return 0, err
	}
	return t.exec(ctx, "failed to clear graph", "DELETE FROM quads WHERE graph_name = ?", id)
}

// RemoveNamedGraph clears g and drops it from the registry. It reports
// whether g existed.
func (t *Transaction) RemoveNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	if err := t.checkWriting(); err != nil {
		return false, err
	}
	if rdf.IsDefaultGraph(g) {
		return false, errors.NewConstraintError("the default graph cannot be removed, only cleared")
	}
	id, found, err := t.lookupID(ctx, g)
	if err != nil || !found {
		return false, err
	}
	cleared, err := t.exec(ctx, "failed to clear graph", "DELETE FROM quads WHERE graph_name = ?", id)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM named_graphs WHERE graph_name = ?", id)
	if err != nil {
		return false, wrapSQL(err, "failed to remove named graph")
	}
	unregistered, _ := res.RowsAffected()
	if unregistered > 0 {
		t.dirty = true
	}
	return cleared > 0 || unregistered > 0, nil
}

// Clear removes every quad and every named graph.
func (t *Transaction) Clear(ctx context.Context) error {
	if err := t.checkWriting(); err != nil {
		return err
	}
	if _, err := t.exec(ctx, "failed to clear store", "DELETE FROM quads"); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM named_graphs"); err != nil {
		return wrapSQL(err, "failed to clear named graphs")
	}
	t.dirty = true
	return nil
}

// exec runs a quad deletion and accounts for the removed rows.
func (t *Transaction) exec(ctx context.Context, msg, query string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapSQL(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapSQL(err, msg)
	}
	if n > 0 {
		t.dirty = true
		t.removed += n
	}
	return n, nil
}

// Commit makes the writes visible atomically and bumps the generation.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.checkWriting(); err != nil {
		return err
	}
	if t.dirty {
		if _, err := t.tx.ExecContext(ctx, "UPDATE store_meta SET value = value + 1 WHERE key = 'generation'"); err != nil {
			t.Rollback()
			return wrapSQL(err, "failed to bump generation")
		}
	}
	if err := t.tx.Commit(); err != nil {
		t.state = txAborted
		t.release()
		return wrapSQL(err, "failed to commit")
	}
	t.state = txCommitted

	for id, term := range t.fresh {
		t.st.terms.Add(id, term)
	}
	m := t.st.metrics
	m.Commits.Inc()
	m.QuadsInserted.Add(float64(t.inserted))
	m.QuadsRemoved.Add(float64(t.removed))
	t.st.logger.Debugw("Transaction committed",
		logger.FieldInserted, t.inserted,
		logger.FieldRemoved, t.removed,
		logger.FieldDurationMS, since(t.started),
	)
	t.release()
	return nil
}

// Rollback discards the writes. It is a no-op after Commit or Rollback.
func (t *Transaction) Rollback() error {
	if t.state != txWriting {
		return nil
	}
	t.state = txAborted
	err := t.tx.Rollback()
	t.release()
	if err != nil && err != sql.ErrTxDone {
		return wrapSQL(err, "failed to roll back")
	}
	return nil
}

func (t *Transaction) release() {
	t.fresh = nil
	if t.unlock != nil {
		t.unlock()
		t.unlock = nil
	}
}

// Inserted returns the number of quads this transaction added.
func (t *Transaction) Inserted() int64 { return t.inserted }

// Removed returns the number of quads this transaction deleted.
func (t *Transaction) Removed() int64 { return t.removed }
