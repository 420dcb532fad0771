package store

import (
	"context"

	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/storage"
)

// read runs fn on a fresh snapshot and ends it afterwards.
func (s *Store) read(ctx context.Context, fn func(*storage.Snapshot) error) error {
	snap, err := s.st.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer snap.Close()
	return fn(snap)
}

// Insert adds q in its own transaction and reports whether it was new.
func (s *Store) Insert(ctx context.Context, q rdf.Quad) (bool, error) {
	var added bool
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		added, err = tx.Insert(ctx, q)
		return err
	})
	return added, err
}

// Extend adds quads atomically and returns how many were new.
func (s *Store) Extend(ctx context.Context, quads []rdf.Quad) (int64, error) {
	var n int64
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.Extend(ctx, quads)
		return err
	})
	return n, err
}

// Remove deletes q in its own transaction and reports whether it was present.
func (s *Store) Remove(ctx context.Context, q rdf.Quad) (bool, error) {
	var removed bool
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		removed, err = tx.Remove(ctx, q)
		return err
	})
	return removed, err
}

// Contains reports whether q is in the store.
func (s *Store) Contains(ctx context.Context, q rdf.Quad) (bool, error) {
	var found bool
	err := s.read(ctx, func(snap *storage.Snapshot) (err error) {
		found, err = snap.Contains(ctx, q)
		return err
	})
	return found, err
}

// QuadsForPattern returns the quads matching the given terms; nil matches
// anything. A nil graph matches every graph and rdf.DefaultGraph only the
// default graph. The iterator reads from one snapshot and must be closed.
func (s *Store) QuadsForPattern(ctx context.Context, subject, predicate, object, graph rdf.Term) (rdf.QuadIterator, error) {
	snap, err := s.st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	it, err := snap.Match(ctx, rdf.QuadPattern{S: subject, P: predicate, O: object, G: graph})
	if err != nil {
		snap.Close()
		return nil, err
	}
	return &snapshotIterator{QuadIterator: it, snap: snap}, nil
}

// Iter returns every quad of the store.
func (s *Store) Iter(ctx context.Context) (rdf.QuadIterator, error) {
	return s.QuadsForPattern(ctx, nil, nil, nil, nil)
}

// Len returns the number of quads.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.read(ctx, func(snap *storage.Snapshot) (err error) {
		n, err = snap.Len(ctx)
		return err
	})
	return n, err
}

// IsEmpty reports whether the store holds no quads.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	empty := true
	err := s.read(ctx, func(snap *storage.Snapshot) (err error) {
		empty, err = snap.IsEmpty(ctx)
		return err
	})
	return empty, err
}

// NamedGraphs returns the registered graph names.
func (s *Store) NamedGraphs(ctx context.Context) ([]rdf.Term, error) {
	var graphs []rdf.Term
	err := s.read(ctx, func(snap *storage.Snapshot) (err error) {
		graphs, err = snap.NamedGraphs(ctx)
		return err
	})
	return graphs, err
}

// ContainsNamedGraph reports whether g is registered.
func (s *Store) ContainsNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	var found bool
	err := s.read(ctx, func(snap *storage.Snapshot) (err error) {
		found, err = snap.ContainsNamedGraph(ctx, g)
		return err
	})
	return found, err
}

// InsertNamedGraph registers g, even without quads. It reports whether g
// was new.
func (s *Store) InsertNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	var added bool
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		added, err = tx.InsertNamedGraph(ctx, g)
		return err
	})
	return added, err
}

// ClearGraph removes the quads of g and keeps it registered. The default
// graph may be cleared.
func (s *Store) ClearGraph(ctx context.Context, g rdf.Term) (int64, error) {
	var n int64
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		n, err = tx.ClearGraph(ctx, g)
		return err
	})
	return n, err
}

// RemoveNamedGraph removes g and its quads. It reports whether g existed.
func (s *Store) RemoveNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	var removed bool
	err := s.Transaction(ctx, func(tx *Transaction) (err error) {
		removed, err = tx.RemoveNamedGraph(ctx, g)
		return err
	})
	return removed, err
}

// Clear removes every quad and every named graph.
func (s *Store) Clear(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *Transaction) error {
		return tx.Clear(ctx)
	})
}

// snapshotIterator ends its snapshot when it is closed.
type snapshotIterator struct {
	rdf.QuadIterator
	snap *storage.Snapshot
}

func (it *snapshotIterator) Close() error {
	err := it.QuadIterator.Close()
	if relErr := it.snap.Close(); err == nil {
		err = relErr
	}
	return err
}
