package store

import (
	"context"

	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/sparql"
	"github.com/teranos/quadstore/storage"
)

// Transaction is an atomic write over the store. Reads, queries and updates
// made through it see its own writes.
type Transaction struct {
	store *Store
	tx    *storage.Transaction
}

// Transaction runs fn in a write transaction. It commits when fn returns nil
// and rolls back otherwise. Writes of other goroutines wait until it ends.
func (s *Store) Transaction(ctx context.Context, fn func(*Transaction) error) error {
	return s.st.Update(ctx, func(tx *storage.Transaction) error {
		return fn(&Transaction{store: s, tx: tx})
	})
}

// Insert adds q and reports whether it was new.
func (t *Transaction) Insert(ctx context.Context, q rdf.Quad) (bool, error) {
	return t.tx.Insert(ctx, q)
}

// Extend adds quads and returns how many were new.
func (t *Transaction) Extend(ctx context.Context, quads []rdf.Quad) (int64, error) {
	var n int64
	for _, q := range quads {
		added, err := t.tx.Insert(ctx, q)
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	return n, nil
}

// Remove deletes q and reports whether it was present.
func (t *Transaction) Remove(ctx context.Context, q rdf.Quad) (bool, error) {
	return t.tx.Remove(ctx, q)
}

func (t *Transaction) Contains(ctx context.Context, q rdf.Quad) (bool, error) {
	return t.tx.Contains(ctx, q)
}

// QuadsForPattern matches against the transaction's state. The iterator is
// only valid until the transaction ends.
func (t *Transaction) QuadsForPattern(ctx context.Context, subject, predicate, object, graph rdf.Term) (rdf.QuadIterator, error) {
	return t.tx.Match(ctx, rdf.QuadPattern{S: subject, P: predicate, O: object, G: graph})
}

func (t *Transaction) Len(ctx context.Context) (int64, error) { return t.tx.Len(ctx) }

func (t *Transaction) IsEmpty(ctx context.Context) (bool, error) { return t.tx.IsEmpty(ctx) }

func (t *Transaction) NamedGraphs(ctx context.Context) ([]rdf.Term, error) {
	return t.tx.NamedGraphs(ctx)
}

func (t *Transaction) ContainsNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	return t.tx.ContainsNamedGraph(ctx, g)
}

func (t *Transaction) InsertNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	return t.tx.InsertNamedGraph(ctx, g)
}

func (t *Transaction) ClearGraph(ctx context.Context, g rdf.Term) (int64, error) {
	return t.tx.ClearGraph(ctx, g)
}

func (t *Transaction) RemoveNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	return t.tx.RemoveNamedGraph(ctx, g)
}

func (t *Transaction) Clear(ctx context.Context) error { return t.tx.Clear(ctx) }

// Query evaluates a query against the transaction's state. Results must be
// consumed before the transaction ends.
func (t *Transaction) Query(ctx context.Context, text string, opts ...QueryOption) (sparql.QueryResults, error) {
	return t.store.query(ctx, t.tx, nil, text, opts)
}

// Update executes an update inside the transaction. A failure leaves the
// transaction to be rolled back by the caller.
func (t *Transaction) Update(ctx context.Context, text string, opts ...UpdateOption) error {
	p, err := t.store.prepareUpdate(ctx, text, opts)
	if err != nil {
		return err
	}
	return p.execute(ctx, t.tx)
}
