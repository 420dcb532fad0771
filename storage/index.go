package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// queryBuilder accumulates SQL WHERE clauses and parameters for quad lookups
type queryBuilder struct {
	whereClauses []string
	args         []interface{}
}

// addClause appends a WHERE clause with its arguments
func (qb *queryBuilder) addClause(clause string, args ...interface{}) {
	qb.whereClauses = append(qb.whereClauses, clause)
	qb.args = append(qb.args, args...)
}

// build returns the WHERE clauses joined with AND
func (qb *queryBuilder) build() string {
	return strings.Join(qb.whereClauses, " AND ")
}

// Bound positions of a pattern, as bits.
const (
	boundS = 1 << iota
	boundP
	boundO
	boundG
)

// indexOrders maps bound positions to the column order of the index that
// answers them with one range scan. ORDER BY on those columns makes SQLite
// walk that index and fixes the result order.
var indexOrders = map[int]string{
	0:                                 "subject, predicate, object, graph_name",
	boundS:                            "subject, predicate, object, graph_name",
	boundS | boundP:                   "subject, predicate, object, graph_name",
	boundS | boundP | boundO:          "subject, predicate, object, graph_name",
	boundS | boundP | boundO | boundG: "subject, predicate, object, graph_name",
	boundP:                            "predicate, object, subject, graph_name",
	boundP | boundO:                   "predicate, object, subject, graph_name",
	boundO:                            "object, subject, predicate, graph_name",
	boundS | boundO:                   "object, subject, predicate, graph_name",
	boundG:                            "graph_name, subject, predicate, object",
	boundG | boundS:                   "graph_name, subject, predicate, object",
	boundG | boundS | boundP:          "graph_name, subject, predicate, object",
	boundG | boundP:                   "graph_name, predicate, object, subject",
	boundG | boundP | boundO:          "graph_name, predicate, object, subject",
	boundG | boundO:                   "graph_name, object, subject, predicate",
	boundG | boundS | boundO:          "graph_name, object, subject, predicate",
}

// Match returns the quads matching p in index order. A bound term unknown to
// the dictionary yields an empty result without scanning the index.
func (v *view) Match(ctx context.Context, p rdf.QuadPattern) (rdf.QuadIterator, error) {
	var qb queryBuilder
	bound := 0
	positions := []struct {
		term   rdf.Term
		column string
		bit    int
	}{
		{p.S, "subject", boundS},
		{p.P, "predicate", boundP},
		{p.O, "object", boundO},
		{p.G, "graph_name", boundG},
	}
	for _, pos := range positions {
		if pos.term == nil {
			continue
		}
		id, found, err := v.lookupID(ctx, pos.term)
		if err != nil {
			return nil, err
		}
		if !found {
			return rdf.NewSliceIterator(nil), nil
		}
		qb.addClause(pos.column+" = ?", id)
		bound |= pos.bit
	}
	if p.G == nil && p.NamedGraphsOnly {
		qb.addClause("graph_name <> ?", defaultGraphID)
	}

	query := "SELECT subject, predicate, object, graph_name FROM quads"
	if where := qb.build(); where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + indexOrders[bound]

	rows, err := v.tx.QueryContext(ctx, query, qb.args...)
	if err != nil {
		return nil, wrapSQL(err, "failed to scan quads")
	}
	return &quadIterator{ctx: ctx, v: v, rows: rows}, nil
}

// quadIterator decodes index rows lazily.
type quadIterator struct {
	ctx  context.Context
	v    *view
	rows *sql.Rows
	cur  rdf.Quad
	err  error
	done bool
}

func (it *quadIterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(errors.WithStack(err))
		return false
	}
	if !it.rows.Next() {
		it.fail(wrapSQL(it.rows.Err(), "failed to scan quads"))
		return false
	}

	var s, p, o, g int64
	if err := it.rows.Scan(&s, &p, &o, &g); err != nil {
		it.fail(wrapSQL(err, "failed to scan quad"))
		return false
	}
	q, err := it.v.decodeQuad(it.ctx, s, p, o, g)
	if err != nil {
		it.fail(err)
		return false
	}
	it.cur = q
	return true
}

func (it *quadIterator) fail(err error) {
	it.err = err
	it.Close()
}

func (it *quadIterator) Quad() rdf.Quad { return it.cur }
func (it *quadIterator) Err() error     { return it.err }

func (it *quadIterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.rows.Close()
}

func (v *view) decodeQuad(ctx context.Context, s, p, o, g int64) (rdf.Quad, error) {
	st, err := v.term(ctx, s)
	if err != nil {
		return rdf.Quad{}, err
	}
	pt, err := v.predicate(ctx, p)
	if err != nil {
		return rdf.Quad{}, err
	}
	ot, err := v.term(ctx, o)
	if err != nil {
		return rdf.Quad{}, err
	}
	gt, err := v.term(ctx, g)
	if err != nil {
		return rdf.Quad{}, err
	}
	return rdf.Quad{S: st, P: pt, O: ot, G: gt}, nil
}

// quadIDs resolves the ids of q without creating terms.
func (v *view) quadIDs(ctx context.Context, q rdf.Quad) ([4]int64, bool, error) {
	var ids [4]int64
	for i, t := range []rdf.Term{q.S, q.P, q.O, q.G} {
		id, found, err := v.lookupID(ctx, t)
		if err != nil || !found {
			return ids, false, err
		}
		ids[i] = id
	}
	return ids, true, nil
}

// Contains reports whether q is in the store.
func (v *view) Contains(ctx context.Context, q rdf.Quad) (bool, error) {
	ids, found, err := v.quadIDs(ctx, q.Canonical())
	if err != nil || !found {
		return false, err
	}
	var one int
	err = v.tx.QueryRowContext(ctx,
		"SELECT 1 FROM quads WHERE subject = ? AND predicate = ? AND object = ? AND graph_name = ?",
		ids[0], ids[1], ids[2], ids[3]).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapSQL(err, "failed to look up quad")
	}
	return true, nil
}

// Len returns the number of quads.
func (v *view) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := v.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM quads").Scan(&n); err != nil {
		return 0, wrapSQL(err, "failed to count quads")
	}
	return n, nil
}

// IsEmpty reports whether the store holds no quads.
func (v *view) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := v.tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM quads)").Scan(&exists); err != nil {
		return false, wrapSQL(err, "failed to check for quads")
	}
	return !exists, nil
}

// NamedGraphs returns the registered graph names in id order.
func (v *view) NamedGraphs(ctx context.Context) ([]rdf.Term, error) {
	rows, err := v.tx.QueryContext(ctx, "SELECT graph_name FROM named_graphs ORDER BY graph_name")
	if err != nil {
		return nil, wrapSQL(err, "failed to list named graphs")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapSQL(err, "failed to scan named graph")
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapSQL(err, "failed to list named graphs")
	}

	graphs := make([]rdf.Term, 0, len(ids))
	for _, id := range ids {
		g, err := v.term(ctx, id)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// ContainsNamedGraph reports whether g is registered. The default graph
// always exists.
func (v *view) ContainsNamedGraph(ctx context.Context, g rdf.Term) (bool, error) {
	if rdf.IsDefaultGraph(g) {
		return true, nil
	}
	id, found, err := v.lookupID(ctx, g)
	if err != nil || !found {
		return false, err
	}
	var one int
	err = v.tx.QueryRowContext(ctx, "SELECT 1 FROM named_graphs WHERE graph_name = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapSQL(err, "failed to look up named graph")
	}
	return true, nil
}
