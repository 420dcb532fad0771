package sparql

import (
	"context"

	"github.com/teranos/quadstore/rdf"
)

// QuadReader is the storage surface queries read from. Storage snapshots
// and write transactions implement it.
type QuadReader interface {
	Match(ctx context.Context, p rdf.QuadPattern) (rdf.QuadIterator, error)
	NamedGraphs(ctx context.Context) ([]rdf.Term, error)
	ContainsNamedGraph(ctx context.Context, g rdf.Term) (bool, error)
}

// datasetView resolves the default graph and the named graphs of one query
// or update operation.
type datasetView struct {
	r QuadReader
	// defaults lists the graphs merged into the default graph; nil means
	// the real default graph, or every graph in union mode.
	defaults []rdf.Term
	union    bool
	// named restricts the named graphs; nil means every named graph.
	named []rdf.Term
}

// Dataset selection precedence: caller lists, then the FROM / USING clauses
// of the text, then the union flag and the store's own graphs.
func newDatasetView(r QuadReader, text *datasetClause, union bool, callerDefaults, callerNamed []rdf.Term) *datasetView {
	d := &datasetView{r: r, union: union}
	if text != nil {
		d.defaults = text.defaults
		d.named = text.named
	}
	if callerDefaults != nil {
		d.defaults = callerDefaults
	}
	if callerNamed != nil {
		d.named = callerNamed
	}
	return d
}

// match looks up a triple pattern in graph g, or in the default graph set
// when g is nil.
func (d *datasetView) match(ctx context.Context, g, s, p, o rdf.Term) (rdf.QuadIterator, error) {
	pattern := rdf.QuadPattern{S: s, P: p, O: o}
	if g != nil {
		pattern.G = g
		return d.r.Match(ctx, pattern)
	}
	switch {
	case d.defaults != nil:
		return &chainIterator{ctx: ctx, r: d.r, pattern: pattern, graphs: d.defaults}, nil
	case d.union:
		return d.r.Match(ctx, pattern)
	}
	pattern.G = rdf.DefaultGraph
	return d.r.Match(ctx, pattern)
}

// namedGraphs lists the graphs GRAPH ?g ranges over.
func (d *datasetView) namedGraphs(ctx context.Context) ([]rdf.Term, error) {
	if d.named != nil {
		out := make([]rdf.Term, 0, len(d.named))
		seen := make(map[string]bool)
		for _, g := range d.named {
			if rdf.IsDefaultGraph(g) || seen[g.String()] {
				continue
			}
			seen[g.String()] = true
			out = append(out, g)
		}
		return out, nil
	}
	return d.r.NamedGraphs(ctx)
}

func (d *datasetView) isNamed(ctx context.Context, g rdf.Term) (bool, error) {
	if g == nil || rdf.IsDefaultGraph(g) || !rdf.ValidGraphName(g) {
		return false, nil
	}
	if d.named != nil {
		for _, n := range d.named {
			if rdf.Equal(n, g) {
				return true, nil
			}
		}
		return false, nil
	}
	return d.r.ContainsNamedGraph(ctx, g)
}

// chainIterator reads one pattern from several graphs in turn, without
// deduplication.
type chainIterator struct {
	ctx     context.Context
	r       QuadReader
	pattern rdf.QuadPattern
	graphs  []rdf.Term
	idx     int
	cur     rdf.QuadIterator
	quad    rdf.Quad
	err     error
}

func (it *chainIterator) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if it.cur != nil {
			if it.cur.Next() {
				it.quad = it.cur.Quad()
				return true
			}
			it.err = it.cur.Err()
			it.cur.Close()
			it.cur = nil
			continue
		}
		if it.idx >= len(it.graphs) {
			return false
		}
		p := it.pattern
		p.G = it.graphs[it.idx]
		it.idx++
		if it.cur, it.err = it.r.Match(it.ctx, p); it.err != nil {
			return false
		}
	}
}

func (it *chainIterator) Quad() rdf.Quad { return it.quad }
func (it *chainIterator) Err() error     { return it.err }

func (it *chainIterator) Close() error {
	if it.cur != nil {
		err := it.cur.Close()
		it.cur = nil
		return err
	}
	return nil
}
