package sparql

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// CustomFunction implements a function called by IRI. An error or a nil
// result means the call has no value for the current solution.
type CustomFunction func(args []rdf.Term) (rdf.Term, error)

// Accumulator folds the values of one group.
type Accumulator interface {
	Accumulate(value rdf.Term)
	Finish() (rdf.Term, error)
}

// CustomAggregate returns a fresh Accumulator for each group.
type CustomAggregate func() Accumulator

// Options configure the evaluation of one query.
type Options struct {
	// BaseIRI resolves relative IRIs when the text has no BASE.
	BaseIRI string

	// UnionDefaultGraph makes the default graph the union of all graphs.
	UnionDefaultGraph bool

	// DefaultGraphs and NamedGraphs override the dataset of the text when
	// non-nil. An empty, non-nil slice selects no graphs.
	DefaultGraphs []rdf.Term
	NamedGraphs   []rdf.Term

	// Substitutions pre-bind variables, keyed by name without '?'.
	Substitutions map[string]rdf.Term

	Functions  map[string]CustomFunction
	Aggregates map[string]CustomAggregate

	Logger *zap.SugaredLogger
}

// Query is a parsed SPARQL query, safe for concurrent evaluation.
type Query struct {
	form     QueryForm
	text     string
	base     string
	dataset  *datasetClause
	sel      *selectClause
	template []triplePattern
	describe []patternNode
}

// ParseQuery parses a SPARQL 1.1 query with RDF-star extensions. Relative
// IRIs resolve against baseIRI unless the text declares a BASE.
func ParseQuery(text, baseIRI string) (*Query, error) {
	p, err := newParser(text, baseIRI, queryFormat)
	if err != nil {
		return nil, err
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	q.text = text
	q.base = p.base
	if _, _, err := translateSelect(q.sel, nil); err != nil {
		return nil, err
	}
	return q, nil
}

// Form returns the query form.
func (q *Query) Form() QueryForm { return q.form }

func (q *Query) String() string { return q.text }

// Evaluate runs q over r. Pattern lookups happen lazily as the results are
// consumed, so r must stay valid until they are closed.
func Evaluate(ctx context.Context, r QuadReader, q *Query, opts Options) (QueryResults, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if err := checkFunctions(opSubSelect{sel: q.sel}, opts.Functions, opts.Aggregates); err != nil {
		return nil, err
	}
	e := &evaluator{
		ctx:        ctx,
		ds:         newDatasetView(r, q.dataset, opts.UnionDefaultGraph, opts.DefaultGraphs, opts.NamedGraphs),
		base:       make(binding, len(opts.Substitutions)),
		baseIRI:    q.base,
		functions:  opts.Functions,
		aggregates: opts.Aggregates,
		now:        time.Now(),
		logger:     opts.Logger,
	}
	if e.baseIRI == "" {
		e.baseIRI = opts.BaseIRI
	}
	for name, t := range opts.Substitutions {
		if t == nil {
			return nil, errors.NewConstraintError("substitution for ?%s has no value", name)
		}
		e.base[name] = t
	}

	translated, vars, err := translateSelect(q.sel, e.isAggregate)
	if err != nil {
		return nil, err
	}
	it, err := e.run(translated, e.base, nil)
	if err != nil {
		return nil, err
	}

	switch q.form {
	case FormAsk:
		defer it.close()
		row, err := it.next()
		if err != nil {
			return nil, err
		}
		return Boolean(row != nil), nil
	case FormConstruct:
		return newTriples(ctx, it, func(row binding) ([]rdf.Triple, error) {
			return instantiate(q.template, row), nil
		}), nil
	case FormDescribe:
		return e.describe(it, q.describe, vars), nil
	}
	return newSolutions(ctx, vars, it), nil
}

// instantiate fills a CONSTRUCT template with one solution. Template blank
// nodes are fresh per solution; triples with unbound or invalid positions
// are skipped.
func instantiate(template []triplePattern, row binding) []rdf.Triple {
	renamer := rdf.NewBlankNodeRenamer()
	fill := func(n patternNode) rdf.Term {
		t := resolve(n, row)
		if t == nil {
			return nil
		}
		return renamer.Term(t)
	}
	out := make([]rdf.Triple, 0, len(template))
	for _, tp := range template {
		s, p, o := fill(tp.s), fill(tp.p), fill(tp.o)
		if s == nil || p == nil || o == nil || !rdf.ValidSubject(s) {
			continue
		}
		iri, ok := p.(rdf.IRI)
		if !ok {
			continue
		}
		out = append(out, rdf.Triple{S: s, P: iri, O: o})
	}
	return out
}

// describe emits, for each resource named by the DESCRIBE clause, the
// triples of the default graph view with that resource as subject. Each
// resource is described once.
func (e *evaluator) describe(it solutionIter, targets []patternNode, vars []string) *Triples {
	if len(targets) == 0 {
		for _, name := range vars {
			targets = append(targets, varNode{name: name})
		}
	}
	described := make(map[string]bool)
	return newTriples(e.ctx, it, func(row binding) ([]rdf.Triple, error) {
		var out []rdf.Triple
		for _, n := range targets {
			t := resolve(n, row)
			if t == nil || !rdf.ValidSubject(t) || described[t.String()] {
				continue
			}
			described[t.String()] = true
			quads, err := e.ds.match(e.ctx, nil, t, nil, nil)
			if err != nil {
				return nil, err
			}
			all, err := rdf.Collect(quads)
			if err != nil {
				return nil, err
			}
			for _, q := range all {
				out = append(out, q.Triple())
			}
		}
		return out, nil
	})
}
