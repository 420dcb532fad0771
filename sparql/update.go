package sparql

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/rdfio"
)

// QuadWriter is the write surface of an update: a write transaction that
// also reads its own writes.
type QuadWriter interface {
	QuadReader
	Insert(ctx context.Context, q rdf.Quad) (bool, error)
	Remove(ctx context.Context, q rdf.Quad) (bool, error)
	InsertNamedGraph(ctx context.Context, g rdf.Term) (bool, error)
	ClearGraph(ctx context.Context, g rdf.Term) (int64, error)
	RemoveNamedGraph(ctx context.Context, g rdf.Term) (bool, error)
	Clear(ctx context.Context) error
}

// UpdateOptions configure the execution of one update request.
type UpdateOptions struct {
	// BaseIRI resolves relative IRIs when the text has no BASE.
	BaseIRI string

	// Fetcher retrieves LOAD sources. LOAD fails without one.
	Fetcher *rdfio.Fetcher

	Functions  map[string]CustomFunction
	Aggregates map[string]CustomAggregate

	Logger *zap.SugaredLogger
}

// Update is a parsed SPARQL update request.
type Update struct {
	text string
	base string
	ops  []updateOperation
}

// ParseUpdate parses a SPARQL 1.1 update request.
func ParseUpdate(text, baseIRI string) (*Update, error) {
	p, err := newParser(text, baseIRI, updateFormat)
	if err != nil {
		return nil, err
	}
	u, err := p.parseUpdate()
	if err != nil {
		return nil, err
	}
	u.text = text
	u.base = p.base
	return u, nil
}

func (u *Update) String() string { return u.text }

// Len returns the number of operations in the request.
func (u *Update) Len() int { return len(u.ops) }

// Execute applies the operations of u to w in order; each operation sees
// the effects of the previous ones. The caller commits or rolls back w.
func Execute(ctx context.Context, w QuadWriter, u *Update, opts UpdateOptions) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	for _, o := range u.ops {
		var where op
		switch v := o.(type) {
		case modifyOp:
			where = v.where
		case deleteWhereOp:
			where = quadPatternsToOp(v.patterns)
		}
		if where != nil {
			if err := checkFunctions(where, opts.Functions, opts.Aggregates); err != nil {
				return err
			}
		}
	}
	x := &updateExecutor{ctx: ctx, w: w, opts: opts, base: u.base}
	if x.base == "" {
		x.base = opts.BaseIRI
	}
	for i, o := range u.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, graph := describeOperation(o)
		fields := []interface{}{logger.FieldOperation, name, logger.FieldCount, i}
		if graph != "" {
			fields = append(fields, logger.FieldGraph, graph)
		}
		if err := x.apply(o); err != nil {
			opts.Logger.Debugw("Update operation failed", append(fields, logger.FieldError, err)...)
			return err
		}
		opts.Logger.Debugw("Update operation applied", fields...)
	}
	return nil
}

// describeOperation names an operation and the graph it manages, if any.
func describeOperation(o updateOperation) (name, graph string) {
	switch v := o.(type) {
	case insertDataOp:
		return "INSERT DATA", ""
	case deleteDataOp:
		return "DELETE DATA", ""
	case deleteWhereOp:
		return "DELETE WHERE", ""
	case modifyOp:
		if v.with != nil {
			return "MODIFY", v.with.String()
		}
		return "MODIFY", ""
	case loadOp:
		if v.into != nil {
			return "LOAD", v.into.String()
		}
		return "LOAD", ""
	case clearOp:
		return "CLEAR", v.target.String()
	case dropOp:
		return "DROP", v.target.String()
	case createOp:
		return "CREATE", v.graph.String()
	case transferOp:
		return v.kind.String(), v.from.String() + " TO " + v.to.String()
	}
	return "UNKNOWN", ""
}

type updateExecutor struct {
	ctx  context.Context
	w    QuadWriter
	opts UpdateOptions
	base string
}

func (x *updateExecutor) apply(o updateOperation) error {
	switch v := o.(type) {
	case insertDataOp:
		renamer := rdf.NewBlankNodeRenamer()
		for _, qp := range v.quads {
			q, ok := groundQuad(qp, nil, nil)
			if !ok {
				continue
			}
			if _, err := x.w.Insert(x.ctx, renamer.Quad(q)); err != nil {
				return err
			}
		}
		return nil
	case deleteDataOp:
		for _, qp := range v.quads {
			q, ok := groundQuad(qp, nil, nil)
			if !ok {
				continue
			}
			if _, err := x.w.Remove(x.ctx, q); err != nil {
				return err
			}
		}
		return nil
	case deleteWhereOp:
		return x.modify(modifyOp{deletes: v.patterns, where: quadPatternsToOp(v.patterns)})
	case modifyOp:
		return x.modify(v)
	case loadOp:
		return x.load(v)
	case clearOp:
		return x.clear(v.target, v.silent, false)
	case dropOp:
		return x.clear(v.target, v.silent, true)
	case createOp:
		created, err := x.w.InsertNamedGraph(x.ctx, v.graph)
		if err != nil {
			return err
		}
		if !created && !v.silent {
			return errors.NewEvaluationError("graph %s already exists", v.graph)
		}
		return nil
	case transferOp:
		return x.transfer(v)
	}
	return errors.AssertionFailedf("unhandled update operation %T", o)
}

// groundQuad instantiates a template quad under row. Template graphs
// default to with, then to the default graph.
func groundQuad(qp quadPattern, row binding, with *rdf.IRI) (rdf.Quad, bool) {
	s, p, o := resolve(qp.s, row), resolve(qp.p, row), resolve(qp.o, row)
	var g rdf.Term = rdf.DefaultGraph
	switch {
	case qp.g != nil:
		if g = resolve(qp.g, row); g == nil {
			return rdf.Quad{}, false
		}
	case with != nil:
		g = *with
	}
	iri, ok := p.(rdf.IRI)
	if s == nil || !ok || o == nil || !rdf.ValidSubject(s) || !rdf.ValidGraphName(g) {
		return rdf.Quad{}, false
	}
	return rdf.NewQuad(s, iri, o, g), true
}

// modify evaluates WHERE against the state before the operation, then
// applies every deletion, then every insertion.
func (x *updateExecutor) modify(v modifyOp) error {
	var defaults []rdf.Term
	if v.with != nil && v.using == nil {
		defaults = []rdf.Term{*v.with}
	}
	e := &evaluator{
		ctx:        x.ctx,
		ds:         newDatasetView(x.w, v.using, false, defaults, nil),
		base:       binding{},
		baseIRI:    x.base,
		functions:  x.opts.Functions,
		aggregates: x.opts.Aggregates,
		now:        time.Now(),
		logger:     x.opts.Logger,
	}
	rows, err := e.materialize(v.where, nil)
	if err != nil {
		return err
	}

	var deletes, inserts []rdf.Quad
	for _, row := range rows {
		for _, qp := range v.deletes {
			if q, ok := groundQuad(qp, row, v.with); ok {
				deletes = append(deletes, q)
			}
		}
		renamer := rdf.NewBlankNodeRenamer()
		for _, qp := range v.inserts {
			if q, ok := groundQuad(qp, row, v.with); ok {
				inserts = append(inserts, renamer.Quad(q))
			}
		}
	}
	for _, q := range deletes {
		if _, err := x.w.Remove(x.ctx, q); err != nil {
			return err
		}
	}
	for _, q := range inserts {
		if _, err := x.w.Insert(x.ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// load reads the whole document before inserting anything.
func (x *updateExecutor) load(v loadOp) error {
	quads, err := x.fetch(v)
	if err != nil {
		if v.silent && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			x.opts.Logger.Warnw("LOAD SILENT failed", logger.FieldSource, v.source.Value, logger.FieldError, err)
			return nil
		}
		return err
	}
	if v.into != nil {
		if _, err := x.w.InsertNamedGraph(x.ctx, *v.into); err != nil {
			return err
		}
	}
	for _, q := range quads {
		if _, err := x.w.Insert(x.ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (x *updateExecutor) fetch(v loadOp) ([]rdf.Quad, error) {
	if x.opts.Fetcher == nil {
		return nil, errors.NewEvaluationError("LOAD is not available: no fetcher configured")
	}
	doc, err := x.opts.Fetcher.Fetch(x.ctx, v.source.Value)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()
	if v.into != nil && doc.Format.Dataset {
		return nil, errors.NewConstraintError("cannot load %s data from %s into a single graph", doc.Format, v.source.Value)
	}
	dec, err := rdfio.NewDecoder(doc.Format, doc.Body, rdfio.DecoderOptions{BaseIRI: doc.BaseIRI})
	if err != nil {
		return nil, err
	}
	renamer := rdf.NewBlankNodeRenamer()
	var target rdf.Term = rdf.DefaultGraph
	if v.into != nil {
		target = *v.into
	}
	var quads []rdf.Quad
	for {
		q, err := dec.Next()
		if err == io.EOF {
			return quads, nil
		}
		if err != nil {
			return nil, err
		}
		if !doc.Format.Dataset {
			q.G = target
		}
		quads = append(quads, renamer.Quad(q))
	}
}

// clear implements CLEAR and, with drop set, DROP.
func (x *updateExecutor) clear(t graphTarget, silent, drop bool) error {
	switch t.kind {
	case targetGraph:
		exists, err := x.w.ContainsNamedGraph(x.ctx, t.iri)
		if err != nil {
			return err
		}
		if !exists {
			if silent {
				return nil
			}
			return errors.NewEvaluationError("graph %s does not exist", t.iri)
		}
		if drop {
			_, err = x.w.RemoveNamedGraph(x.ctx, t.iri)
		} else {
			_, err = x.w.ClearGraph(x.ctx, t.iri)
		}
		return err
	case targetDefault:
		_, err := x.w.ClearGraph(x.ctx, rdf.DefaultGraph)
		return err
	case targetAll:
		if drop {
			return x.w.Clear(x.ctx)
		}
		if _, err := x.w.ClearGraph(x.ctx, rdf.DefaultGraph); err != nil {
			return err
		}
	}
	graphs, err := x.w.NamedGraphs(x.ctx)
	if err != nil {
		return err
	}
	for _, g := range graphs {
		if drop {
			_, err = x.w.RemoveNamedGraph(x.ctx, g)
		} else {
			_, err = x.w.ClearGraph(x.ctx, g)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// transfer implements ADD, COPY and MOVE.
func (x *updateExecutor) transfer(v transferOp) error {
	from, to := v.from.term(), v.to.term()
	if rdf.Equal(from, to) {
		return nil
	}
	if v.from.kind == targetGraph {
		exists, err := x.w.ContainsNamedGraph(x.ctx, from)
		if err != nil {
			return err
		}
		if !exists {
			if v.silent {
				return nil
			}
			return errors.NewEvaluationError("graph %s does not exist", v.from.iri)
		}
	}
	it, err := x.w.Match(x.ctx, rdf.QuadPattern{G: from})
	if err != nil {
		return err
	}
	quads, err := rdf.Collect(it)
	if err != nil {
		return err
	}

	if v.kind != transferAdd {
		if _, err := x.w.ClearGraph(x.ctx, to); err != nil {
			return err
		}
	}
	if v.to.kind == targetGraph {
		if _, err := x.w.InsertNamedGraph(x.ctx, to); err != nil {
			return err
		}
	}
	for _, q := range quads {
		q.G = to
		if _, err := x.w.Insert(x.ctx, q); err != nil {
			return err
		}
	}
	if v.kind == transferMove {
		if v.from.kind == targetDefault {
			_, err = x.w.ClearGraph(x.ctx, from)
		} else {
			_, err = x.w.RemoveNamedGraph(x.ctx, from)
		}
		return err
	}
	return nil
}
