package sparql

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// evaluator runs algebra over one dataset view. Every op is evaluated from
// base, the substitutions of the query, unless it accepts a seed row.
type evaluator struct {
	ctx        context.Context
	ds         *datasetView
	base       binding
	baseIRI    string
	functions  map[string]CustomFunction
	aggregates map[string]CustomAggregate
	now        time.Time
	logger     *zap.SugaredLogger
}

// withBase returns an evaluator whose ops see b everywhere; EXISTS uses it
// to substitute the current row into its pattern.
func (e *evaluator) withBase(b binding) *evaluator {
	child := *e
	child.base = b
	return &child
}

// seedable ops honor a seed row directly instead of being joined with it
// afterwards.
func seedable(o op) bool {
	switch o.(type) {
	case opBGP, opPath, opValues, opJoin, opUnion, opGraph:
		return true
	}
	return false
}

// cheapToSeed reports whether every op below o is seedable, so running it
// once per left row costs only index lookups.
func cheapToSeed(o op) bool {
	switch v := o.(type) {
	case opBGP, opPath, opValues:
		return true
	case opJoin:
		return cheapToSeed(v.left) && cheapToSeed(v.right)
	case opUnion:
		return cheapToSeed(v.left) && cheapToSeed(v.right)
	case opGraph:
		return cheapToSeed(v.sub)
	}
	return false
}

// run evaluates o in graph g (nil = the default graph set) and joins the
// result with seed.
func (e *evaluator) run(o op, seed binding, g rdf.Term) (solutionIter, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch v := o.(type) {
	case opBGP:
		return e.evalBGP(v.patterns, seed, g), nil
	case opPath:
		return e.evalPath(v, seed, g)
	case opValues:
		return e.evalValues(v, seed), nil
	case opJoin:
		return e.evalJoin(v, seed, g)
	case opUnion:
		return concatIter(
			func() (solutionIter, error) { return e.run(v.left, seed, g) },
			func() (solutionIter, error) { return e.run(v.right, seed, g) },
		), nil
	case opGraph:
		return e.evalGraph(v, seed, g)
	}

	it, err := e.evalFromBase(o, g)
	if err != nil {
		return nil, err
	}
	if len(seed) == len(e.base) {
		return it, nil
	}
	return mergeIter(it, seed), nil
}

func (e *evaluator) evalFromBase(o op, g rdf.Term) (solutionIter, error) {
	switch v := o.(type) {
	case opFilter:
		sub, err := e.run(v.sub, e.base, g)
		if err != nil {
			return nil, err
		}
		return filterIter(sub, func(row binding) (bool, error) {
			return e.filterTrue(v.exprs, row, g)
		}), nil
	case opLeftJoin:
		return e.evalLeftJoin(v, g)
	case opMinus:
		return e.evalMinus(v, g)
	case opExtend:
		sub, err := e.run(v.sub, e.base, g)
		if err != nil {
			return nil, err
		}
		return mapIter(sub, func(row binding) (binding, error) {
			val, err := e.evalExpr(v.expr, row, g)
			if err != nil {
				if isExprError(err) {
					return row, nil
				}
				return nil, err
			}
			return row.extend(v.name, val), nil
		}), nil
	case opService:
		if v.silent {
			return newSliceIter(e.base), nil
		}
		return nil, errors.NewEvaluationError("SERVICE is not supported")
	case opSubSelect:
		translated, _, err := translateSelect(v.sel, e.isAggregate)
		if err != nil {
			return nil, err
		}
		return e.run(translated, e.base, g)
	case opGroup:
		return e.evalGroup(v, g)
	case opOrderBy:
		return e.evalOrderBy(v, g)
	case opProject:
		sub, err := e.run(v.sub, e.base, g)
		if err != nil {
			return nil, err
		}
		return mapIter(sub, func(row binding) (binding, error) {
			out := make(binding, len(v.vars))
			for _, name := range v.vars {
				if t, ok := row[name]; ok {
					out[name] = t
				} else if t, ok := e.base[name]; ok {
					out[name] = t
				}
			}
			return out, nil
		}), nil
	case opDistinct:
		sub, err := e.run(v.sub, e.base, g)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		return filterIter(sub, func(row binding) (bool, error) {
			k := row.key()
			if seen[k] {
				return false, nil
			}
			seen[k] = true
			return true, nil
		}), nil
	case opReduced:
		sub, err := e.run(v.sub, e.base, g)
		if err != nil {
			return nil, err
		}
		last := ""
		first := true
		return filterIter(sub, func(row binding) (bool, error) {
			k := row.key()
			if !first && k == last {
				return false, nil
			}
			first, last = false, k
			return true, nil
		}), nil
	case opSlice:
		return e.evalSlice(v, g)
	}
	return nil, errors.AssertionFailedf("unhandled algebra operator %T", o)
}

// resolve returns the term a pattern node denotes under row, or nil when a
// variable in it is unbound.
func resolve(n patternNode, row binding) rdf.Term {
	switch v := n.(type) {
	case termNode:
		return v.term
	case varNode:
		return row[v.name]
	case tripleNode:
		s, p, o := resolve(v.s, row), resolve(v.p, row), resolve(v.o, row)
		if s == nil || p == nil || o == nil {
			return nil
		}
		iri, ok := p.(rdf.IRI)
		if !ok || !rdf.ValidSubject(s) {
			return nil
		}
		return rdf.TripleTerm{S: s, P: iri, O: o}
	}
	return nil
}

// unify binds the variables of n so that n denotes t, writing into row.
func unify(n patternNode, t rdf.Term, row binding) bool {
	switch v := n.(type) {
	case termNode:
		return rdf.Equal(v.term, t)
	case varNode:
		if cur, ok := row[v.name]; ok {
			return rdf.Equal(cur, t)
		}
		row[v.name] = t
		return true
	case tripleNode:
		tt, ok := t.(rdf.TripleTerm)
		if !ok {
			return false
		}
		return unify(v.s, tt.S, row) && unify(v.p, tt.P, row) && unify(v.o, tt.O, row)
	}
	return false
}

func (e *evaluator) evalBGP(patterns []triplePattern, seed binding, g rdf.Term) solutionIter {
	var it solutionIter = newSliceIter(seed)
	for _, tp := range patterns {
		tp := tp
		it = flatMap(it, func(row binding) (solutionIter, error) {
			return e.matchTriple(tp, row, g)
		})
	}
	return it
}

func (e *evaluator) matchTriple(tp triplePattern, row binding, g rdf.Term) (solutionIter, error) {
	s, p, o := resolve(tp.s, row), resolve(tp.p, row), resolve(tp.o, row)
	if p != nil && p.Kind() != rdf.TermIRI || s != nil && !rdf.ValidSubject(s) {
		return emptyIter, nil
	}
	quads, err := e.ds.match(e.ctx, g, s, p, o)
	if err != nil {
		return nil, err
	}
	return &funcIter{
		nextFn: func() (binding, error) {
			for quads.Next() {
				q := quads.Quad()
				out := row.clone()
				if unify(tp.s, q.S, out) && unify(tp.p, q.P, out) && unify(tp.o, q.O, out) {
					return out, nil
				}
			}
			return nil, quads.Err()
		},
		closeFn: func() { quads.Close() },
	}, nil
}

func (e *evaluator) evalValues(v opValues, seed binding) solutionIter {
	var rows []binding
	for _, r := range v.rows {
		row := make(binding, len(v.vars))
		for i, name := range v.vars {
			if r[i] != nil {
				row[name] = r[i]
			}
		}
		if merged, ok := merge(seed, row); ok {
			rows = append(rows, merged)
		}
	}
	return newSliceIter(rows...)
}

func (e *evaluator) evalJoin(v opJoin, seed binding, g rdf.Term) (solutionIter, error) {
	left, err := e.run(v.left, seed, g)
	if err != nil {
		return nil, err
	}
	if cheapToSeed(v.right) {
		return flatMap(left, func(row binding) (solutionIter, error) {
			return e.run(v.right, row, g)
		}), nil
	}
	right, err := e.materialize(v.right, g)
	if err != nil {
		left.close()
		return nil, err
	}
	return flatMap(left, func(row binding) (solutionIter, error) {
		var out []binding
		for _, r := range right {
			if merged, ok := merge(row, r); ok {
				out = append(out, merged)
			}
		}
		return newSliceIter(out...), nil
	}), nil
}

func (e *evaluator) materialize(o op, g rdf.Term) ([]binding, error) {
	it, err := e.run(o, e.base, g)
	if err != nil {
		return nil, err
	}
	return collect(it)
}

func (e *evaluator) evalLeftJoin(v opLeftJoin, g rdf.Term) (solutionIter, error) {
	left, err := e.run(v.left, e.base, g)
	if err != nil {
		return nil, err
	}
	var right []binding
	perRow := cheapToSeed(v.right)
	if !perRow {
		if right, err = e.materialize(v.right, g); err != nil {
			left.close()
			return nil, err
		}
	}
	return flatMap(left, func(row binding) (solutionIter, error) {
		var candidates []binding
		if perRow {
			it, err := e.run(v.right, row, g)
			if err != nil {
				return nil, err
			}
			if candidates, err = collect(it); err != nil {
				return nil, err
			}
		} else {
			for _, r := range right {
				if merged, ok := merge(row, r); ok {
					candidates = append(candidates, merged)
				}
			}
		}
		var out []binding
		for _, c := range candidates {
			if v.filter != nil {
				ok, err := e.filterTrue([]expr{v.filter}, c, g)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			out = append(out, c)
		}
		if len(out) == 0 {
			out = append(out, row)
		}
		return newSliceIter(out...), nil
	}), nil
}

func (e *evaluator) evalMinus(v opMinus, g rdf.Term) (solutionIter, error) {
	left, err := e.run(v.left, e.base, g)
	if err != nil {
		return nil, err
	}
	right, err := e.materialize(v.right, g)
	if err != nil {
		left.close()
		return nil, err
	}
	return filterIter(left, func(row binding) (bool, error) {
		for _, r := range right {
			if !sharesVariable(row, r) {
				continue
			}
			if _, ok := merge(row, r); ok {
				return false, nil
			}
		}
		return true, nil
	}), nil
}

func (e *evaluator) evalGraph(v opGraph, seed binding, g rdf.Term) (solutionIter, error) {
	if name := resolve(v.name, seed); name != nil {
		named, err := e.ds.isNamed(e.ctx, name)
		if err != nil || !named {
			return emptyIter, err
		}
		return e.run(v.sub, seed, name)
	}
	graphs, err := e.ds.namedGraphs(e.ctx)
	if err != nil {
		return nil, err
	}
	parts := make([]func() (solutionIter, error), 0, len(graphs))
	for _, name := range graphs {
		name := name
		parts = append(parts, func() (solutionIter, error) {
			row := seed.clone()
			if !unify(v.name, name, row) {
				return emptyIter, nil
			}
			return e.run(v.sub, row, name)
		})
	}
	return concatIter(parts...), nil
}

func (e *evaluator) evalOrderBy(v opOrderBy, g rdf.Term) (solutionIter, error) {
	rows, err := e.materialize(v.sub, g)
	if err != nil {
		return nil, err
	}
	keys := make([][]rdf.Term, len(rows))
	for i, row := range rows {
		keys[i] = make([]rdf.Term, len(v.conds))
		for j, c := range v.conds {
			val, err := e.evalExpr(c.expr, row, g)
			if err != nil && !isExprError(err) {
				return nil, err
			}
			keys[i][j] = val
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for j, c := range v.conds {
			cmp := orderTerms(keys[idx[a]][j], keys[idx[b]][j])
			if c.desc {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	sorted := make([]binding, len(rows))
	for i, k := range idx {
		sorted[i] = rows[k]
	}
	return newSliceIter(sorted...), nil
}

func (e *evaluator) evalSlice(v opSlice, g rdf.Term) (solutionIter, error) {
	sub, err := e.run(v.sub, e.base, g)
	if err != nil {
		return nil, err
	}
	skipped, emitted := int64(0), int64(0)
	return &funcIter{
		nextFn: func() (binding, error) {
			if v.limit >= 0 && emitted >= v.limit {
				return nil, nil
			}
			for {
				row, err := sub.next()
				if err != nil || row == nil {
					return nil, err
				}
				if skipped < v.offset {
					skipped++
					continue
				}
				emitted++
				return row, nil
			}
		},
		closeFn: sub.close,
	}, nil
}

// filterTrue reports whether every expression has an effective boolean
// value of true. Expression errors count as false.
func (e *evaluator) filterTrue(exprs []expr, row binding, g rdf.Term) (bool, error) {
	for _, x := range exprs {
		val, err := e.evalExpr(x, row, g)
		if err != nil {
			if isExprError(err) {
				return false, nil
			}
			return false, err
		}
		b, err := ebv(val)
		if err != nil || !b {
			return false, nil
		}
	}
	return true, nil
}

func (e *evaluator) isAggregate(iri string) bool {
	_, ok := e.aggregates[iri]
	return ok
}
