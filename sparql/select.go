package sparql

import (
	"reflect"
	"strconv"

	"github.com/teranos/quadstore/errors"
)

// translateSelect turns a select clause into algebra: grouping and
// aggregation, HAVING, projection expressions, ORDER BY, projection,
// DISTINCT or REDUCED, then OFFSET and LIMIT. isAggregate tells which
// function IRIs name custom aggregates; nil means none do. It returns the
// op and the result variables.
func translateSelect(sel *selectClause, isAggregate func(string) bool) (op, []string, error) {
	if isAggregate == nil {
		isAggregate = func(string) bool { return false }
	}
	where := sel.where
	if sel.values != nil {
		where = join(where, *sel.values)
	}

	rw := &aggregateRewriter{isAggregate: isAggregate, keys: sel.groupBy}
	projected := make([]projection, len(sel.projection))
	for i, p := range sel.projection {
		projected[i] = p
		if p.expr != nil {
			projected[i].expr = rw.rewrite(p.expr)
		}
	}
	having := make([]expr, len(sel.having))
	for i, h := range sel.having {
		having[i] = rw.rewrite(h)
	}
	conds := make([]orderCondition, len(sel.orderBy))
	for i, c := range sel.orderBy {
		conds[i] = orderCondition{expr: rw.rewrite(c.expr), desc: c.desc}
	}

	grouped := len(sel.groupBy) > 0 || len(rw.aggs) > 0 || len(sel.having) > 0
	if grouped {
		if sel.star {
			return nil, nil, invalidQuery("SELECT * is not allowed with GROUP BY or aggregates")
		}
		keyNames := make(map[string]bool, len(sel.groupBy))
		for _, k := range sel.groupBy {
			keyNames[k.name] = true
		}
		for _, p := range sel.projection {
			if p.expr == nil && !keyNames[p.name] {
				return nil, nil, invalidQuery("variable ?%s is projected but not grouped", p.name)
			}
		}
		where = opGroup{sub: where, keys: sel.groupBy, aggs: rw.aggs}
	}
	if len(having) > 0 {
		where = opFilter{exprs: having, sub: where}
	}

	var vars []string
	if sel.star {
		vars = inScope(where)
	} else {
		for _, p := range projected {
			if p.expr != nil {
				for _, name := range inScope(where) {
					if name == p.name {
						return nil, nil, invalidQuery("variable ?%s is already bound", p.name)
					}
				}
				where = opExtend{sub: where, name: p.name, expr: p.expr}
			}
			vars = append(vars, p.name)
		}
	}
	if len(conds) > 0 {
		where = opOrderBy{sub: where, conds: conds}
	}
	if !sel.star {
		where = opProject{sub: where, vars: vars}
	}
	switch {
	case sel.distinct:
		where = opDistinct{sub: where}
	case sel.reduced:
		where = opReduced{sub: where}
	}
	if sel.offset > 0 || sel.limit >= 0 {
		where = opSlice{sub: where, offset: sel.offset, limit: sel.limit}
	}
	return where, vars, nil
}

func invalidQuery(msg string, args ...interface{}) error {
	return errors.NewSyntaxError(queryFormat, errors.Position{}, errors.Position{}, msg, args...)
}

// aggregateRewriter replaces aggregates with hidden variables bound by the
// grouping, and group key expressions with their key variables.
type aggregateRewriter struct {
	isAggregate func(string) bool
	keys        []groupKey
	aggs        []aggBinding
}

func (r *aggregateRewriter) bind(agg *exprAggregate) expr {
	for _, a := range r.aggs {
		if reflect.DeepEqual(a.agg, agg) {
			return exprVar{name: a.name}
		}
	}
	name := hiddenPrefix + "agg" + strconv.Itoa(len(r.aggs))
	r.aggs = append(r.aggs, aggBinding{name: name, agg: agg})
	return exprVar{name: name}
}

func (r *aggregateRewriter) rewrite(x expr) expr {
	for _, k := range r.keys {
		if _, plain := k.expr.(exprVar); !plain && reflect.DeepEqual(k.expr, x) {
			return exprVar{name: k.name}
		}
	}
	switch v := x.(type) {
	case *exprAggregate:
		return r.bind(v)
	case exprFunction:
		if r.isAggregate(v.iri) {
			return r.bind(&exprAggregate{iri: v.iri, distinct: v.distinct, args: v.args})
		}
		v.args = r.rewriteAll(v.args)
		return v
	case exprOr:
		return exprOr{left: r.rewrite(v.left), right: r.rewrite(v.right)}
	case exprAnd:
		return exprAnd{left: r.rewrite(v.left), right: r.rewrite(v.right)}
	case exprNot:
		return exprNot{sub: r.rewrite(v.sub)}
	case exprCompare:
		return exprCompare{op: v.op, left: r.rewrite(v.left), right: r.rewrite(v.right)}
	case exprArith:
		return exprArith{op: v.op, left: r.rewrite(v.left), right: r.rewrite(v.right)}
	case exprNegate:
		return exprNegate{sub: r.rewrite(v.sub)}
	case exprUnaryPlus:
		return exprUnaryPlus{sub: r.rewrite(v.sub)}
	case exprIn:
		return exprIn{sub: r.rewrite(v.sub), list: r.rewriteAll(v.list), negated: v.negated}
	case exprCall:
		return exprCall{name: v.name, args: r.rewriteAll(v.args)}
	}
	return x
}

func (r *aggregateRewriter) rewriteAll(xs []expr) []expr {
	out := make([]expr, len(xs))
	for i, x := range xs {
		out[i] = r.rewrite(x)
	}
	return out
}

// checkFunctions validates the function calls of a query or update
// against the registered custom functions and aggregates.
func checkFunctions(o op, functions map[string]CustomFunction, aggregates map[string]CustomAggregate) error {
	for iri := range functions {
		if _, ok := aggregates[iri]; ok {
			return errors.NewConstraintError("<%s> is registered both as a function and as an aggregate", iri)
		}
	}
	var err error
	walkExprs(o, func(x expr) {
		if err != nil {
			return
		}
		var iri string
		switch v := x.(type) {
		case exprFunction:
			iri = v.iri
		case *exprAggregate:
			iri = v.iri
		}
		if iri == "" {
			return
		}
		if _, ok := casts[iri]; ok {
			return
		}
		if _, ok := functions[iri]; ok {
			return
		}
		if _, ok := aggregates[iri]; ok {
			return
		}
		err = errors.NewEvaluationError("unknown function <%s>", iri)
	})
	return err
}

// walkExprs calls fn on every expression reachable from o, including
// those nested in EXISTS patterns and subqueries.
func walkExprs(o op, fn func(expr)) {
	var visitExpr func(expr)
	visitExpr = func(x expr) {
		if x == nil {
			return
		}
		fn(x)
		switch v := x.(type) {
		case exprOr:
			visitExpr(v.left)
			visitExpr(v.right)
		case exprAnd:
			visitExpr(v.left)
			visitExpr(v.right)
		case exprNot:
			visitExpr(v.sub)
		case exprCompare:
			visitExpr(v.left)
			visitExpr(v.right)
		case exprArith:
			visitExpr(v.left)
			visitExpr(v.right)
		case exprNegate:
			visitExpr(v.sub)
		case exprUnaryPlus:
			visitExpr(v.sub)
		case exprIn:
			visitExpr(v.sub)
			for _, a := range v.list {
				visitExpr(a)
			}
		case exprCall:
			for _, a := range v.args {
				visitExpr(a)
			}
		case exprFunction:
			for _, a := range v.args {
				visitExpr(a)
			}
		case *exprAggregate:
			for _, a := range v.args {
				visitExpr(a)
			}
		case exprExists:
			walkExprs(v.pattern, fn)
		}
	}
	var visitSelect func(*selectClause)
	visitSelect = func(sel *selectClause) {
		walkExprs(sel.where, fn)
		for _, p := range sel.projection {
			visitExpr(p.expr)
		}
		for _, k := range sel.groupBy {
			visitExpr(k.expr)
		}
		for _, h := range sel.having {
			visitExpr(h)
		}
		for _, c := range sel.orderBy {
			visitExpr(c.expr)
		}
	}
	switch v := o.(type) {
	case opJoin:
		walkExprs(v.left, fn)
		walkExprs(v.right, fn)
	case opLeftJoin:
		walkExprs(v.left, fn)
		walkExprs(v.right, fn)
		visitExpr(v.filter)
	case opFilter:
		for _, x := range v.exprs {
			visitExpr(x)
		}
		walkExprs(v.sub, fn)
	case opUnion:
		walkExprs(v.left, fn)
		walkExprs(v.right, fn)
	case opGraph:
		walkExprs(v.sub, fn)
	case opExtend:
		walkExprs(v.sub, fn)
		visitExpr(v.expr)
	case opMinus:
		walkExprs(v.left, fn)
		walkExprs(v.right, fn)
	case opService:
		walkExprs(v.sub, fn)
	case opSubSelect:
		visitSelect(v.sel)
	case opGroup:
		walkExprs(v.sub, fn)
		for _, k := range v.keys {
			visitExpr(k.expr)
		}
		for _, a := range v.aggs {
			visitExpr(a.agg)
		}
	case opOrderBy:
		walkExprs(v.sub, fn)
		for _, c := range v.conds {
			visitExpr(c.expr)
		}
	case opProject:
		walkExprs(v.sub, fn)
	case opDistinct:
		walkExprs(v.sub, fn)
	case opReduced:
		walkExprs(v.sub, fn)
	case opSlice:
		walkExprs(v.sub, fn)
	}
}
