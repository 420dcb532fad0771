package sparql

import (
	"fmt"
	"math"
	"math/big"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// evalExpr evaluates x under row. A *exprError result means the expression
// has no value; any other error aborts the query.
func (e *evaluator) evalExpr(x expr, row binding, g rdf.Term) (rdf.Term, error) {
	switch v := x.(type) {
	case exprVar:
		if t, ok := row[v.name]; ok {
			return t, nil
		}
		if t, ok := e.base[v.name]; ok {
			return t, nil
		}
		return nil, errNoValue
	case exprTerm:
		return v.term, nil
	case exprOr:
		return e.evalOr(v, row, g)
	case exprAnd:
		return e.evalAnd(v, row, g)
	case exprNot:
		b, err := e.evalBool(v.sub, row, g)
		if err != nil {
			return nil, err
		}
		return boolTerm(!b), nil
	case exprCompare:
		return e.evalCompare(v, row, g)
	case exprArith:
		l, err := e.evalNumber(v.left, row, g)
		if err != nil {
			return nil, err
		}
		r, err := e.evalNumber(v.right, row, g)
		if err != nil {
			return nil, err
		}
		n, err := arithmetic(v.op, l, r)
		if err != nil {
			return nil, err
		}
		return n.term(), nil
	case exprNegate:
		n, err := e.evalNumber(v.sub, row, g)
		if err != nil {
			return nil, err
		}
		return negate(n).term(), nil
	case exprUnaryPlus:
		n, err := e.evalNumber(v.sub, row, g)
		if err != nil {
			return nil, err
		}
		return n.term(), nil
	case exprIn:
		return e.evalIn(v, row, g)
	case exprBound:
		if _, ok := row[v.name]; ok {
			return rdf.True, nil
		}
		_, ok := e.base[v.name]
		return boolTerm(ok), nil
	case exprExists:
		sub, err := e.withBase(row).run(v.pattern, row, g)
		if err != nil {
			return nil, err
		}
		first, err := sub.next()
		sub.close()
		if err != nil {
			return nil, err
		}
		return boolTerm((first != nil) != v.negated), nil
	case exprCall:
		return e.callBuiltin(v, row, g)
	case exprFunction:
		return e.callFunction(v, row, g)
	case *exprAggregate:
		// Aggregates outside a grouping have been rewritten into variables
		return nil, errNoValue
	}
	return nil, errors.AssertionFailedf("unhandled expression %T", x)
}

func negate(n number) number {
	switch n.kind {
	case numInteger:
		if n.r != nil || n.i == math.MinInt64 {
			return bigInteger(new(big.Rat).Neg(n.rat()))
		}
		n.i = -n.i
	case numDecimal:
		n.r = new(big.Rat).Neg(n.r)
	default:
		n.f = -n.f
	}
	return n
}

func (e *evaluator) evalBool(x expr, row binding, g rdf.Term) (bool, error) {
	t, err := e.evalExpr(x, row, g)
	if err != nil {
		return false, err
	}
	return ebv(t)
}

func (e *evaluator) evalNumber(x expr, row binding, g rdf.Term) (number, error) {
	t, err := e.evalExpr(x, row, g)
	if err != nil {
		return number{}, err
	}
	n, ok := toNumber(t)
	if !ok {
		return number{}, errNoValue
	}
	return n, nil
}

// evalOr follows the three-valued logic: true wins over an error.
func (e *evaluator) evalOr(v exprOr, row binding, g rdf.Term) (rdf.Term, error) {
	l, lerr := e.evalBool(v.left, row, g)
	if lerr != nil && !isExprError(lerr) {
		return nil, lerr
	}
	if lerr == nil && l {
		return rdf.True, nil
	}
	r, rerr := e.evalBool(v.right, row, g)
	if rerr != nil && !isExprError(rerr) {
		return nil, rerr
	}
	switch {
	case rerr == nil && r:
		return rdf.True, nil
	case lerr != nil || rerr != nil:
		return nil, errNoValue
	}
	return rdf.False, nil
}

// evalAnd follows the three-valued logic: false wins over an error.
func (e *evaluator) evalAnd(v exprAnd, row binding, g rdf.Term) (rdf.Term, error) {
	l, lerr := e.evalBool(v.left, row, g)
	if lerr != nil && !isExprError(lerr) {
		return nil, lerr
	}
	if lerr == nil && !l {
		return rdf.False, nil
	}
	r, rerr := e.evalBool(v.right, row, g)
	if rerr != nil && !isExprError(rerr) {
		return nil, rerr
	}
	switch {
	case rerr == nil && !r:
		return rdf.False, nil
	case lerr != nil || rerr != nil:
		return nil, errNoValue
	}
	return rdf.True, nil
}

func (e *evaluator) evalCompare(v exprCompare, row binding, g rdf.Term) (rdf.Term, error) {
	l, err := e.evalExpr(v.left, row, g)
	if err != nil {
		return nil, err
	}
	r, err := e.evalExpr(v.right, row, g)
	if err != nil {
		return nil, err
	}
	switch v.op {
	case "=":
		eq, err := equalTerms(l, r)
		if err != nil {
			return nil, err
		}
		return boolTerm(eq), nil
	case "!=":
		eq, err := equalTerms(l, r)
		if err != nil {
			return nil, err
		}
		return boolTerm(!eq), nil
	}
	c, err := compareValues(l, r)
	if err != nil {
		return nil, err
	}
	switch v.op {
	case "<":
		return boolTerm(c < 0), nil
	case ">":
		return boolTerm(c > 0), nil
	case "<=":
		return boolTerm(c <= 0), nil
	case ">=":
		return boolTerm(c >= 0), nil
	}
	return nil, errors.AssertionFailedf("unknown comparison %q", v.op)
}

// evalIn is true on the first equal member; errors only matter when no
// member matches.
func (e *evaluator) evalIn(v exprIn, row binding, g rdf.Term) (rdf.Term, error) {
	needle, err := e.evalExpr(v.sub, row, g)
	if err != nil {
		return nil, err
	}
	sawError := false
	for _, item := range v.list {
		t, err := e.evalExpr(item, row, g)
		if err != nil {
			if !isExprError(err) {
				return nil, err
			}
			sawError = true
			continue
		}
		eq, err := equalTerms(needle, t)
		if err != nil {
			sawError = true
			continue
		}
		if eq {
			return boolTerm(!v.negated), nil
		}
	}
	if sawError {
		return nil, errNoValue
	}
	return boolTerm(v.negated), nil
}

// callFunction dispatches an IRI call to a cast or a registered function.
func (e *evaluator) callFunction(v exprFunction, row binding, g rdf.Term) (rdf.Term, error) {
	if _, ok := e.aggregates[v.iri]; ok {
		return nil, errNoValue
	}
	args := make([]rdf.Term, len(v.args))
	for i, a := range v.args {
		t, err := e.evalExpr(a, row, g)
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	if cast, ok := casts[v.iri]; ok {
		if len(args) != 1 {
			return nil, errNoValue
		}
		return cast(args[0])
	}
	fn, ok := e.functions[v.iri]
	if !ok {
		return nil, errors.NewEvaluationError("unknown function <%s>", v.iri)
	}
	return e.callCustom(v.iri, fn, args)
}

// callCustom runs a caller-supplied function. Its errors and panics make
// the expression valueless rather than failing the query.
func (e *evaluator) callCustom(iri string, fn CustomFunction, args []rdf.Term) (result rdf.Term, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnw("Custom function panicked", "function", iri, "panic", fmt.Sprint(r))
			result, err = nil, errNoValue
		}
	}()
	result, err = fn(args)
	if err != nil {
		e.logger.Debugw("Custom function returned an error", "function", iri, "error", err)
		return nil, errNoValue
	}
	if result == nil {
		return nil, errNoValue
	}
	return result, nil
}
