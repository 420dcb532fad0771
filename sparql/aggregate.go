package sparql

import (
	"fmt"
	"strings"

	"github.com/teranos/quadstore/rdf"
)

type group struct {
	keys []rdf.Term
	rows []binding
}

// evalGroup partitions the solutions of v.sub by the key expressions, in
// order of first appearance, and computes the aggregates of each group.
// Without keys there is exactly one group, even over no solutions.
func (e *evaluator) evalGroup(v opGroup, g rdf.Term) (solutionIter, error) {
	rows, err := e.materialize(v.sub, g)
	if err != nil {
		return nil, err
	}
	var groups []*group
	index := make(map[string]*group)
	for _, row := range rows {
		keys := make([]rdf.Term, len(v.keys))
		var sb strings.Builder
		for i, k := range v.keys {
			val, err := e.evalExpr(k.expr, row, g)
			if err != nil && !isExprError(err) {
				return nil, err
			}
			keys[i] = val
			if val != nil {
				sb.WriteString(val.String())
			}
			sb.WriteByte(0)
		}
		id := sb.String()
		grp, ok := index[id]
		if !ok {
			grp = &group{keys: keys}
			index[id] = grp
			groups = append(groups, grp)
		}
		grp.rows = append(grp.rows, row)
	}
	if len(groups) == 0 && len(v.keys) == 0 {
		groups = append(groups, &group{})
	}

	out := make([]binding, 0, len(groups))
	for _, grp := range groups {
		row := make(binding, len(v.keys)+len(v.aggs))
		for i, k := range v.keys {
			if grp.keys[i] != nil {
				row[k.name] = grp.keys[i]
			}
		}
		for _, a := range v.aggs {
			val, err := e.aggregate(a.agg, grp.rows, g)
			if err != nil {
				if !isExprError(err) {
					return nil, err
				}
				continue
			}
			row[a.name] = val
		}
		out = append(out, row)
	}
	return newSliceIter(out...), nil
}

// aggregateInputs evaluates the argument of agg over rows. Rows whose
// argument has no value are reported through failed.
func (e *evaluator) aggregateInputs(agg *exprAggregate, rows []binding, g rdf.Term) (vals []rdf.Term, failed bool, err error) {
	seen := make(map[string]bool)
	for _, row := range rows {
		var val rdf.Term
		if len(agg.args) > 0 {
			val, err = e.evalExpr(agg.args[0], row, g)
			if err != nil {
				if !isExprError(err) {
					return nil, false, err
				}
				failed = true
				continue
			}
		}
		if agg.distinct && val != nil {
			k := val.String()
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		vals = append(vals, val)
	}
	return vals, failed, nil
}

func (e *evaluator) aggregate(agg *exprAggregate, rows []binding, g rdf.Term) (rdf.Term, error) {
	if agg.star {
		if !agg.distinct {
			return integerNumber(int64(len(rows))).term(), nil
		}
		seen := make(map[string]bool)
		for _, row := range rows {
			seen[row.key()] = true
		}
		return integerNumber(int64(len(seen))).term(), nil
	}
	vals, failed, err := e.aggregateInputs(agg, rows, g)
	if err != nil {
		return nil, err
	}
	if agg.iri != "" {
		return e.customAggregate(agg.iri, vals)
	}
	switch agg.name {
	case "COUNT":
		return integerNumber(int64(len(vals))).term(), nil
	case "SUM", "AVG":
		if failed {
			return nil, errNoValue
		}
		sum := integerNumber(0)
		for _, v := range vals {
			n, ok := toNumber(v)
			if !ok {
				return nil, errNoValue
			}
			if sum, err = arithmetic('+', sum, n); err != nil {
				return nil, err
			}
		}
		if agg.name == "SUM" {
			return sum.term(), nil
		}
		if len(vals) == 0 {
			return integerNumber(0).term(), nil
		}
		avg, err := arithmetic('/', sum, integerNumber(int64(len(vals))))
		if err != nil {
			return nil, err
		}
		return avg.term(), nil
	case "MIN", "MAX":
		var best rdf.Term
		for _, v := range vals {
			if best == nil {
				best = v
				continue
			}
			c := orderTerms(v, best)
			if agg.name == "MIN" && c < 0 || agg.name == "MAX" && c > 0 {
				best = v
			}
		}
		if best == nil {
			return nil, errNoValue
		}
		return best, nil
	case "SAMPLE":
		if len(vals) == 0 {
			return nil, errNoValue
		}
		return vals[0], nil
	case "GROUP_CONCAT":
		if failed {
			return nil, errNoValue
		}
		parts := make([]string, len(vals))
		lang, dir := "", ""
		sameLang := true
		for i, v := range vals {
			lit, ok := isStringLiteral(v)
			if !ok {
				return nil, errNoValue
			}
			parts[i] = lit.Lexical
			if i == 0 {
				lang, dir = lit.Lang, lit.Direction
			} else if lit.Lang != lang || lit.Direction != dir {
				sameLang = false
			}
		}
		joined := strings.Join(parts, agg.separator)
		if sameLang && lang != "" {
			return rdf.NewDirLangLiteral(joined, lang, dir), nil
		}
		return rdf.NewLiteral(joined), nil
	}
	return nil, errNoValue
}

// customAggregate feeds vals to a fresh accumulator of the registered
// aggregate. Failures make the aggregate valueless.
func (e *evaluator) customAggregate(iri string, vals []rdf.Term) (result rdf.Term, err error) {
	factory, ok := e.aggregates[iri]
	if !ok {
		return nil, errNoValue
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnw("Custom aggregate panicked", "aggregate", iri, "panic", fmt.Sprint(r))
			result, err = nil, errNoValue
		}
	}()
	acc := factory()
	for _, v := range vals {
		acc.Accumulate(v)
	}
	result, err = acc.Finish()
	if err != nil || result == nil {
		return nil, errNoValue
	}
	return result, nil
}
