package sparql

import (
	"strings"

	"github.com/teranos/quadstore/rdf"
)

// Variable is a typed handle on a query variable.
type Variable struct {
	Name string
}

// NewVariable returns the variable with the given name, without the ? sigil.
func NewVariable(name string) Variable {
	return Variable{Name: strings.TrimLeft(name, "?$")}
}

func (v Variable) String() string { return "?" + v.Name }

// Hidden variables stand for blank nodes in patterns, path midpoints and
// aggregate results. They never leave the evaluator.
const hiddenPrefix = "\x00"

func isHidden(name string) bool { return strings.HasPrefix(name, hiddenPrefix) }

// Pattern positions are a constant term, a variable or a nested triple
// pattern whose parts may themselves be variables.
type patternNode interface{ isPatternNode() }

type varNode struct{ name string }

type termNode struct{ term rdf.Term }

type tripleNode struct{ s, p, o patternNode }

func (varNode) isPatternNode()    {}
func (termNode) isPatternNode()   {}
func (tripleNode) isPatternNode() {}

type triplePattern struct {
	s, p, o patternNode
}

// quadPattern is a template or data quad of an update. A nil g is the
// default graph, or the WITH graph for templates.
type quadPattern struct {
	s, p, o, g patternNode
}

// Property paths
type path interface{ isPath() }

type pathLink struct{ iri rdf.IRI }
type pathInverse struct{ sub path }
type pathSequence struct{ left, right path }
type pathAlternative struct{ left, right path }
type pathZeroOrMore struct{ sub path }
type pathOneOrMore struct{ sub path }
type pathZeroOrOne struct{ sub path }
type pathNegated struct{ forward, inverse []rdf.IRI }

func (pathLink) isPath()        {}
func (pathInverse) isPath()     {}
func (pathSequence) isPath()    {}
func (pathAlternative) isPath() {}
func (pathZeroOrMore) isPath()  {}
func (pathOneOrMore) isPath()   {}
func (pathZeroOrOne) isPath()   {}
func (pathNegated) isPath()     {}

// Graph pattern algebra
type op interface{ isOp() }

type opBGP struct{ patterns []triplePattern }

type opPath struct {
	s    patternNode
	path path
	o    patternNode
}

type opJoin struct{ left, right op }

type opLeftJoin struct {
	left, right op
	filter      expr // nil = true
}

type opFilter struct {
	exprs []expr
	sub   op
}

type opUnion struct{ left, right op }

type opGraph struct {
	name patternNode
	sub  op
}

type opExtend struct {
	sub  op
	name string
	expr expr
}

type opMinus struct{ left, right op }

// opValues is a table of bindings; nil cells are undefined.
type opValues struct {
	vars []string
	rows [][]rdf.Term
}

type opService struct {
	name   patternNode
	sub    op
	silent bool
}

// opSubSelect is translated when evaluated, once the custom aggregates of
// the query are known.
type opSubSelect struct{ sel *selectClause }

type groupKey struct {
	expr expr
	name string
}

type aggBinding struct {
	name string
	agg  *exprAggregate
}

type opGroup struct {
	sub  op
	keys []groupKey
	aggs []aggBinding
}

type orderCondition struct {
	expr expr
	desc bool
}

type opOrderBy struct {
	sub   op
	conds []orderCondition
}

type opProject struct {
	sub  op
	vars []string
}

type opDistinct struct{ sub op }
type opReduced struct{ sub op }

type opSlice struct {
	sub    op
	offset int64
	limit  int64 // -1 = no limit
}

func (opBGP) isOp()       {}
func (opPath) isOp()      {}
func (opJoin) isOp()      {}
func (opLeftJoin) isOp()  {}
func (opFilter) isOp()    {}
func (opUnion) isOp()     {}
func (opGraph) isOp()     {}
func (opExtend) isOp()    {}
func (opMinus) isOp()     {}
func (opValues) isOp()    {}
func (opService) isOp()   {}
func (opSubSelect) isOp() {}
func (opGroup) isOp()     {}
func (opOrderBy) isOp()   {}
func (opProject) isOp()   {}
func (opDistinct) isOp()  {}
func (opReduced) isOp()   {}
func (opSlice) isOp()     {}

// unit is the table with one empty row, the identity of join.
var unit = opValues{rows: [][]rdf.Term{{}}}

func isUnit(o op) bool {
	v, ok := o.(opValues)
	return ok && len(v.vars) == 0 && len(v.rows) == 1
}

func join(left, right op) op {
	switch {
	case isUnit(left):
		return right
	case isUnit(right):
		return left
	}
	if l, ok := left.(opBGP); ok {
		if r, ok := right.(opBGP); ok {
			patterns := append(append([]triplePattern(nil), l.patterns...), r.patterns...)
			return opBGP{patterns: patterns}
		}
	}
	return opJoin{left: left, right: right}
}

// Expressions
type expr interface{ isExpr() }

type exprVar struct{ name string }
type exprTerm struct{ term rdf.Term }

type exprOr struct{ left, right expr }
type exprAnd struct{ left, right expr }
type exprNot struct{ sub expr }

type exprCompare struct {
	op          string // = != < > <= >=
	left, right expr
}

type exprArith struct {
	op          byte // + - * /
	left, right expr
}

type exprNegate struct{ sub expr }
type exprUnaryPlus struct{ sub expr }

type exprIn struct {
	sub     expr
	list    []expr
	negated bool
}

// exprCall is a builtin call; name is upper case.
type exprCall struct {
	name string
	args []expr
}

// exprFunction calls an IRI: a cast, a custom function, or a custom
// aggregate, which grouping rewrites into an exprAggregate.
type exprFunction struct {
	iri      string
	args     []expr
	distinct bool
}

type exprExists struct {
	pattern op
	negated bool
}

type exprBound struct{ name string }

// exprAggregate is a builtin aggregate (name upper case) or a custom one
// (iri set).
type exprAggregate struct {
	name      string
	iri       string
	distinct  bool
	star      bool
	args      []expr
	separator string
}

func (exprVar) isExpr()        {}
func (exprTerm) isExpr()       {}
func (exprOr) isExpr()         {}
func (exprAnd) isExpr()        {}
func (exprNot) isExpr()        {}
func (exprCompare) isExpr()    {}
func (exprArith) isExpr()      {}
func (exprNegate) isExpr()     {}
func (exprUnaryPlus) isExpr()  {}
func (exprIn) isExpr()         {}
func (exprCall) isExpr()       {}
func (exprFunction) isExpr()   {}
func (exprExists) isExpr()     {}
func (exprBound) isExpr()      {}
func (*exprAggregate) isExpr() {}

// QueryForm identifies the kind of query.
type QueryForm int

const (
	FormSelect QueryForm = iota
	FormConstruct
	FormAsk
	FormDescribe
)

func (f QueryForm) String() string {
	switch f {
	case FormSelect:
		return "SELECT"
	case FormConstruct:
		return "CONSTRUCT"
	case FormAsk:
		return "ASK"
	case FormDescribe:
		return "DESCRIBE"
	}
	return "unknown"
}

type projection struct {
	name string
	expr expr // nil for a plain variable
}

// selectClause keeps a SELECT (or the WHERE part of any query form) in
// syntactic shape until aggregates can be resolved.
type selectClause struct {
	distinct   bool
	reduced    bool
	star       bool
	projection []projection
	where      op
	groupBy    []groupKey
	having     []expr
	orderBy    []orderCondition
	offset     int64
	limit      int64
	values     *opValues
}

// datasetClause holds FROM / FROM NAMED or USING / USING NAMED graphs.
type datasetClause struct {
	defaults []rdf.Term
	named    []rdf.Term
}

// patternVars lists the variables a pattern node mentions, in order.
func patternVars(n patternNode, out []string) []string {
	switch v := n.(type) {
	case varNode:
		out = append(out, v.name)
	case tripleNode:
		out = patternVars(v.s, out)
		out = patternVars(v.p, out)
		out = patternVars(v.o, out)
	}
	return out
}

// inScope lists the visible variables an op can bind, in order of first
// appearance. It drives SELECT *.
func inScope(o op) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] && !isHidden(n) {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	var walk func(op)
	walk = func(o op) {
		switch v := o.(type) {
		case opBGP:
			for _, tp := range v.patterns {
				add(patternVars(tp.s, nil)...)
				add(patternVars(tp.p, nil)...)
				add(patternVars(tp.o, nil)...)
			}
		case opPath:
			add(patternVars(v.s, nil)...)
			add(patternVars(v.o, nil)...)
		case opJoin:
			walk(v.left)
			walk(v.right)
		case opLeftJoin:
			walk(v.left)
			walk(v.right)
		case opFilter:
			walk(v.sub)
		case opUnion:
			walk(v.left)
			walk(v.right)
		case opGraph:
			add(patternVars(v.name, nil)...)
			walk(v.sub)
		case opExtend:
			walk(v.sub)
			add(v.name)
		case opMinus:
			walk(v.left)
		case opValues:
			add(v.vars...)
		case opService:
			walk(v.sub)
		case opSubSelect:
			if v.sel.star {
				walk(v.sel.where)
			} else {
				for _, p := range v.sel.projection {
					add(p.name)
				}
			}
		case opGroup:
			for _, k := range v.keys {
				add(k.name)
			}
			for _, a := range v.aggs {
				add(a.name)
			}
		case opOrderBy:
			walk(v.sub)
		case opProject:
			add(v.vars...)
		case opDistinct:
			walk(v.sub)
		case opReduced:
			walk(v.sub)
		case opSlice:
			walk(v.sub)
		}
	}
	walk(o)
	return out
}
