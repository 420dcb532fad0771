package sparql

import (
	"strconv"
	"strings"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

const (
	queryFormat  = "sparql-query"
	updateFormat = "sparql-update"
)

// builtinArity gives the accepted argument counts of builtin functions;
// a max of -1 means variadic.
var builtinArity = map[string][2]int{
	"STR": {1, 1}, "LANG": {1, 1}, "LANGMATCHES": {2, 2}, "LANGDIR": {1, 1},
	"DATATYPE": {1, 1}, "IRI": {1, 1}, "URI": {1, 1}, "BNODE": {0, 1},
	"RAND": {0, 0}, "ABS": {1, 1}, "CEIL": {1, 1}, "FLOOR": {1, 1}, "ROUND": {1, 1},
	"CONCAT": {0, -1}, "STRLEN": {1, 1}, "UCASE": {1, 1}, "LCASE": {1, 1},
	"ENCODE_FOR_URI": {1, 1}, "CONTAINS": {2, 2}, "STRSTARTS": {2, 2},
	"STRENDS": {2, 2}, "STRBEFORE": {2, 2}, "STRAFTER": {2, 2},
	"YEAR": {1, 1}, "MONTH": {1, 1}, "DAY": {1, 1}, "HOURS": {1, 1},
	"MINUTES": {1, 1}, "SECONDS": {1, 1}, "TIMEZONE": {1, 1}, "TZ": {1, 1},
	"NOW": {0, 0}, "UUID": {0, 0}, "STRUUID": {0, 0},
	"MD5": {1, 1}, "SHA1": {1, 1}, "SHA256": {1, 1}, "SHA384": {1, 1}, "SHA512": {1, 1},
	"COALESCE": {0, -1}, "IF": {3, 3}, "STRLANG": {2, 2}, "STRLANGDIR": {3, 3},
	"STRDT": {2, 2}, "SAMETERM": {2, 2}, "ISIRI": {1, 1}, "ISURI": {1, 1},
	"ISBLANK": {1, 1}, "ISLITERAL": {1, 1}, "ISNUMERIC": {1, 1}, "ISTRIPLE": {1, 1},
	"HASLANG": {1, 1}, "HASLANGDIR": {1, 1}, "REGEX": {2, 3}, "SUBSTR": {2, 3},
	"REPLACE": {3, 4}, "TRIPLE": {3, 3}, "SUBJECT": {1, 1}, "PREDICATE": {1, 1},
	"OBJECT": {1, 1},
}

var aggregateNames = map[string]bool{
	"COUNT": true, "SUM": true, "MIN": true, "MAX": true, "AVG": true,
	"SAMPLE": true, "GROUP_CONCAT": true,
}

type parser struct {
	toks     []token
	pos      int
	format   string
	base     string
	prefixes map[string]string

	// Blank node handling for the part being parsed
	bnodeVars bool // labels become hidden variables (WHERE patterns)
	noBlanks  bool // DELETE templates and data
	noVars    bool // INSERT DATA / DELETE DATA
	noPaths   bool // templates
	fresh     int
}

func newParser(text, base, format string) (*parser, error) {
	toks, err := newLexer(text, format).tokenize()
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, format: format, base: base, prefixes: make(map[string]string), bnodeVars: true}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(s string) bool {
	if p.peek().is(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.accept(s) {
		return p.unexpected(p.peek(), "expected %s", s)
	}
	return nil
}

func (p *parser) errorAt(t token, msg string, args ...interface{}) error {
	return errors.NewSyntaxError(p.format, t.start, t.end, msg, args...)
}

func (p *parser) unexpected(t token, msg string, args ...interface{}) error {
	return p.errorAt(t, "%s, found %s", errors.Newf(msg, args...).Error(), t)
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return p.unexpected(t, "expected end of input")
	}
	return nil
}

// freshNode returns a node for an anonymous blank node: a hidden variable in
// patterns, a placeholder blank node in templates and data.
func (p *parser) freshNode() patternNode {
	p.fresh++
	label := hiddenPrefix + "anon" + strconv.Itoa(p.fresh)
	if p.bnodeVars {
		return varNode{name: label}
	}
	return termNode{term: rdf.BlankNode{ID: label}}
}

func (p *parser) hiddenVar(kind string) string {
	p.fresh++
	return hiddenPrefix + kind + strconv.Itoa(p.fresh)
}

// Prologue

func (p *parser) parsePrologue() error {
	for {
		switch t := p.peek(); {
		case t.is("BASE"):
			p.next()
			iri := p.next()
			if iri.kind != tokIRI {
				return p.unexpected(iri, "expected IRI after BASE")
			}
			base, err := p.resolve(iri, iri.value)
			if err != nil {
				return err
			}
			p.base = base
		case t.is("PREFIX"):
			p.next()
			name := p.next()
			if name.kind != tokPName || !strings.HasSuffix(name.value, ":") {
				return p.unexpected(name, "expected prefix name after PREFIX")
			}
			iri := p.next()
			if iri.kind != tokIRI {
				return p.unexpected(iri, "expected IRI in PREFIX declaration")
			}
			value, err := p.resolve(iri, iri.value)
			if err != nil {
				return err
			}
			p.prefixes[strings.TrimSuffix(name.value, ":")] = value
		default:
			return nil
		}
	}
}

func (p *parser) resolve(t token, ref string) (string, error) {
	iri, err := rdf.ResolveIRI(p.base, ref)
	if err != nil {
		return "", p.errorAt(t, "invalid IRI %q: %v", ref, err)
	}
	return iri, nil
}

// iri turns an IRI or prefixed name token into an IRI.
func (p *parser) iri(t token) (rdf.IRI, error) {
	switch t.kind {
	case tokIRI:
		v, err := p.resolve(t, t.value)
		return rdf.IRI{Value: v}, err
	case tokPName:
		i := strings.IndexByte(t.value, ':')
		ns, ok := p.prefixes[t.value[:i]]
		if !ok {
			return rdf.IRI{}, p.errorAt(t, "undefined prefix %q", t.value[:i])
		}
		return rdf.IRI{Value: ns + unescapeLocal(t.value[i+1:])}, nil
	}
	return rdf.IRI{}, p.unexpected(t, "expected IRI")
}

func isIRIToken(t token) bool { return t.kind == tokIRI || t.kind == tokPName }

// Query forms

func (p *parser) parseQuery() (*Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	q := &Query{}
	t := p.peek()
	var err error
	switch {
	case t.is("SELECT"):
		q.form = FormSelect
		err = p.parseSelectQuery(q)
	case t.is("CONSTRUCT"):
		q.form = FormConstruct
		err = p.parseConstructQuery(q)
	case t.is("ASK"):
		q.form = FormAsk
		p.next()
		err = p.parseQueryBody(q, true)
	case t.is("DESCRIBE"):
		q.form = FormDescribe
		err = p.parseDescribeQuery(q)
	default:
		return nil, p.unexpected(t, "expected SELECT, CONSTRUCT, ASK or DESCRIBE")
	}
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return q, nil
}

func (p *parser) parseSelectQuery(q *Query) error {
	sel, err := p.parseProjection()
	if err != nil {
		return err
	}
	q.sel = sel
	if q.dataset, err = p.parseDatasetClauses("FROM"); err != nil {
		return err
	}
	return p.parseWhereAndModifiers(sel, true)
}

// parseQueryBody parses dataset clauses, WHERE and solution modifiers of a
// query form without projection.
func (p *parser) parseQueryBody(q *Query, whereRequired bool) error {
	var err error
	if q.dataset, err = p.parseDatasetClauses("FROM"); err != nil {
		return err
	}
	q.sel = &selectClause{star: true, limit: -1}
	if !whereRequired && !p.peek().is("WHERE") && !p.peek().is("{") {
		q.sel.where = unit
		if err := p.parseModifiers(q.sel); err != nil {
			return err
		}
		return p.parseTrailingValues(q.sel)
	}
	return p.parseWhereAndModifiers(q.sel, true)
}

func (p *parser) parseConstructQuery(q *Query) error {
	p.next()
	if p.peek().is("{") {
		p.next()
		tmpl, err := p.parseTemplateUntil("}")
		if err != nil {
			return err
		}
		q.template = tmpl
		return p.parseQueryBody(q, true)
	}

	// CONSTRUCT WHERE { template }
	var err error
	if q.dataset, err = p.parseDatasetClauses("FROM"); err != nil {
		return err
	}
	if err := p.expect("WHERE"); err != nil {
		return err
	}
	if err := p.expect("{"); err != nil {
		return err
	}
	sink := &tripleSink{}
	saved := p.noPaths
	p.noPaths = true
	for !p.peek().is("}") {
		if err := p.parseTriplesSameSubject(sink); err != nil {
			return err
		}
		if !p.accept(".") {
			break
		}
	}
	p.noPaths = saved
	if err := p.expect("}"); err != nil {
		return err
	}
	q.template = sink.triples()
	q.sel = &selectClause{star: true, limit: -1, where: opBGP{patterns: q.template}}
	if err := p.parseModifiers(q.sel); err != nil {
		return err
	}
	return p.parseTrailingValues(q.sel)
}

func (p *parser) parseDescribeQuery(q *Query) error {
	p.next()
	if !p.accept("*") {
		for {
			t := p.peek()
			if t.kind == tokVar {
				p.next()
				q.describe = append(q.describe, varNode{name: t.value})
				continue
			}
			if isIRIToken(t) {
				p.next()
				iri, err := p.iri(t)
				if err != nil {
					return err
				}
				q.describe = append(q.describe, termNode{term: iri})
				continue
			}
			break
		}
		if len(q.describe) == 0 {
			return p.unexpected(p.peek(), "expected variable, IRI or * after DESCRIBE")
		}
	}
	if err := p.parseQueryBody(q, false); err != nil {
		return err
	}
	if q.describe == nil {
		for _, name := range inScope(q.sel.where) {
			q.describe = append(q.describe, varNode{name: name})
		}
	}
	return nil
}

func (p *parser) parseDatasetClauses(keyword string) (*datasetClause, error) {
	var ds *datasetClause
	for p.peek().is(keyword) {
		p.next()
		if ds == nil {
			ds = &datasetClause{defaults: []rdf.Term{}, named: []rdf.Term{}}
		}
		named := p.accept("NAMED")
		t := p.next()
		iri, err := p.iri(t)
		if err != nil {
			return nil, err
		}
		if named {
			ds.named = append(ds.named, iri)
		} else {
			ds.defaults = append(ds.defaults, iri)
		}
	}
	return ds, nil
}

// parseProjection parses SELECT [DISTINCT|REDUCED] (* | vars and expressions).
func (p *parser) parseProjection() (*selectClause, error) {
	if err := p.expect("SELECT"); err != nil {
		return nil, err
	}
	sel := &selectClause{limit: -1}
	switch {
	case p.accept("DISTINCT"):
		sel.distinct = true
	case p.accept("REDUCED"):
		sel.reduced = true
	}
	if p.accept("*") {
		sel.star = true
		return sel, nil
	}
	seen := make(map[string]bool)
	for {
		t := p.peek()
		switch {
		case t.kind == tokVar:
			p.next()
			if seen[t.value] {
				return nil, p.errorAt(t, "variable ?%s projected twice", t.value)
			}
			seen[t.value] = true
			sel.projection = append(sel.projection, projection{name: t.value})
			continue
		case t.is("("):
			p.next()
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("AS"); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.unexpected(v, "expected variable after AS")
			}
			if seen[v.value] {
				return nil, p.errorAt(v, "variable ?%s projected twice", v.value)
			}
			seen[v.value] = true
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			sel.projection = append(sel.projection, projection{name: v.value, expr: e})
			continue
		}
		break
	}
	if len(sel.projection) == 0 {
		return nil, p.unexpected(p.peek(), "expected projection")
	}
	return sel, nil
}

func (p *parser) parseWhereAndModifiers(sel *selectClause, values bool) error {
	p.accept("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return err
	}
	sel.where = where
	if err := p.parseModifiers(sel); err != nil {
		return err
	}
	if values {
		return p.parseTrailingValues(sel)
	}
	return nil
}

func (p *parser) parseTrailingValues(sel *selectClause) error {
	if !p.accept("VALUES") {
		return nil
	}
	v, err := p.parseDataBlock()
	if err != nil {
		return err
	}
	sel.values = &v
	return nil
}

func (p *parser) parseSubSelect() (*selectClause, error) {
	sel, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	if err := p.parseWhereAndModifiers(sel, true); err != nil {
		return nil, err
	}
	return sel, nil
}

func (p *parser) parseModifiers(sel *selectClause) error {
	if p.peek().is("GROUP") {
		p.next()
		if err := p.expect("BY"); err != nil {
			return err
		}
		for {
			key, ok, err := p.parseGroupCondition()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			sel.groupBy = append(sel.groupBy, key)
		}
		if len(sel.groupBy) == 0 {
			return p.unexpected(p.peek(), "expected group condition")
		}
	}
	if p.accept("HAVING") {
		for p.startsConstraint() {
			e, err := p.parseConstraint()
			if err != nil {
				return err
			}
			sel.having = append(sel.having, e)
		}
		if len(sel.having) == 0 {
			return p.unexpected(p.peek(), "expected HAVING condition")
		}
	}
	if p.peek().is("ORDER") {
		p.next()
		if err := p.expect("BY"); err != nil {
			return err
		}
	orderLoop:
		for {
			t := p.peek()
			var cond orderCondition
			switch {
			case t.is("ASC") || t.is("DESC"):
				p.next()
				cond.desc = t.is("DESC")
				e, err := p.parseBracketted()
				if err != nil {
					return err
				}
				cond.expr = e
			case t.kind == tokVar:
				p.next()
				cond.expr = exprVar{name: t.value}
			case p.startsConstraint():
				e, err := p.parseConstraint()
				if err != nil {
					return err
				}
				cond.expr = e
			default:
				if len(sel.orderBy) == 0 {
					return p.unexpected(t, "expected order condition")
				}
				break orderLoop
			}
			sel.orderBy = append(sel.orderBy, cond)
		}
	}
	for i := 0; i < 2; i++ {
		switch {
		case p.peek().is("LIMIT"):
			p.next()
			n, err := p.parseNonNegative()
			if err != nil {
				return err
			}
			sel.limit = n
		case p.peek().is("OFFSET"):
			p.next()
			n, err := p.parseNonNegative()
			if err != nil {
				return err
			}
			sel.offset = n
		}
	}
	return nil
}

func (p *parser) parseNonNegative() (int64, error) {
	t := p.next()
	if t.kind != tokInteger {
		return 0, p.unexpected(t, "expected integer")
	}
	n, err := strconv.ParseInt(t.value, 10, 64)
	if err != nil {
		return 0, p.errorAt(t, "integer %s out of range", t.value)
	}
	return n, nil
}

func (p *parser) parseGroupCondition() (groupKey, bool, error) {
	t := p.peek()
	switch {
	case t.kind == tokVar:
		p.next()
		return groupKey{expr: exprVar{name: t.value}, name: t.value}, true, nil
	case t.is("("):
		p.next()
		e, err := p.parseExpression()
		if err != nil {
			return groupKey{}, false, err
		}
		name := ""
		if p.accept("AS") {
			v := p.next()
			if v.kind != tokVar {
				return groupKey{}, false, p.unexpected(v, "expected variable after AS")
			}
			name = v.value
		} else if ev, ok := e.(exprVar); ok {
			name = ev.name
		}
		if err := p.expect(")"); err != nil {
			return groupKey{}, false, err
		}
		if name == "" {
			name = p.hiddenVar("key")
		}
		return groupKey{expr: e, name: name}, true, nil
	case p.startsConstraint():
		e, err := p.parseConstraint()
		if err != nil {
			return groupKey{}, false, err
		}
		return groupKey{expr: e, name: p.hiddenVar("key")}, true, nil
	}
	return groupKey{}, false, nil
}

// startsConstraint reports whether the next token begins a bracketted
// expression, a builtin call or a function call.
func (p *parser) startsConstraint() bool {
	t := p.peek()
	if t.is("(") || isIRIToken(t) {
		return true
	}
	if t.kind != tokName {
		return false
	}
	name := strings.ToUpper(t.value)
	_, builtin := builtinArity[name]
	return builtin || aggregateNames[name] || name == "BOUND" || name == "EXISTS" || name == "NOT"
}

func (p *parser) parseConstraint() (expr, error) {
	if p.peek().is("(") {
		return p.parseBracketted()
	}
	return p.parsePrimary()
}

func (p *parser) parseBracketted() (expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return e, p.expect(")")
}

// Inline data

func (p *parser) parseDataBlock() (opValues, error) {
	var v opValues
	t := p.peek()
	single := false
	switch {
	case t.kind == tokVar:
		p.next()
		v.vars = []string{t.value}
		single = true
	case t.is("("):
		p.next()
		for p.peek().kind == tokVar {
			v.vars = append(v.vars, p.next().value)
		}
		if err := p.expect(")"); err != nil {
			return v, err
		}
	default:
		return v, p.unexpected(t, "expected variable or ( after VALUES")
	}
	if err := p.expect("{"); err != nil {
		return v, err
	}
	for !p.accept("}") {
		if single {
			val, err := p.parseDataValue()
			if err != nil {
				return v, err
			}
			v.rows = append(v.rows, []rdf.Term{val})
			continue
		}
		open := p.peek()
		if err := p.expect("("); err != nil {
			return v, err
		}
		row := make([]rdf.Term, 0, len(v.vars))
		for !p.accept(")") {
			val, err := p.parseDataValue()
			if err != nil {
				return v, err
			}
			row = append(row, val)
		}
		if len(row) != len(v.vars) {
			return v, p.errorAt(open, "VALUES row has %d values for %d variables", len(row), len(v.vars))
		}
		v.rows = append(v.rows, row)
	}
	return v, nil
}

func (p *parser) parseDataValue() (rdf.Term, error) {
	if p.accept("UNDEF") {
		return nil, nil
	}
	t := p.peek()
	if t.kind == tokVar || t.kind == tokBlank || t.is("[") {
		return nil, p.unexpected(t, "expected constant in VALUES")
	}
	saved := p.noVars
	p.noVars = true
	defer func() { p.noVars = saved }()
	n, err := p.parseGraphNode(&tripleSink{})
	if err != nil {
		return nil, err
	}
	tn, ok := n.(termNode)
	if !ok {
		return nil, p.unexpected(t, "expected constant in VALUES")
	}
	return tn.term, nil
}

// Graph patterns

type groupBuilder struct {
	current op
	filters []expr
	sink    tripleSink
}

func (g *groupBuilder) flush() {
	for _, item := range g.sink.items {
		switch v := item.(type) {
		case triplePattern:
			g.current = join(g.current, opBGP{patterns: []triplePattern{v}})
		case opPath:
			g.current = join(g.current, v)
		}
	}
	g.sink.items = nil
}

func (g *groupBuilder) add(o op) {
	g.flush()
	g.current = join(g.current, o)
}

func (g *groupBuilder) finish() op {
	g.flush()
	if len(g.filters) > 0 {
		return opFilter{exprs: g.filters, sub: g.current}
	}
	return g.current
}

func (p *parser) parseGroupGraphPattern() (op, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	if p.peek().is("SELECT") {
		sel, err := p.parseSubSelect()
		if err != nil {
			return nil, err
		}
		return opSubSelect{sel: sel}, p.expect("}")
	}

	g := &groupBuilder{current: unit}
	for {
		t := p.peek()
		switch {
		case t.is("}"):
			p.next()
			return g.finish(), nil
		case t.kind == tokEOF:
			return nil, p.unexpected(t, "expected }")
		case t.is("."):
			p.next()
		case t.is("{"):
			sub, err := p.parseGroupOrUnion()
			if err != nil {
				return nil, err
			}
			g.add(sub)
		case t.is("OPTIONAL"):
			p.next()
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.flush()
			if f, ok := sub.(opFilter); ok {
				g.current = opLeftJoin{left: g.current, right: f.sub, filter: conjunction(f.exprs)}
			} else {
				g.current = opLeftJoin{left: g.current, right: sub}
			}
		case t.is("MINUS"):
			p.next()
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.flush()
			g.current = opMinus{left: g.current, right: sub}
		case t.is("GRAPH"):
			p.next()
			name, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.add(opGraph{name: name, sub: sub})
		case t.is("SERVICE"):
			p.next()
			silent := p.accept("SILENT")
			name, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			sub, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.add(opService{name: name, sub: sub, silent: silent})
		case t.is("FILTER"):
			p.next()
			e, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			g.filters = append(g.filters, e)
		case t.is("BIND"):
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("AS"); err != nil {
				return nil, err
			}
			v := p.next()
			if v.kind != tokVar {
				return nil, p.unexpected(v, "expected variable after AS")
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			g.flush()
			for _, name := range inScope(g.current) {
				if name == v.value {
					return nil, p.errorAt(v, "BIND target ?%s is already in scope", name)
				}
			}
			g.current = opExtend{sub: g.current, name: v.value, expr: e}
		case t.is("VALUES"):
			p.next()
			v, err := p.parseDataBlock()
			if err != nil {
				return nil, err
			}
			g.add(v)
		default:
			if err := p.parseTriplesSameSubject(&g.sink); err != nil {
				return nil, err
			}
			if !p.peek().is(".") && !p.peek().is("}") && !p.startsGraphPatternNotTriples() {
				return nil, p.unexpected(p.peek(), "expected . or }")
			}
		}
	}
}

func (p *parser) startsGraphPatternNotTriples() bool {
	t := p.peek()
	for _, kw := range []string{"{", "OPTIONAL", "MINUS", "GRAPH", "SERVICE", "FILTER", "BIND", "VALUES"} {
		if t.is(kw) {
			return true
		}
	}
	return false
}

func (p *parser) parseGroupOrUnion() (op, error) {
	left, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	for p.accept("UNION") {
		right, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		left = opUnion{left: left, right: right}
	}
	return left, nil
}

func conjunction(exprs []expr) expr {
	e := exprs[0]
	for _, next := range exprs[1:] {
		e = exprAnd{left: e, right: next}
	}
	return e
}

func (p *parser) parseVarOrIRI() (patternNode, error) {
	t := p.next()
	if t.kind == tokVar {
		if p.noVars {
			return nil, p.errorAt(t, "variables are not allowed here")
		}
		return varNode{name: t.value}, nil
	}
	iri, err := p.iri(t)
	if err != nil {
		return nil, err
	}
	return termNode{term: iri}, nil
}

// Triples

// tripleSink collects triple patterns and path patterns in order.
type tripleSink struct {
	items []interface{}
}

func (s *tripleSink) triples() []triplePattern {
	out := make([]triplePattern, 0, len(s.items))
	for _, item := range s.items {
		if tp, ok := item.(triplePattern); ok {
			out = append(out, tp)
		}
	}
	return out
}

// emit records subject verb object, where verb is a patternNode or a path.
func (s *tripleSink) emit(subj patternNode, verb interface{}, obj patternNode) {
	switch v := verb.(type) {
	case patternNode:
		s.items = append(s.items, triplePattern{s: subj, p: v, o: obj})
	case pathLink:
		s.items = append(s.items, triplePattern{s: subj, p: termNode{term: v.iri}, o: obj})
	case path:
		s.items = append(s.items, opPath{s: subj, path: v, o: obj})
	}
}

func (p *parser) parseTemplateUntil(closer string) ([]triplePattern, error) {
	bnodeVars, noPaths := p.bnodeVars, p.noPaths
	p.bnodeVars, p.noPaths = false, true
	defer func() { p.bnodeVars, p.noPaths = bnodeVars, noPaths }()

	sink := &tripleSink{}
	for !p.peek().is(closer) {
		if err := p.parseTriplesSameSubject(sink); err != nil {
			return nil, err
		}
		if !p.accept(".") {
			break
		}
	}
	if err := p.expect(closer); err != nil {
		return nil, err
	}
	return sink.triples(), nil
}

func (p *parser) parseTriplesSameSubject(sink *tripleSink) error {
	t := p.peek()
	complexSubject := t.is("[") && !p.peekAt(1).is("]") || t.is("(") && !p.peekAt(1).is(")")
	subj, err := p.parseGraphNode(sink)
	if err != nil {
		return err
	}
	if complexSubject && !p.startsVerb() {
		return nil
	}
	return p.parsePropertyList(subj, sink)
}

func (p *parser) startsVerb() bool {
	t := p.peek()
	return t.kind == tokVar || isIRIToken(t) || t.is("a") || t.is("^") || t.is("(") || t.is("!")
}

func (p *parser) parsePropertyList(subj patternNode, sink *tripleSink) error {
	for {
		verb, err := p.parseVerb()
		if err != nil {
			return err
		}
		if err := p.parseObjectList(subj, verb, sink); err != nil {
			return err
		}
		if !p.accept(";") {
			return nil
		}
		for p.accept(";") {
		}
		if !p.startsVerb() {
			return nil
		}
	}
}

func (p *parser) parseVerb() (interface{}, error) {
	t := p.peek()
	if t.kind == tokVar {
		p.next()
		if p.noVars {
			return nil, p.errorAt(t, "variables are not allowed here")
		}
		return varNode{name: t.value}, nil
	}
	if t.kind == tokName && t.value == "a" {
		p.next()
		return pathLink{iri: rdf.RDFType}, nil
	}
	if p.noPaths {
		iri, err := p.iri(p.next())
		if err != nil {
			return nil, err
		}
		return pathLink{iri: iri}, nil
	}
	return p.parsePath()
}

func (p *parser) parseObjectList(subj patternNode, verb interface{}, sink *tripleSink) error {
	for {
		obj, err := p.parseGraphNode(sink)
		if err != nil {
			return err
		}
		sink.emit(subj, verb, obj)
		if p.peek().is("{|") {
			return p.unexpected(p.peek(), "annotation syntax is not supported")
		}
		if !p.accept(",") {
			return nil
		}
	}
}

// parseGraphNode parses a term, variable, blank node property list,
// collection or quoted triple.
func (p *parser) parseGraphNode(sink *tripleSink) (patternNode, error) {
	t := p.peek()
	switch {
	case t.is("["):
		p.next()
		if p.noBlanks {
			return nil, p.errorAt(t, "blank nodes are not allowed here")
		}
		node := p.freshNode()
		if p.accept("]") {
			return node, nil
		}
		if err := p.parsePropertyList(node, sink); err != nil {
			return nil, err
		}
		return node, p.expect("]")
	case t.is("("):
		p.next()
		if p.accept(")") {
			return termNode{term: rdf.RDFNil}, nil
		}
		if p.noBlanks {
			return nil, p.errorAt(t, "collections are not allowed here")
		}
		head := p.freshNode()
		cur := head
		for {
			item, err := p.parseGraphNode(sink)
			if err != nil {
				return nil, err
			}
			sink.emit(cur, termNode{term: rdf.RDFFirst}, item)
			if p.accept(")") {
				sink.emit(cur, termNode{term: rdf.RDFRest}, termNode{term: rdf.RDFNil})
				return head, nil
			}
			if p.peek().kind == tokEOF {
				return nil, p.unexpected(p.peek(), "expected )")
			}
			next := p.freshNode()
			sink.emit(cur, termNode{term: rdf.RDFRest}, next)
			cur = next
		}
	case t.is("<<") || t.is("<<("):
		return p.parseQuotedTriple()
	}
	return p.parseVarOrTerm()
}

func (p *parser) parseQuotedTriple() (patternNode, error) {
	open := p.next()
	closer := ">>"
	if open.value == "<<(" {
		closer = ")>>"
	}
	s, err := p.parseQuotedPart()
	if err != nil {
		return nil, err
	}
	var pred patternNode
	t := p.next()
	switch {
	case t.kind == tokVar:
		if p.noVars {
			return nil, p.errorAt(t, "variables are not allowed here")
		}
		pred = varNode{name: t.value}
	case t.kind == tokName && t.value == "a":
		pred = termNode{term: rdf.RDFType}
	default:
		iri, err := p.iri(t)
		if err != nil {
			return nil, err
		}
		pred = termNode{term: iri}
	}
	o, err := p.parseQuotedPart()
	if err != nil {
		return nil, err
	}
	if p.peek().is("~") {
		return nil, p.unexpected(p.peek(), "reifiers are not supported")
	}
	if err := p.expect(closer); err != nil {
		return nil, err
	}

	st, sok := s.(termNode)
	pt, pok := pred.(termNode)
	ot, ook := o.(termNode)
	if sok && pok && ook {
		if !rdf.ValidSubject(st.term) {
			return nil, p.errorAt(open, "invalid subject %s in triple term", st.term)
		}
		return termNode{term: rdf.TripleTerm{S: st.term, P: pt.term.(rdf.IRI), O: ot.term}}, nil
	}
	return tripleNode{s: s, p: pred, o: o}, nil
}

func (p *parser) parseQuotedPart() (patternNode, error) {
	t := p.peek()
	if t.is("<<") || t.is("<<(") {
		return p.parseQuotedTriple()
	}
	if t.is("[") && p.peekAt(1).is("]") {
		p.next()
		p.next()
		return p.freshNode(), nil
	}
	return p.parseVarOrTerm()
}

func (p *parser) parseVarOrTerm() (patternNode, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		if p.noVars {
			return nil, p.errorAt(t, "variables are not allowed here")
		}
		return varNode{name: t.value}, nil
	case tokIRI, tokPName:
		iri, err := p.iri(t)
		if err != nil {
			return nil, err
		}
		return termNode{term: iri}, nil
	case tokBlank:
		if p.noBlanks {
			return nil, p.errorAt(t, "blank nodes are not allowed here")
		}
		if p.bnodeVars {
			return varNode{name: hiddenPrefix + "b:" + t.value}, nil
		}
		return termNode{term: rdf.BlankNode{ID: t.value}}, nil
	case tokString:
		lit, err := p.finishLiteral(t)
		if err != nil {
			return nil, err
		}
		return termNode{term: lit}, nil
	case tokInteger, tokDecimal, tokDouble:
		return termNode{term: numericLiteral(t.kind, t.value)}, nil
	case tokPunct:
		if t.value == "+" || t.value == "-" {
			n := p.next()
			if n.kind != tokInteger && n.kind != tokDecimal && n.kind != tokDouble {
				return nil, p.unexpected(n, "expected number after %s", t.value)
			}
			lex := n.value
			if t.value == "-" {
				lex = "-" + lex
			}
			return termNode{term: numericLiteral(n.kind, lex)}, nil
		}
	case tokName:
		switch strings.ToLower(t.value) {
		case "true":
			return termNode{term: rdf.True}, nil
		case "false":
			return termNode{term: rdf.False}, nil
		}
	}
	return nil, p.unexpected(t, "expected term")
}

func (p *parser) finishLiteral(str token) (rdf.Literal, error) {
	switch t := p.peek(); {
	case t.kind == tokLangTag:
		p.next()
		lang, dir, _ := strings.Cut(t.value, "--")
		if dir != "" && dir != "ltr" && dir != "rtl" {
			return rdf.Literal{}, p.errorAt(t, "invalid base direction %q", dir)
		}
		return rdf.NewDirLangLiteral(str.value, lang, dir), nil
	case t.is("^^"):
		p.next()
		dt, err := p.iri(p.next())
		if err != nil {
			return rdf.Literal{}, err
		}
		return rdf.NewTypedLiteral(str.value, dt), nil
	}
	return rdf.NewLiteral(str.value), nil
}

func numericLiteral(kind tokenKind, lexical string) rdf.Literal {
	switch kind {
	case tokDecimal:
		return rdf.NewTypedLiteral(lexical, rdf.XSDDecimal)
	case tokDouble:
		return rdf.NewTypedLiteral(lexical, rdf.XSDDouble)
	}
	return rdf.NewTypedLiteral(lexical, rdf.XSDInteger)
}

// Property paths

func (p *parser) parsePath() (path, error) {
	left, err := p.parsePathSequence()
	if err != nil {
		return nil, err
	}
	for p.accept("|") {
		right, err := p.parsePathSequence()
		if err != nil {
			return nil, err
		}
		left = pathAlternative{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePathSequence() (path, error) {
	left, err := p.parsePathEltOrInverse()
	if err != nil {
		return nil, err
	}
	for p.accept("/") {
		right, err := p.parsePathEltOrInverse()
		if err != nil {
			return nil, err
		}
		left = pathSequence{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePathEltOrInverse() (path, error) {
	inverse := p.accept("^")
	elt, err := p.parsePathPrimary()
	if err != nil {
		return nil, err
	}
	switch t := p.peek(); {
	case t.is("*"):
		p.next()
		elt = pathZeroOrMore{sub: elt}
	case t.is("+"):
		p.next()
		elt = pathOneOrMore{sub: elt}
	case t.is("?"):
		p.next()
		elt = pathZeroOrOne{sub: elt}
	}
	if inverse {
		return pathInverse{sub: elt}, nil
	}
	return elt, nil
}

func (p *parser) parsePathPrimary() (path, error) {
	t := p.next()
	switch {
	case t.kind == tokName && t.value == "a":
		return pathLink{iri: rdf.RDFType}, nil
	case isIRIToken(t):
		iri, err := p.iri(t)
		if err != nil {
			return nil, err
		}
		return pathLink{iri: iri}, nil
	case t.is("("):
		inner, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		return inner, p.expect(")")
	case t.is("!"):
		return p.parseNegatedSet()
	}
	return nil, p.unexpected(t, "expected property path")
}

func (p *parser) parseNegatedSet() (path, error) {
	var neg pathNegated
	one := func() error {
		inverse := p.accept("^")
		t := p.next()
		var iri rdf.IRI
		if t.kind == tokName && t.value == "a" {
			iri = rdf.RDFType
		} else {
			var err error
			if iri, err = p.iri(t); err != nil {
				return err
			}
		}
		if inverse {
			neg.inverse = append(neg.inverse, iri)
		} else {
			neg.forward = append(neg.forward, iri)
		}
		return nil
	}
	if !p.accept("(") {
		return neg, one()
	}
	if p.accept(")") {
		return neg, nil
	}
	for {
		if err := one(); err != nil {
			return nil, err
		}
		if !p.accept("|") {
			break
		}
	}
	return neg, p.expect(")")
}

// Expressions

func (p *parser) parseExpression() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = exprOr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = exprAnd{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	for _, cmp := range []string{"=", "!=", "<=", ">=", "<", ">"} {
		if t.kind == tokPunct && t.value == cmp {
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return exprCompare{op: cmp, left: left, right: right}, nil
		}
	}
	negated := false
	if t.is("NOT") && p.peekAt(1).is("IN") {
		p.next()
		negated = true
	}
	if p.accept("IN") {
		list, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		return exprIn{sub: left, list: list, negated: negated}, nil
	}
	return left, nil
}

func (p *parser) parseExpressionList() ([]expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var list []expr
	if p.accept(")") {
		return list, nil
	}
	for {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.accept(")") {
			return list, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseAdditive() (expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is("+") && !t.is("-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = exprArith{op: t.value[0], left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is("*") && !t.is("/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = exprArith{op: t.value[0], left: left, right: right}
	}
}

func (p *parser) parseUnary() (expr, error) {
	switch t := p.peek(); {
	case t.is("!"):
		p.next()
		sub, err := p.parsePrimary()
		return exprNot{sub: sub}, err
	case t.is("-"):
		p.next()
		sub, err := p.parsePrimary()
		return exprNegate{sub: sub}, err
	case t.is("+"):
		p.next()
		sub, err := p.parsePrimary()
		return exprUnaryPlus{sub: sub}, err
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokPunct:
		switch t.value {
		case "(":
			return p.parseBracketted()
		case "<<(":
			p.next()
			var args []expr
			for i := 0; i < 3; i++ {
				a, err := p.parsePrimary()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
			}
			return exprCall{name: "TRIPLE", args: args}, p.expect(")>>")
		}
	case tokVar:
		p.next()
		return exprVar{name: t.value}, nil
	case tokIRI, tokPName:
		p.next()
		iri, err := p.iri(t)
		if err != nil {
			return nil, err
		}
		if !p.peek().is("(") {
			return exprTerm{term: iri}, nil
		}
		p.next()
		fn := exprFunction{iri: iri.Value}
		if p.accept(")") {
			return fn, nil
		}
		fn.distinct = p.accept("DISTINCT")
		for {
			a, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			fn.args = append(fn.args, a)
			if p.accept(")") {
				return fn, nil
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
	case tokString:
		p.next()
		lit, err := p.finishLiteral(t)
		return exprTerm{term: lit}, err
	case tokInteger, tokDecimal, tokDouble:
		p.next()
		return exprTerm{term: numericLiteral(t.kind, t.value)}, nil
	case tokName:
		return p.parseBuiltin()
	}
	return nil, p.unexpected(t, "expected expression")
}

func (p *parser) parseBuiltin() (expr, error) {
	t := p.next()
	name := strings.ToUpper(t.value)
	switch name {
	case "TRUE":
		return exprTerm{term: rdf.True}, nil
	case "FALSE":
		return exprTerm{term: rdf.False}, nil
	case "BOUND":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		v := p.next()
		if v.kind != tokVar {
			return nil, p.unexpected(v, "expected variable in BOUND")
		}
		return exprBound{name: v.value}, p.expect(")")
	case "EXISTS":
		pattern, err := p.parseGroupGraphPattern()
		return exprExists{pattern: pattern}, err
	case "NOT":
		if err := p.expect("EXISTS"); err != nil {
			return nil, err
		}
		pattern, err := p.parseGroupGraphPattern()
		return exprExists{pattern: pattern, negated: true}, err
	}
	if aggregateNames[name] {
		return p.parseAggregate(t, name)
	}
	arity, ok := builtinArity[name]
	if !ok {
		return nil, p.errorAt(t, "unknown function %s", t.value)
	}
	args, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	if len(args) < arity[0] || arity[1] >= 0 && len(args) > arity[1] {
		return nil, p.errorAt(t, "wrong number of arguments for %s: %d", name, len(args))
	}
	if name == "URI" {
		name = "IRI"
	}
	return exprCall{name: name, args: args}, nil
}

func (p *parser) parseAggregate(t token, name string) (expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	agg := &exprAggregate{name: name, separator: " "}
	agg.distinct = p.accept("DISTINCT")
	if name == "COUNT" && p.accept("*") {
		agg.star = true
	} else {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		agg.args = []expr{e}
	}
	if name == "GROUP_CONCAT" && p.accept(";") {
		if err := p.expect("SEPARATOR"); err != nil {
			return nil, err
		}
		if err := p.expect("="); err != nil {
			return nil, err
		}
		sep := p.next()
		if sep.kind != tokString {
			return nil, p.unexpected(sep, "expected separator string")
		}
		agg.separator = sep.value
	}
	return agg, p.expect(")")
}
