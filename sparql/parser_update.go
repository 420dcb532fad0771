package sparql

import (
	"github.com/teranos/quadstore/rdf"
)

type graphTargetKind int

const (
	targetGraph graphTargetKind = iota
	targetDefault
	targetNamed
	targetAll
)

type graphTarget struct {
	kind graphTargetKind
	iri  rdf.IRI
}

func (g graphTarget) term() rdf.Term {
	if g.kind == targetDefault {
		return rdf.DefaultGraph
	}
	return g.iri
}

func (g graphTarget) String() string {
	switch g.kind {
	case targetDefault:
		return "DEFAULT"
	case targetNamed:
		return "NAMED"
	case targetAll:
		return "ALL"
	}
	return g.iri.String()
}

type updateOperation interface{ isUpdateOperation() }

type insertDataOp struct{ quads []quadPattern }
type deleteDataOp struct{ quads []quadPattern }

type deleteWhereOp struct{ patterns []quadPattern }

type modifyOp struct {
	with    *rdf.IRI
	deletes []quadPattern
	inserts []quadPattern
	using   *datasetClause
	where   op
}

type loadOp struct {
	silent bool
	source rdf.IRI
	into   *rdf.IRI
}

type clearOp struct {
	silent bool
	target graphTarget
}

type dropOp struct {
	silent bool
	target graphTarget
}

type createOp struct {
	silent bool
	graph  rdf.IRI
}

type transferKind int

const (
	transferAdd transferKind = iota
	transferMove
	transferCopy
)

func (k transferKind) String() string {
	switch k {
	case transferMove:
		return "MOVE"
	case transferCopy:
		return "COPY"
	}
	return "ADD"
}

type transferOp struct {
	kind     transferKind
	silent   bool
	from, to graphTarget
}

func (insertDataOp) isUpdateOperation()  {}
func (deleteDataOp) isUpdateOperation()  {}
func (deleteWhereOp) isUpdateOperation() {}
func (modifyOp) isUpdateOperation()      {}
func (loadOp) isUpdateOperation()        {}
func (clearOp) isUpdateOperation()       {}
func (dropOp) isUpdateOperation()        {}
func (createOp) isUpdateOperation()      {}
func (transferOp) isUpdateOperation()    {}

func (p *parser) parseUpdate() (*Update, error) {
	u := &Update{}
	for {
		if err := p.parsePrologue(); err != nil {
			return nil, err
		}
		if p.peek().kind == tokEOF {
			break
		}
		op, err := p.parseUpdateOperation()
		if err != nil {
			return nil, err
		}
		u.ops = append(u.ops, op)
		if !p.accept(";") {
			break
		}
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *parser) parseUpdateOperation() (updateOperation, error) {
	t := p.peek()
	switch {
	case t.is("LOAD"):
		p.next()
		op := loadOp{silent: p.accept("SILENT")}
		src, err := p.iri(p.next())
		if err != nil {
			return nil, err
		}
		op.source = src
		if p.accept("INTO") {
			if err := p.expect("GRAPH"); err != nil {
				return nil, err
			}
			g, err := p.iri(p.next())
			if err != nil {
				return nil, err
			}
			op.into = &g
		}
		return op, nil
	case t.is("CLEAR"), t.is("DROP"):
		p.next()
		silent := p.accept("SILENT")
		target, err := p.parseGraphRefAll()
		if err != nil {
			return nil, err
		}
		if t.is("CLEAR") {
			return clearOp{silent: silent, target: target}, nil
		}
		return dropOp{silent: silent, target: target}, nil
	case t.is("CREATE"):
		p.next()
		silent := p.accept("SILENT")
		if err := p.expect("GRAPH"); err != nil {
			return nil, err
		}
		g, err := p.iri(p.next())
		if err != nil {
			return nil, err
		}
		return createOp{silent: silent, graph: g}, nil
	case t.is("ADD"), t.is("MOVE"), t.is("COPY"):
		p.next()
		op := transferOp{kind: transferAdd}
		if t.is("MOVE") {
			op.kind = transferMove
		} else if t.is("COPY") {
			op.kind = transferCopy
		}
		op.silent = p.accept("SILENT")
		var err error
		if op.from, err = p.parseGraphOrDefault(); err != nil {
			return nil, err
		}
		if err := p.expect("TO"); err != nil {
			return nil, err
		}
		if op.to, err = p.parseGraphOrDefault(); err != nil {
			return nil, err
		}
		return op, nil
	case t.is("INSERT") && p.peekAt(1).is("DATA"):
		p.next()
		p.next()
		quads, err := p.parseQuadData(false)
		return insertDataOp{quads: quads}, err
	case t.is("DELETE") && p.peekAt(1).is("DATA"):
		p.next()
		p.next()
		quads, err := p.parseQuadData(true)
		return deleteDataOp{quads: quads}, err
	case t.is("DELETE") && p.peekAt(1).is("WHERE"):
		p.next()
		p.next()
		patterns, err := p.parseQuadPattern(true)
		return deleteWhereOp{patterns: patterns}, err
	case t.is("WITH"), t.is("DELETE"), t.is("INSERT"):
		return p.parseModify()
	}
	return nil, p.unexpected(t, "expected update operation")
}

func (p *parser) parseGraphRefAll() (graphTarget, error) {
	switch {
	case p.accept("DEFAULT"):
		return graphTarget{kind: targetDefault}, nil
	case p.accept("NAMED"):
		return graphTarget{kind: targetNamed}, nil
	case p.accept("ALL"):
		return graphTarget{kind: targetAll}, nil
	}
	if err := p.expect("GRAPH"); err != nil {
		return graphTarget{}, err
	}
	g, err := p.iri(p.next())
	return graphTarget{kind: targetGraph, iri: g}, err
}

func (p *parser) parseGraphOrDefault() (graphTarget, error) {
	if p.accept("DEFAULT") {
		return graphTarget{kind: targetDefault}, nil
	}
	p.accept("GRAPH")
	g, err := p.iri(p.next())
	return graphTarget{kind: targetGraph, iri: g}, err
}

func (p *parser) parseModify() (updateOperation, error) {
	var op modifyOp
	if p.accept("WITH") {
		g, err := p.iri(p.next())
		if err != nil {
			return nil, err
		}
		op.with = &g
	}
	seen := false
	if p.accept("DELETE") {
		seen = true
		patterns, err := p.parseQuadPattern(true)
		if err != nil {
			return nil, err
		}
		op.deletes = patterns
	}
	if p.accept("INSERT") {
		seen = true
		patterns, err := p.parseQuadPattern(false)
		if err != nil {
			return nil, err
		}
		op.inserts = patterns
	}
	if !seen {
		return nil, p.unexpected(p.peek(), "expected DELETE or INSERT")
	}
	using, err := p.parseDatasetClauses("USING")
	if err != nil {
		return nil, err
	}
	op.using = using
	if err := p.expect("WHERE"); err != nil {
		return nil, err
	}
	if op.where, err = p.parseGroupGraphPattern(); err != nil {
		return nil, err
	}
	return op, nil
}

// parseQuadData parses the ground quads of INSERT DATA or DELETE DATA.
func (p *parser) parseQuadData(deleting bool) ([]quadPattern, error) {
	noVars, bnodeVars, noBlanks := p.noVars, p.bnodeVars, p.noBlanks
	p.noVars, p.bnodeVars, p.noBlanks = true, false, deleting
	defer func() { p.noVars, p.bnodeVars, p.noBlanks = noVars, bnodeVars, noBlanks }()
	return p.parseQuads()
}

// parseQuadPattern parses a DELETE or INSERT template. Blank nodes are not
// allowed in deletions.
func (p *parser) parseQuadPattern(deleting bool) ([]quadPattern, error) {
	bnodeVars, noBlanks := p.bnodeVars, p.noBlanks
	p.bnodeVars, p.noBlanks = false, deleting
	defer func() { p.bnodeVars, p.noBlanks = bnodeVars, noBlanks }()
	return p.parseQuads()
}

func (p *parser) parseQuads() ([]quadPattern, error) {
	noPaths := p.noPaths
	p.noPaths = true
	defer func() { p.noPaths = noPaths }()

	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var quads []quadPattern
	appendTriples := func(sink *tripleSink, g patternNode) {
		for _, tp := range sink.triples() {
			quads = append(quads, quadPattern{s: tp.s, p: tp.p, o: tp.o, g: g})
		}
	}
	for {
		t := p.peek()
		switch {
		case t.is("}"):
			p.next()
			return quads, nil
		case t.is("."):
			p.next()
		case t.is("GRAPH"):
			p.next()
			g, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			if err := p.expect("{"); err != nil {
				return nil, err
			}
			sink := &tripleSink{}
			for !p.peek().is("}") {
				if err := p.parseTriplesSameSubject(sink); err != nil {
					return nil, err
				}
				if !p.accept(".") {
					break
				}
			}
			if err := p.expect("}"); err != nil {
				return nil, err
			}
			appendTriples(sink, g)
		case t.kind == tokEOF:
			return nil, p.unexpected(t, "expected }")
		default:
			sink := &tripleSink{}
			if err := p.parseTriplesSameSubject(sink); err != nil {
				return nil, err
			}
			appendTriples(sink, nil)
			if !p.peek().is(".") && !p.peek().is("}") && !p.peek().is("GRAPH") {
				return nil, p.unexpected(p.peek(), "expected . or }")
			}
		}
	}
}

// quadPatternsToOp turns the patterns of DELETE WHERE into a graph pattern.
func quadPatternsToOp(patterns []quadPattern) op {
	result := op(unit)
	var defaults []triplePattern
	for _, qp := range patterns {
		tp := triplePattern{s: qp.s, p: qp.p, o: qp.o}
		if qp.g == nil {
			defaults = append(defaults, tp)
			continue
		}
		result = join(result, opGraph{name: qp.g, sub: opBGP{patterns: []triplePattern{tp}}})
	}
	if len(defaults) > 0 {
		result = join(opBGP{patterns: defaults}, result)
	}
	return result
}
