package rdf

// Triple is an RDF triple.
type Triple struct {
	S Term
	P IRI
	O Term
}

// String returns the triple as an N-Triples statement without the final dot.
func (t Triple) String() string {
	return t.S.String() + " " + t.P.String() + " " + t.O.String()
}

// InGraph returns the triple as a quad in graph g. A nil g means the default graph.
func (t Triple) InGraph(g Term) Quad {
	if g == nil {
		g = DefaultGraph
	}
	return Quad{S: t.S, P: t.P, O: t.O, G: g}
}

// Quad is a triple plus the graph it belongs to. G is DefaultGraph for
// triples of the default graph, never nil.
type Quad struct {
	S Term
	P IRI
	O Term
	G Term
}

// NewQuad builds a quad, mapping a nil graph to DefaultGraph.
func NewQuad(s Term, p IRI, o Term, g Term) Quad {
	if g == nil {
		g = DefaultGraph
	}
	return Quad{S: s, P: p, O: o, G: g}
}

// Triple drops the graph name.
func (q Quad) Triple() Triple { return Triple{S: q.S, P: q.P, O: q.O} }

// String returns the quad as an N-Quads statement without the final dot.
func (q Quad) String() string {
	if q.G == nil || IsDefaultGraph(q.G) {
		return q.Triple().String()
	}
	return q.Triple().String() + " " + q.G.String()
}

// Canonical returns q with all terms normalized and a nil graph mapped to
// DefaultGraph.
func (q Quad) Canonical() Quad {
	g := q.G
	if g == nil {
		g = DefaultGraph
	}
	return Quad{S: Canonical(q.S), P: q.P, O: Canonical(q.O), G: g}
}

// Validate checks the position constraints of the RDF data model.
func (q Quad) Validate() error {
	switch {
	case !ValidSubject(q.S):
		return &InvalidQuadError{Quad: q, Position: "subject"}
	case q.P.Value == "":
		return &InvalidQuadError{Quad: q, Position: "predicate"}
	case !ValidObject(q.O):
		return &InvalidQuadError{Quad: q, Position: "object"}
	case q.G != nil && !ValidGraphName(q.G):
		return &InvalidQuadError{Quad: q, Position: "graph name"}
	}
	if tt, ok := q.S.(TripleTerm); ok {
		if err := tt.Triple().InGraph(nil).Validate(); err != nil {
			return err
		}
	}
	if tt, ok := q.O.(TripleTerm); ok {
		if err := tt.Triple().InGraph(nil).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// InvalidQuadError reports a term in a position the data model forbids.
type InvalidQuadError struct {
	Quad     Quad
	Position string
}

func (e *InvalidQuadError) Error() string {
	return "invalid " + e.Position + " in quad"
}

// QuadPattern selects quads. Nil positions are wildcards. A nil G matches
// every graph; DefaultGraph matches only the default graph. NamedGraphsOnly
// restricts a nil G to graphs other than the default graph.
type QuadPattern struct {
	S               Term
	P               Term
	O               Term
	G               Term
	NamedGraphsOnly bool
}

// Matches reports whether q satisfies the pattern.
func (p QuadPattern) Matches(q Quad) bool {
	if p.S != nil && !Equal(p.S, q.S) {
		return false
	}
	if p.P != nil && !Equal(p.P, q.P) {
		return false
	}
	if p.O != nil && !Equal(p.O, q.O) {
		return false
	}
	if p.G != nil {
		return Equal(p.G, q.G)
	}
	return !p.NamedGraphsOnly || !IsDefaultGraph(q.G)
}

// QuadIterator is a single-pass sequence of quads. Callers must call Close,
// which is safe to call more than once.
type QuadIterator interface {
	Next() bool
	Quad() Quad
	Err() error
	Close() error
}

// SliceIterator iterates over an in-memory slice.
type SliceIterator struct {
	quads []Quad
	pos   int
}

// NewSliceIterator returns an iterator over quads.
func NewSliceIterator(quads []Quad) *SliceIterator {
	return &SliceIterator{quads: quads, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.quads) {
		it.pos = len(it.quads)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Quad() Quad   { return it.quads[it.pos] }
func (it *SliceIterator) Err() error   { return nil }
func (it *SliceIterator) Close() error { return nil }

// Collect drains it into a slice and closes it.
func Collect(it QuadIterator) ([]Quad, error) {
	defer it.Close()
	var out []Quad
	for it.Next() {
		out = append(out, it.Quad())
	}
	return out, it.Err()
}
