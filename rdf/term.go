// Package rdf defines the RDF term and quad model shared by storage, codecs
// and the SPARQL engine.
package rdf

import (
	"strings"
)

// TermKind identifies RDF term types. The numeric values are persisted in the
// term dictionary and must not change.
type TermKind uint8

const (
	// TermDefaultGraph is the default graph marker. It is only valid as a graph name.
	TermDefaultGraph TermKind = 0
	// TermIRI represents an IRI term.
	TermIRI TermKind = 1
	// TermBlankNode represents a blank node term.
	TermBlankNode TermKind = 2
	// TermLiteral represents a literal term.
	TermLiteral TermKind = 3
	// TermTriple represents an RDF-star triple term.
	TermTriple TermKind = 4
)

func (k TermKind) String() string {
	switch k {
	case TermDefaultGraph:
		return "default graph"
	case TermIRI:
		return "IRI"
	case TermBlankNode:
		return "blank node"
	case TermLiteral:
		return "literal"
	case TermTriple:
		return "triple"
	}
	return "unknown"
}

// Term is a value that can appear in RDF statements. String returns the
// canonical N-Triples form, which is also the term's identity.
type Term interface {
	Kind() TermKind
	String() string
}

// IRI represents an RDF IRI.
type IRI struct {
	// Value is the IRI string value.
	Value string
}

// NewIRI returns the IRI with the given value.
func NewIRI(value string) IRI { return IRI{Value: value} }

// Kind returns TermIRI.
func (i IRI) Kind() TermKind { return TermIRI }

// String returns the IRI in angle brackets.
func (i IRI) String() string { return "<" + escapeIRI(i.Value) + ">" }

// BlankNode represents an RDF blank node.
type BlankNode struct {
	// ID is the blank node identifier.
	ID string
}

// Kind returns TermBlankNode.
func (b BlankNode) Kind() TermKind { return TermBlankNode }

// String returns the blank node identifier prefixed with "_:".
func (b BlankNode) String() string { return "_:" + b.ID }

// Literal represents an RDF literal. Use the constructors, which normalize
// the datatype and language tag; a literal built by hand is normalized by
// Canonical before storage or comparison.
type Literal struct {
	// Lexical is the lexical form of the literal.
	Lexical string
	// Datatype is the datatype IRI. Plain literals are xsd:string.
	Datatype IRI
	// Lang is the lower-cased language tag, if any.
	Lang string
	// Direction is the base direction ("ltr" or "rtl"), if any.
	Direction string
}

// NewLiteral returns an xsd:string literal.
func NewLiteral(lexical string) Literal {
	return Literal{Lexical: lexical, Datatype: XSDString}
}

// NewLangLiteral returns a language-tagged string.
func NewLangLiteral(lexical, lang string) Literal {
	return Literal{Lexical: lexical, Datatype: RDFLangString, Lang: strings.ToLower(lang)}
}

// NewDirLangLiteral returns a language-tagged string with a base direction.
func NewDirLangLiteral(lexical, lang, direction string) Literal {
	if direction == "" {
		return NewLangLiteral(lexical, lang)
	}
	return Literal{Lexical: lexical, Datatype: RDFDirLangString, Lang: strings.ToLower(lang), Direction: strings.ToLower(direction)}
}

// NewTypedLiteral returns a literal with the given datatype.
func NewTypedLiteral(lexical string, datatype IRI) Literal {
	if datatype.Value == "" {
		datatype = XSDString
	}
	return Literal{Lexical: lexical, Datatype: datatype}
}

// Kind returns TermLiteral.
func (l Literal) Kind() TermKind { return TermLiteral }

// String returns the literal in N-Triples form.
func (l Literal) String() string {
	var b strings.Builder
	b.WriteByte('"')
	b.WriteString(EscapeString(l.Lexical))
	b.WriteByte('"')
	switch {
	case l.Lang != "":
		b.WriteByte('@')
		b.WriteString(l.Lang)
		if l.Direction != "" {
			b.WriteString("--")
			b.WriteString(l.Direction)
		}
	case l.Datatype.Value != "" && l.Datatype != XSDString:
		b.WriteString("^^")
		b.WriteString(l.Datatype.String())
	}
	return b.String()
}

// IsPlain reports whether the literal is a simple xsd:string.
func (l Literal) IsPlain() bool {
	return l.Lang == "" && (l.Datatype.Value == "" || l.Datatype == XSDString)
}

// TripleTerm is an RDF-star quoted triple term.
type TripleTerm struct {
	// S is the subject of the quoted triple.
	S Term
	// P is the predicate of the quoted triple.
	P IRI
	// O is the object of the quoted triple.
	O Term
}

// Kind returns TermTriple.
func (t TripleTerm) Kind() TermKind { return TermTriple }

// String returns the triple term in N-Triples 1.2 form.
func (t TripleTerm) String() string {
	return "<<( " + t.S.String() + " " + t.P.String() + " " + t.O.String() + " )>>"
}

// Triple returns the quoted triple.
func (t TripleTerm) Triple() Triple { return Triple{S: t.S, P: t.P, O: t.O} }

// DefaultGraphName is the type of the DefaultGraph marker.
type DefaultGraphName struct{}

// DefaultGraph names the default graph of a dataset. It is a value, never nil.
var DefaultGraph = DefaultGraphName{}

// Kind returns TermDefaultGraph.
func (DefaultGraphName) Kind() TermKind { return TermDefaultGraph }

// String returns "DEFAULT".
func (DefaultGraphName) String() string { return "DEFAULT" }

// IsDefaultGraph reports whether g is the default graph marker.
func IsDefaultGraph(g Term) bool {
	return g != nil && g.Kind() == TermDefaultGraph
}

// Canonical returns t with literal datatype and language normalized, applied
// recursively through triple terms.
func Canonical(t Term) Term {
	switch v := t.(type) {
	case Literal:
		if v.Lang != "" {
			return NewDirLangLiteral(v.Lexical, v.Lang, v.Direction)
		}
		return NewTypedLiteral(v.Lexical, v.Datatype)
	case *Literal:
		return Canonical(*v)
	case TripleTerm:
		return TripleTerm{S: Canonical(v.S), P: v.P, O: Canonical(v.O)}
	case *IRI:
		return *v
	case *BlankNode:
		return *v
	}
	return t
}

// Equal reports whether a and b are the same term. Nil equals only nil.
func Equal(a, b Term) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return Canonical(a) == Canonical(b)
}

// ValidSubject reports whether t may be a triple subject.
func ValidSubject(t Term) bool {
	if t == nil {
		return false
	}
	k := t.Kind()
	return k == TermIRI || k == TermBlankNode || k == TermTriple
}

// ValidObject reports whether t may be a triple object.
func ValidObject(t Term) bool {
	return t != nil && t.Kind() != TermDefaultGraph
}

// ValidGraphName reports whether t may name a graph.
func ValidGraphName(t Term) bool {
	if t == nil {
		return false
	}
	k := t.Kind()
	return k == TermIRI || k == TermBlankNode || k == TermDefaultGraph
}
