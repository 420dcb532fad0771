package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermString(t *testing.T) {
	tests := []struct {
		name string
		term Term
		want string
	}{
		{"iri", NewIRI("http://example.com/s"), "<http://example.com/s>"},
		{"iri with space", NewIRI("http://example.com/a b"), `<http://example.com/a\u0020b>`},
		{"blank", BlankNode{ID: "b0"}, "_:b0"},
		{"plain", NewLiteral("hello"), `"hello"`},
		{"escaped", NewLiteral("say \"hi\"\n"), `"say \"hi\"\n"`},
		{"lang", NewLangLiteral("chat", "FR"), `"chat"@fr`},
		{"dir lang", NewDirLangLiteral("salam", "ar", "RTL"), `"salam"@ar--rtl`},
		{"typed", NewTypedLiteral("1", XSDInteger), `"1"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"triple", TripleTerm{S: NewIRI("s"), P: NewIRI("p"), O: NewLiteral("o")}, `<<( <s> <p> "o" )>>`},
		{"default graph", DefaultGraph, "DEFAULT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.term.String())
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Literal{Lexical: "x"}, NewLiteral("x")))
	assert.True(t, Equal(Literal{Lexical: "x", Lang: "EN"}, NewLangLiteral("x", "en")))
	assert.False(t, Equal(NewLiteral("1"), NewTypedLiteral("1", XSDInteger)))
	assert.False(t, Equal(NewIRI("x"), BlankNode{ID: "x"}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(NewIRI("x"), nil))

	nested := TripleTerm{S: NewIRI("s"), P: NewIRI("p"), O: TripleTerm{S: NewIRI("a"), P: NewIRI("b"), O: Literal{Lexical: "c"}}}
	same := TripleTerm{S: NewIRI("s"), P: NewIRI("p"), O: TripleTerm{S: NewIRI("a"), P: NewIRI("b"), O: NewLiteral("c")}}
	assert.True(t, Equal(nested, same))
}

func TestQuadValidate(t *testing.T) {
	s, p, o := NewIRI("http://s"), NewIRI("http://p"), NewLiteral("o")

	require.NoError(t, NewQuad(s, p, o, nil).Validate())
	require.NoError(t, NewQuad(BlankNode{ID: "x"}, p, o, NewIRI("http://g")).Validate())
	require.NoError(t, NewQuad(TripleTerm{S: s, P: p, O: o}, p, o, nil).Validate())

	var iq *InvalidQuadError
	err := NewQuad(o, p, o, nil).Validate()
	require.ErrorAs(t, err, &iq)
	assert.Equal(t, "subject", iq.Position)

	err = NewQuad(s, p, o, NewLiteral("g")).Validate()
	require.ErrorAs(t, err, &iq)
	assert.Equal(t, "graph name", iq.Position)

	err = NewQuad(s, p, TripleTerm{S: o, P: p, O: o}, nil).Validate()
	require.ErrorAs(t, err, &iq)
	assert.Equal(t, "subject", iq.Position)
}

func TestQuadPatternMatches(t *testing.T) {
	g := NewIRI("http://g")
	inDefault := NewQuad(NewIRI("s"), NewIRI("p"), NewLiteral("o"), nil)
	inNamed := NewQuad(NewIRI("s"), NewIRI("p"), NewLiteral("o"), g)

	assert.True(t, QuadPattern{}.Matches(inDefault))
	assert.True(t, QuadPattern{G: DefaultGraph}.Matches(inDefault))
	assert.False(t, QuadPattern{G: DefaultGraph}.Matches(inNamed))
	assert.False(t, QuadPattern{NamedGraphsOnly: true}.Matches(inDefault))
	assert.True(t, QuadPattern{NamedGraphsOnly: true, O: NewLiteral("o")}.Matches(inNamed))
	assert.False(t, QuadPattern{P: NewIRI("q")}.Matches(inNamed))
}

func TestBlankNodeRenamer(t *testing.T) {
	r := NewBlankNodeRenamer()
	a1 := r.Rename("a")
	a2 := r.Rename("a")
	b := r.Rename("b")

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.NotEqual(t, "a", a1.ID)

	q := r.Quad(NewQuad(BlankNode{ID: "a"}, NewIRI("p"), TripleTerm{S: BlankNode{ID: "b"}, P: NewIRI("p"), O: NewLiteral("x")}, nil))
	assert.Equal(t, a1, q.S)
	assert.Equal(t, b, q.O.(TripleTerm).S)
	assert.Equal(t, DefaultGraph, q.G)
}

func TestResolveIRI(t *testing.T) {
	got, err := ResolveIRI("http://example.com/a/b", "../c")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/c", got)

	got, err = ResolveIRI("http://example.com/", "urn:x:y")
	require.NoError(t, err)
	assert.Equal(t, "urn:x:y", got)

	got, err = ResolveIRI("", "relative")
	require.NoError(t, err)
	assert.Equal(t, "relative", got)

	assert.True(t, IsAbsoluteIRI("http://x"))
	assert.False(t, IsAbsoluteIRI("1http://x"))
	assert.False(t, IsAbsoluteIRI("#frag"))
}

func TestSliceIterator(t *testing.T) {
	q := NewQuad(NewIRI("s"), NewIRI("p"), NewIRI("o"), nil)
	quads, err := Collect(NewSliceIterator([]Quad{q, q}))
	require.NoError(t, err)
	assert.Len(t, quads, 2)

	quads, err = Collect(NewSliceIterator(nil))
	require.NoError(t, err)
	assert.Empty(t, quads)
}
