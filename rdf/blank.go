package rdf

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewBlankNode returns a blank node with a fresh random identifier.
func NewBlankNode() BlankNode {
	id := uuid.New()
	return BlankNode{ID: "b" + base58.Encode(id[:])}
}

// BlankNodeRenamer maps blank node labels of one document or request to
// fresh store-wide identifiers, consistently within its lifetime.
type BlankNodeRenamer struct {
	seen map[string]BlankNode
}

// NewBlankNodeRenamer returns an empty renamer.
func NewBlankNodeRenamer() *BlankNodeRenamer {
	return &BlankNodeRenamer{seen: make(map[string]BlankNode)}
}

// Rename returns the fresh node standing for label.
func (r *BlankNodeRenamer) Rename(label string) BlankNode {
	if b, ok := r.seen[label]; ok {
		return b
	}
	b := NewBlankNode()
	r.seen[label] = b
	return b
}

// Term renames the blank nodes inside t, including those nested in triple terms.
func (r *BlankNodeRenamer) Term(t Term) Term {
	switch v := t.(type) {
	case BlankNode:
		return r.Rename(v.ID)
	case TripleTerm:
		return TripleTerm{S: r.Term(v.S), P: v.P, O: r.Term(v.O)}
	}
	return t
}

// Quad renames every blank node of q.
func (r *BlankNodeRenamer) Quad(q Quad) Quad {
	return Quad{S: r.Term(q.S), P: q.P, O: r.Term(q.O), G: r.Term(q.G)}
}
