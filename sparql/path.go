package sparql

import (
	"github.com/teranos/quadstore/rdf"
)

type termPair [2]rdf.Term

func (e *evaluator) evalPath(v opPath, seed binding, g rdf.Term) (solutionIter, error) {
	s, o := resolve(v.s, seed), resolve(v.o, seed)
	pairs, err := e.pathPairs(v.path, s, o, g)
	if err != nil {
		return nil, err
	}
	rows := make([]binding, 0, len(pairs))
	for _, pair := range pairs {
		row := seed.clone()
		if unify(v.s, pair[0], row) && unify(v.o, pair[1], row) {
			rows = append(rows, row)
		}
	}
	return newSliceIter(rows...), nil
}

// pathPairs returns the (start, end) pairs connected by p in graph g. A
// nil s or o is unconstrained.
func (e *evaluator) pathPairs(p path, s, o rdf.Term, g rdf.Term) ([]termPair, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch v := p.(type) {
	case pathLink:
		return e.linkPairs(s, v.iri, o, g)
	case pathInverse:
		pairs, err := e.pathPairs(v.sub, o, s, g)
		if err != nil {
			return nil, err
		}
		for i, pair := range pairs {
			pairs[i] = termPair{pair[1], pair[0]}
		}
		return pairs, nil
	case pathSequence:
		return e.sequencePairs(v, s, o, g)
	case pathAlternative:
		left, err := e.pathPairs(v.left, s, o, g)
		if err != nil {
			return nil, err
		}
		right, err := e.pathPairs(v.right, s, o, g)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case pathZeroOrOne:
		return e.zeroOrOnePairs(v.sub, s, o, g)
	case pathZeroOrMore:
		return e.closurePairs(v.sub, s, o, g, true)
	case pathOneOrMore:
		return e.closurePairs(v.sub, s, o, g, false)
	case pathNegated:
		return e.negatedPairs(v, s, o, g)
	}
	return nil, nil
}

func (e *evaluator) linkPairs(s rdf.Term, p rdf.IRI, o rdf.Term, g rdf.Term) ([]termPair, error) {
	if s != nil && !rdf.ValidSubject(s) {
		return nil, nil
	}
	quads, err := e.ds.match(e.ctx, g, s, p, o)
	if err != nil {
		return nil, err
	}
	all, err := rdf.Collect(quads)
	if err != nil {
		return nil, err
	}
	pairs := make([]termPair, len(all))
	for i, q := range all {
		pairs[i] = termPair{q.S, q.O}
	}
	return pairs, nil
}

func (e *evaluator) sequencePairs(v pathSequence, s, o rdf.Term, g rdf.Term) ([]termPair, error) {
	var out []termPair
	if s == nil && o != nil {
		right, err := e.pathPairs(v.right, nil, o, g)
		if err != nil {
			return nil, err
		}
		for _, r := range right {
			left, err := e.pathPairs(v.left, nil, r[0], g)
			if err != nil {
				return nil, err
			}
			for _, l := range left {
				out = append(out, termPair{l[0], r[1]})
			}
		}
		return out, nil
	}
	left, err := e.pathPairs(v.left, s, nil, g)
	if err != nil {
		return nil, err
	}
	// Midpoints repeat across left pairs; evaluate each once
	cache := make(map[string][]termPair)
	for _, l := range left {
		k := l[1].String()
		right, ok := cache[k]
		if !ok {
			if right, err = e.pathPairs(v.right, l[1], o, g); err != nil {
				return nil, err
			}
			cache[k] = right
		}
		for _, r := range right {
			out = append(out, termPair{l[0], r[1]})
		}
	}
	return out, nil
}

func (e *evaluator) zeroOrOnePairs(p path, s, o rdf.Term, g rdf.Term) ([]termPair, error) {
	seen := make(map[string]bool)
	var out []termPair
	add := func(pair termPair) {
		k := pair[0].String() + " " + pair[1].String()
		if !seen[k] {
			seen[k] = true
			out = append(out, pair)
		}
	}
	zero, err := e.zeroPairs(s, o, g)
	if err != nil {
		return nil, err
	}
	for _, pair := range zero {
		add(pair)
	}
	one, err := e.pathPairs(p, s, o, g)
	if err != nil {
		return nil, err
	}
	for _, pair := range one {
		add(pair)
	}
	return out, nil
}

// zeroPairs are the zero-length matches: a bound end connects to itself,
// otherwise every node of the graph does.
func (e *evaluator) zeroPairs(s, o rdf.Term, g rdf.Term) ([]termPair, error) {
	switch {
	case s != nil && o != nil:
		if rdf.Equal(s, o) {
			return []termPair{{s, o}}, nil
		}
		return nil, nil
	case s != nil:
		return []termPair{{s, s}}, nil
	case o != nil:
		return []termPair{{o, o}}, nil
	}
	nodes, err := e.graphNodes(g)
	if err != nil {
		return nil, err
	}
	out := make([]termPair, len(nodes))
	for i, n := range nodes {
		out[i] = termPair{n, n}
	}
	return out, nil
}

func (e *evaluator) closurePairs(p path, s, o rdf.Term, g rdf.Term, zero bool) ([]termPair, error) {
	switch {
	case s != nil:
		reached, err := e.reach(p, s, g, zero)
		if err != nil {
			return nil, err
		}
		var out []termPair
		for _, r := range reached {
			if o == nil || rdf.Equal(o, r) {
				out = append(out, termPair{s, r})
			}
		}
		return out, nil
	case o != nil:
		reached, err := e.reach(pathInverse{sub: p}, o, g, zero)
		if err != nil {
			return nil, err
		}
		out := make([]termPair, len(reached))
		for i, r := range reached {
			out[i] = termPair{r, o}
		}
		return out, nil
	}
	nodes, err := e.graphNodes(g)
	if err != nil {
		return nil, err
	}
	var out []termPair
	for _, n := range nodes {
		reached, err := e.reach(p, n, g, zero)
		if err != nil {
			return nil, err
		}
		for _, r := range reached {
			out = append(out, termPair{n, r})
		}
	}
	return out, nil
}

// reach walks p breadth first from start and returns every node reached,
// start included when zero is set.
func (e *evaluator) reach(p path, start rdf.Term, g rdf.Term, zero bool) ([]rdf.Term, error) {
	var out []rdf.Term
	inResult := make(map[string]bool)
	expanded := map[string]bool{start.String(): true}
	if zero {
		out = append(out, start)
		inResult[start.String()] = true
	}
	queue := []rdf.Term{start}
	for len(queue) > 0 {
		if err := e.ctx.Err(); err != nil {
			return nil, err
		}
		n := queue[0]
		queue = queue[1:]
		step, err := e.pathPairs(p, n, nil, g)
		if err != nil {
			return nil, err
		}
		for _, pair := range step {
			m := pair[1]
			k := m.String()
			if !inResult[k] {
				inResult[k] = true
				out = append(out, m)
			}
			if !expanded[k] {
				expanded[k] = true
				queue = append(queue, m)
			}
		}
	}
	return out, nil
}

func (e *evaluator) negatedPairs(v pathNegated, s, o rdf.Term, g rdf.Term) ([]termPair, error) {
	excluded := func(set []rdf.IRI, p rdf.IRI) bool {
		for _, x := range set {
			if x == p {
				return true
			}
		}
		return false
	}
	var out []termPair
	forward := len(v.forward) > 0 || len(v.inverse) == 0
	if forward && (s == nil || rdf.ValidSubject(s)) {
		quads, err := e.ds.match(e.ctx, g, s, nil, o)
		if err != nil {
			return nil, err
		}
		all, err := rdf.Collect(quads)
		if err != nil {
			return nil, err
		}
		for _, q := range all {
			if !excluded(v.forward, q.P) {
				out = append(out, termPair{q.S, q.O})
			}
		}
	}
	if len(v.inverse) > 0 && (o == nil || rdf.ValidSubject(o)) {
		quads, err := e.ds.match(e.ctx, g, o, nil, s)
		if err != nil {
			return nil, err
		}
		all, err := rdf.Collect(quads)
		if err != nil {
			return nil, err
		}
		for _, q := range all {
			if !excluded(v.inverse, q.P) {
				out = append(out, termPair{q.O, q.S})
			}
		}
	}
	return out, nil
}

// graphNodes lists the distinct subjects and objects of graph g.
func (e *evaluator) graphNodes(g rdf.Term) ([]rdf.Term, error) {
	quads, err := e.ds.match(e.ctx, g, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	all, err := rdf.Collect(quads)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []rdf.Term
	for _, q := range all {
		for _, t := range []rdf.Term{q.S, q.O} {
			if k := t.String(); !seen[k] {
				seen[k] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}
