package sparql

import (
	"context"

	"github.com/teranos/quadstore/rdf"
)

// QueryResults is one of Boolean, *Solutions or *Triples.
type QueryResults interface {
	isQueryResults()
}

// Boolean is the result of an ASK query.
type Boolean bool

// Solution is one row of a SELECT result.
type Solution struct {
	vars   []string
	values []rdf.Term
}

// Get returns the value bound to the named variable, or nil.
func (s Solution) Get(name string) rdf.Term {
	for i, v := range s.vars {
		if v == name {
			return s.values[i]
		}
	}
	return nil
}

// Value returns the value bound to v, or nil.
func (s Solution) Value(v Variable) rdf.Term { return s.Get(v.Name) }

// At returns the value in column i, or nil when i is out of range or the
// variable is unbound.
func (s Solution) At(i int) rdf.Term {
	if i < 0 || i >= len(s.values) {
		return nil
	}
	return s.values[i]
}

// Len returns the number of columns.
func (s Solution) Len() int { return len(s.values) }

// Variables returns the column names.
func (s Solution) Variables() []string { return s.vars }

// Solutions is a single-pass sequence of SELECT solutions.
//
//	for sols.Next() {
//	    name := sols.Solution().Get("name")
//	}
//	if err := sols.Err(); err != nil { ... }
type Solutions struct {
	ctx     context.Context
	vars    []string
	it      solutionIter
	cur     Solution
	err     error
	done    bool
	onClose []func(error)
}

func newSolutions(ctx context.Context, vars []string, it solutionIter) *Solutions {
	return &Solutions{ctx: ctx, vars: vars, it: it}
}

// NewSolutions builds a sequence from materialized rows, for callers that
// produce results outside the evaluator. Rows align with vars; nil is
// unbound.
func NewSolutions(vars []string, rows [][]rdf.Term) *Solutions {
	bindings := make([]binding, len(rows))
	for i, r := range rows {
		b := make(binding, len(vars))
		for j, name := range vars {
			if j < len(r) && r[j] != nil {
				b[name] = r[j]
			}
		}
		bindings[i] = b
	}
	return newSolutions(context.Background(), vars, newSliceIter(bindings...))
}

// Variables returns the result columns in projection order.
func (s *Solutions) Variables() []string { return s.vars }

// Next advances to the next solution. It returns false at the end, on
// error and once the context is cancelled.
func (s *Solutions) Next() bool {
	if s.done {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.finish(err)
		return false
	}
	row, err := s.it.next()
	if err != nil || row == nil {
		s.finish(err)
		return false
	}
	values := make([]rdf.Term, len(s.vars))
	for i, name := range s.vars {
		values[i] = row[name]
	}
	s.cur = Solution{vars: s.vars, values: values}
	return true
}

// Solution returns the current solution.
func (s *Solutions) Solution() Solution { return s.cur }

// Err returns the error that stopped the sequence, if any.
func (s *Solutions) Err() error { return s.err }

// Close releases the sequence early. It is safe to call more than once.
func (s *Solutions) Close() error {
	s.finish(nil)
	return nil
}

// OnClose registers fn to run once the sequence ends or is closed; it
// receives the terminal error.
func (s *Solutions) OnClose(fn func(error)) {
	if s.done {
		fn(s.err)
		return
	}
	s.onClose = append(s.onClose, fn)
}

// All drains the sequence.
func (s *Solutions) All() ([]Solution, error) {
	defer s.Close()
	var out []Solution
	for s.Next() {
		out = append(out, s.cur)
	}
	return out, s.Err()
}

func (s *Solutions) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.it.close()
	for _, fn := range s.onClose {
		fn(err)
	}
	s.onClose = nil
}

// Triples is a lazy sequence of CONSTRUCT or DESCRIBE triples. It is not
// deduplicated.
type Triples struct {
	ctx     context.Context
	it      solutionIter
	expand  func(binding) ([]rdf.Triple, error)
	pending []rdf.Triple
	cur     rdf.Triple
	err     error
	done    bool
	onClose []func(error)
}

func newTriples(ctx context.Context, it solutionIter, expand func(binding) ([]rdf.Triple, error)) *Triples {
	return &Triples{ctx: ctx, it: it, expand: expand}
}

// Next advances to the next triple.
func (t *Triples) Next() bool {
	for !t.done {
		if err := t.ctx.Err(); err != nil {
			t.finish(err)
			return false
		}
		if len(t.pending) > 0 {
			t.cur, t.pending = t.pending[0], t.pending[1:]
			return true
		}
		row, err := t.it.next()
		if err != nil || row == nil {
			t.finish(err)
			return false
		}
		if t.pending, err = t.expand(row); err != nil {
			t.finish(err)
			return false
		}
	}
	return false
}

// Triple returns the current triple.
func (t *Triples) Triple() rdf.Triple { return t.cur }

// Err returns the error that stopped the sequence, if any.
func (t *Triples) Err() error { return t.err }

// Close releases the sequence early.
func (t *Triples) Close() error {
	t.finish(nil)
	return nil
}

// OnClose registers fn to run once the sequence ends or is closed.
func (t *Triples) OnClose(fn func(error)) {
	if t.done {
		fn(t.err)
		return
	}
	t.onClose = append(t.onClose, fn)
}

// All drains the sequence.
func (t *Triples) All() ([]rdf.Triple, error) {
	defer t.Close()
	var out []rdf.Triple
	for t.Next() {
		out = append(out, t.cur)
	}
	return out, t.Err()
}

func (t *Triples) finish(err error) {
	if t.done {
		return
	}
	t.done = true
	t.err = err
	t.it.close()
	for _, fn := range t.onClose {
		fn(err)
	}
	t.onClose = nil
}

func (Boolean) isQueryResults()    {}
func (*Solutions) isQueryResults() {}
func (*Triples) isQueryResults()   {}
