package sparql

import (
	"sort"
	"strings"

	"github.com/teranos/quadstore/rdf"
)

// binding maps variable names to terms. A binding is never mutated once
// another iterator can see it; extend and merge copy.
type binding map[string]rdf.Term

func (b binding) clone() binding {
	out := make(binding, len(b)+2)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (b binding) extend(name string, t rdf.Term) binding {
	out := b.clone()
	out[name] = t
	return out
}

// merge joins two compatible bindings; ok is false when a shared variable
// disagrees.
func merge(a, b binding) (binding, bool) {
	if len(a) < len(b) {
		a, b = b, a
	}
	for k, v := range b {
		if w, ok := a[k]; ok && !rdf.Equal(v, w) {
			return nil, false
		}
	}
	out := a.clone()
	for k, v := range b {
		out[k] = v
	}
	return out, true
}

// sharesVariable reports whether a and b bind at least one common variable.
func sharesVariable(a, b binding) bool {
	for k := range b {
		if _, ok := a[k]; ok {
			return true
		}
	}
	return false
}

// key is a canonical string of the visible bindings, for DISTINCT and
// grouping.
func (b binding) key() string {
	names := make([]string, 0, len(b))
	for k := range b {
		if !isHidden(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, k := range names {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b[k].String())
		sb.WriteByte(0)
	}
	return sb.String()
}

// solutionIter is a pull-based sequence of bindings. next returns nil at
// the end.
type solutionIter interface {
	next() (binding, error)
	close()
}

type sliceIter struct {
	rows []binding
	pos  int
}

func newSliceIter(rows ...binding) *sliceIter { return &sliceIter{rows: rows} }

func (it *sliceIter) next() (binding, error) {
	if it.pos >= len(it.rows) {
		return nil, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *sliceIter) close() {}

type funcIter struct {
	nextFn  func() (binding, error)
	closeFn func()
}

func (it *funcIter) next() (binding, error) { return it.nextFn() }

func (it *funcIter) close() {
	if it.closeFn != nil {
		it.closeFn()
		it.closeFn = nil
	}
}

var emptyIter = newSliceIter()

// flatMap feeds every row of src to fn and concatenates the results.
func flatMap(src solutionIter, fn func(binding) (solutionIter, error)) solutionIter {
	var cur solutionIter
	return &funcIter{
		nextFn: func() (binding, error) {
			for {
				if cur != nil {
					row, err := cur.next()
					if err != nil || row != nil {
						return row, err
					}
					cur.close()
					cur = nil
				}
				row, err := src.next()
				if err != nil || row == nil {
					return nil, err
				}
				if cur, err = fn(row); err != nil {
					return nil, err
				}
			}
		},
		closeFn: func() {
			if cur != nil {
				cur.close()
			}
			src.close()
		},
	}
}

// filterIter keeps the rows for which keep returns true.
func filterIter(src solutionIter, keep func(binding) (bool, error)) solutionIter {
	return &funcIter{
		nextFn: func() (binding, error) {
			for {
				row, err := src.next()
				if err != nil || row == nil {
					return nil, err
				}
				ok, err := keep(row)
				if err != nil {
					return nil, err
				}
				if ok {
					return row, nil
				}
			}
		},
		closeFn: src.close,
	}
}

func mapIter(src solutionIter, fn func(binding) (binding, error)) solutionIter {
	return &funcIter{
		nextFn: func() (binding, error) {
			row, err := src.next()
			if err != nil || row == nil {
				return nil, err
			}
			return fn(row)
		},
		closeFn: src.close,
	}
}

// concatIter evaluates each part lazily, one after the other.
func concatIter(parts ...func() (solutionIter, error)) solutionIter {
	var cur solutionIter
	i := 0
	return &funcIter{
		nextFn: func() (binding, error) {
			for {
				if cur == nil {
					if i >= len(parts) {
						return nil, nil
					}
					var err error
					if cur, err = parts[i](); err != nil {
						return nil, err
					}
					i++
				}
				row, err := cur.next()
				if err != nil || row != nil {
					return row, err
				}
				cur.close()
				cur = nil
			}
		},
		closeFn: func() {
			if cur != nil {
				cur.close()
			}
		},
	}
}

// mergeIter joins every row of src with seed, dropping incompatible rows.
func mergeIter(src solutionIter, seed binding) solutionIter {
	return &funcIter{
		nextFn: func() (binding, error) {
			for {
				row, err := src.next()
				if err != nil || row == nil {
					return nil, err
				}
				if merged, ok := merge(seed, row); ok {
					return merged, nil
				}
			}
		},
		closeFn: src.close,
	}
}

func collect(it solutionIter) ([]binding, error) {
	defer it.close()
	var rows []binding
	for {
		row, err := it.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
