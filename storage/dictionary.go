package storage

import (
	"context"
	"database/sql"

	"github.com/cespare/xxhash/v2"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

// defaultGraphID is the reserved id of the default graph. It never appears
// in the terms table.
const defaultGraphID int64 = 0

const termColumns = "id, kind, value, datatype, lang, direction, subject_id, predicate_id, object_id"

// termHash buckets terms by their canonical N-Triples form. Collisions are
// resolved by comparing the stored columns.
func termHash(t rdf.Term) int64 {
	return int64(xxhash.Sum64String(t.String()))
}

// termRow is one row of the terms table.
type termRow struct {
	id        int64
	kind      rdf.TermKind
	value     string
	datatype  string
	lang      string
	direction string
	subject   sql.NullInt64
	predicate sql.NullInt64
	object    sql.NullInt64
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTermRow(sc scanner) (termRow, error) {
	var r termRow
	var kind int64
	err := sc.Scan(&r.id, &kind, &r.value, &r.datatype, &r.lang, &r.direction, &r.subject, &r.predicate, &r.object)
	r.kind = rdf.TermKind(kind)
	return r, err
}

// sameTerm compares the identifying columns, ignoring the id.
func (r termRow) sameTerm(o termRow) bool {
	return r.kind == o.kind &&
		r.value == o.value &&
		r.datatype == o.datatype &&
		r.lang == o.lang &&
		r.direction == o.direction &&
		r.subject == o.subject &&
		r.predicate == o.predicate &&
		r.object == o.object
}

// encodeTerm fills the columns of a non-triple term.
func encodeTerm(t rdf.Term) (termRow, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return termRow{kind: rdf.TermIRI, value: v.Value}, nil
	case rdf.BlankNode:
		return termRow{kind: rdf.TermBlankNode, value: v.ID}, nil
	case rdf.Literal:
		return termRow{kind: rdf.TermLiteral, value: v.Lexical, datatype: v.Datatype.Value, lang: v.Lang, direction: v.Direction}, nil
	}
	return termRow{}, errors.NewConstraintError("cannot store term of kind %s", t.Kind())
}

func nullID(id int64) sql.NullInt64 { return sql.NullInt64{Int64: id, Valid: true} }

// tripleRow resolves the component ids of a triple term. intern controls
// whether missing components are created.
func (v *view) tripleRow(ctx context.Context, t rdf.TripleTerm, intern bool) (termRow, bool, error) {
	ids := make([]int64, 3)
	for i, part := range []rdf.Term{t.S, t.P, t.O} {
		var id int64
		var err error
		found := true
		if intern {
			id, err = v.intern(ctx, part)
		} else {
			id, found, err = v.lookupID(ctx, part)
		}
		if err != nil || !found {
			return termRow{}, false, err
		}
		ids[i] = id
	}
	return termRow{kind: rdf.TermTriple, subject: nullID(ids[0]), predicate: nullID(ids[1]), object: nullID(ids[2])}, true, nil
}

// lookupID returns the id of t without creating it.
func (v *view) lookupID(ctx context.Context, t rdf.Term) (int64, bool, error) {
	if t == nil {
		return 0, false, errors.AssertionFailedf("lookup of nil term")
	}
	if rdf.IsDefaultGraph(t) {
		return defaultGraphID, true, nil
	}
	t = rdf.Canonical(t)

	var want termRow
	if tt, ok := t.(rdf.TripleTerm); ok {
		row, found, err := v.tripleRow(ctx, tt, false)
		if err != nil || !found {
			return 0, false, err
		}
		want = row
	} else {
		row, err := encodeTerm(t)
		if err != nil {
			return 0, false, err
		}
		want = row
	}
	return v.findRow(ctx, termHash(t), want)
}

func (v *view) findRow(ctx context.Context, hash int64, want termRow) (int64, bool, error) {
	rows, err := v.tx.QueryContext(ctx, "SELECT "+termColumns+" FROM terms WHERE hash = ?", hash)
	if err != nil {
		return 0, false, wrapSQL(err, "failed to look up term")
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanTermRow(rows)
		if err != nil {
			return 0, false, wrapSQL(err, "failed to scan term")
		}
		if r.sameTerm(want) {
			return r.id, true, nil
		}
	}
	return 0, false, wrapSQL(rows.Err(), "failed to look up term")
}

// intern returns the id of t, inserting it when new. Only write
// transactions intern.
func (v *view) intern(ctx context.Context, t rdf.Term) (int64, error) {
	if !v.writable {
		return 0, errors.AssertionFailedf("intern on a read-only view")
	}
	if rdf.IsDefaultGraph(t) {
		return defaultGraphID, nil
	}
	t = rdf.Canonical(t)
	hash := termHash(t)

	var row termRow
	if tt, ok := t.(rdf.TripleTerm); ok {
		r, _, err := v.tripleRow(ctx, tt, true)
		if err != nil {
			return 0, err
		}
		row = r
	} else {
		r, err := encodeTerm(t)
		if err != nil {
			return 0, err
		}
		row = r
	}

	id, found, err := v.findRow(ctx, hash, row)
	if err != nil || found {
		return id, err
	}

	res, err := v.tx.ExecContext(ctx,
		`INSERT INTO terms (hash, kind, value, datatype, lang, direction, subject_id, predicate_id, object_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, int64(row.kind), row.value, row.datatype, row.lang, row.direction, row.subject, row.predicate, row.object)
	if err != nil {
		return 0, wrapSQL(err, "failed to insert term")
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, wrapSQL(err, "failed to read term id")
	}
	v.fresh[id] = t
	return id, nil
}

// term decodes id. Ids created by the enclosing transaction are served from
// its pending set so an aborted transaction never pollutes the shared cache.
func (v *view) term(ctx context.Context, id int64) (rdf.Term, error) {
	if id == defaultGraphID {
		return rdf.DefaultGraph, nil
	}
	if t, ok := v.fresh[id]; ok {
		return t, nil
	}
	if t, ok := v.st.terms.Get(id); ok {
		return t, nil
	}

	r, err := scanTermRow(v.tx.QueryRowContext(ctx, "SELECT "+termColumns+" FROM terms WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, errors.NewCorruptionError("term %d is referenced but missing from the dictionary", id)
	}
	if err != nil {
		return nil, wrapSQL(err, "failed to read term")
	}

	t, err := v.decodeRow(ctx, r)
	if err != nil {
		return nil, err
	}
	v.st.terms.Add(id, t)
	return t, nil
}

func (v *view) decodeRow(ctx context.Context, r termRow) (rdf.Term, error) {
	switch r.kind {
	case rdf.TermIRI:
		return rdf.NewIRI(r.value), nil
	case rdf.TermBlankNode:
		return rdf.BlankNode{ID: r.value}, nil
	case rdf.TermLiteral:
		if r.lang != "" {
			return rdf.NewDirLangLiteral(r.value, r.lang, r.direction), nil
		}
		return rdf.NewTypedLiteral(r.value, rdf.NewIRI(r.datatype)), nil
	case rdf.TermTriple:
		if !r.subject.Valid || !r.predicate.Valid || !r.object.Valid {
			return nil, errors.NewCorruptionError("triple term %d has missing components", r.id)
		}
		s, err := v.term(ctx, r.subject.Int64)
		if err != nil {
			return nil, err
		}
		p, err := v.predicate(ctx, r.predicate.Int64)
		if err != nil {
			return nil, err
		}
		o, err := v.term(ctx, r.object.Int64)
		if err != nil {
			return nil, err
		}
		return rdf.TripleTerm{S: s, P: p, O: o}, nil
	}
	return nil, errors.NewCorruptionError("term %d has unknown kind %d", r.id, r.kind)
}

func (v *view) predicate(ctx context.Context, id int64) (rdf.IRI, error) {
	t, err := v.term(ctx, id)
	if err != nil {
		return rdf.IRI{}, err
	}
	iri, ok := t.(rdf.IRI)
	if !ok {
		return rdf.IRI{}, errors.NewCorruptionError("predicate id %d decodes to a %s", id, t.Kind())
	}
	return iri, nil
}
