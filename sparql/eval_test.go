package sparql

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/rdfio"
	"github.com/teranos/quadstore/storage"
	"github.com/teranos/quadstore/storage/testutil"
)

const xsd = "http://www.w3.org/2001/XMLSchema#"

const peopleData = `
<http://ex/a> <http://ex/name> "Alice" .
<http://ex/a> <http://ex/email> "a@ex" .
<http://ex/a> <http://ex/age> "30"^^<http://www.w3.org/2001/XMLSchema#integer> .
<http://ex/b> <http://ex/name> "Bob" .
<http://ex/b> <http://ex/age> "40"^^<http://www.w3.org/2001/XMLSchema#integer> .
<http://ex/a> <http://ex/knows> <http://ex/b> .
<http://ex/b> <http://ex/knows> <http://ex/c> .
`

const graphData = `
<http://ex/c> <http://ex/p> "0" .
<http://ex/a> <http://ex/p> "1" <http://ex/g1> .
<http://ex/b> <http://ex/p> "2" <http://ex/g2> .
`

func loadStore(t *testing.T, nquads string) *storage.Storage {
	t.Helper()
	st := testutil.SetupTestStorage(t)
	quads, err := rdfio.ReadAll(rdfio.NQuads, strings.NewReader(nquads), rdfio.DecoderOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, func(tx *storage.Transaction) error {
		for _, q := range quads {
			if _, err := tx.Insert(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}))
	return st
}

func evaluate(t *testing.T, st *storage.Storage, text string, opts Options) (QueryResults, error) {
	t.Helper()
	q, err := ParseQuery(text, "")
	require.NoError(t, err)
	ctx := context.Background()
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return Evaluate(ctx, snap, q, opts)
}

// selectRows runs a SELECT and renders each solution as variable -> term
// in N-Triples form, leaving unbound variables out.
func selectRows(t *testing.T, st *storage.Storage, text string, opts Options) []map[string]string {
	t.Helper()
	res, err := evaluate(t, st, text, opts)
	require.NoError(t, err)
	sols, ok := res.(*Solutions)
	require.True(t, ok, "expected solutions, got %T", res)
	all, err := sols.All()
	require.NoError(t, err)
	rows := make([]map[string]string, 0, len(all))
	for _, s := range all {
		row := make(map[string]string)
		for i, name := range s.Variables() {
			if v := s.At(i); v != nil {
				row[name] = v.String()
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func column(rows []map[string]string, name string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[name]
	}
	return out
}

func typed(lex, dt string) string {
	return `"` + lex + `"^^<` + xsd + dt + `>`
}

func TestSelect_BasicPatternAndOrder(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `SELECT ?n WHERE { ?s <http://ex/name> ?n } ORDER BY ?n`, Options{})
	assert.Equal(t, []string{`"Alice"`, `"Bob"`}, column(rows, "n"))

	rows = selectRows(t, st, `PREFIX ex: <http://ex/>
		SELECT ?n WHERE { ?s ex:name ?n } ORDER BY DESC(?n) LIMIT 1`, Options{})
	assert.Equal(t, []string{`"Bob"`}, column(rows, "n"))
}

func TestSelect_Optional(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `
		SELECT ?n ?e WHERE {
			?s <http://ex/name> ?n
			OPTIONAL { ?s <http://ex/email> ?e }
		} ORDER BY ?n`, Options{})
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"n": `"Alice"`, "e": `"a@ex"`}, rows[0])
	assert.Equal(t, map[string]string{"n": `"Bob"`}, rows[1])
}

func TestSelect_UnionMinusExists(t *testing.T) {
	st := loadStore(t, peopleData)

	rows := selectRows(t, st, `SELECT ?x WHERE {
		{ <http://ex/a> <http://ex/name> ?x } UNION { <http://ex/b> <http://ex/name> ?x }
	} ORDER BY ?x`, Options{})
	assert.Equal(t, []string{`"Alice"`, `"Bob"`}, column(rows, "x"))

	rows = selectRows(t, st, `SELECT ?s WHERE {
		?s <http://ex/name> ?n MINUS { ?s <http://ex/email> ?e }
	}`, Options{})
	assert.Equal(t, []string{"<http://ex/b>"}, column(rows, "s"))

	rows = selectRows(t, st, `SELECT ?s WHERE {
		?s <http://ex/name> ?n FILTER NOT EXISTS { ?s <http://ex/email> ?e }
	}`, Options{})
	assert.Equal(t, []string{"<http://ex/b>"}, column(rows, "s"))

	rows = selectRows(t, st, `SELECT ?s WHERE {
		?s <http://ex/name> ?n FILTER EXISTS { ?s <http://ex/email> ?e }
	}`, Options{})
	assert.Equal(t, []string{"<http://ex/a>"}, column(rows, "s"))
}

func TestSelect_ValuesAndBind(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `SELECT ?s ?n ?upper WHERE {
		VALUES ?s { <http://ex/a> }
		?s <http://ex/name> ?n
		BIND(UCASE(?n) AS ?upper)
	}`, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, `"ALICE"`, rows[0]["upper"])

	rows = selectRows(t, st, `SELECT ?n WHERE { ?s <http://ex/name> ?n } VALUES ?n { "Bob" }`, Options{})
	assert.Equal(t, []string{`"Bob"`}, column(rows, "n"))
}

func TestSelect_PropertyPaths(t *testing.T) {
	st := loadStore(t, peopleData)
	cases := []struct {
		query string
		want  []string
	}{
		{`SELECT ?x WHERE { <http://ex/a> <http://ex/knows>+ ?x } ORDER BY ?x`, []string{"<http://ex/b>", "<http://ex/c>"}},
		{`SELECT ?x WHERE { <http://ex/a> <http://ex/knows>* ?x } ORDER BY ?x`, []string{"<http://ex/a>", "<http://ex/b>", "<http://ex/c>"}},
		{`SELECT ?x WHERE { <http://ex/a> <http://ex/knows>/<http://ex/knows> ?x }`, []string{"<http://ex/c>"}},
		{`SELECT ?x WHERE { ?x ^<http://ex/knows> <http://ex/b> }`, []string{"<http://ex/c>"}},
		{`SELECT ?x WHERE { ?x <http://ex/knows>+ <http://ex/c> } ORDER BY ?x`, []string{"<http://ex/a>", "<http://ex/b>"}},
		{`SELECT ?x WHERE { <http://ex/a> <http://ex/knows>? ?x } ORDER BY ?x`, []string{"<http://ex/a>", "<http://ex/b>"}},
		{`SELECT ?x WHERE { <http://ex/b> (<http://ex/name>|<http://ex/knows>) ?x } ORDER BY ?x`, []string{"<http://ex/c>", `"Bob"`}},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.want, column(selectRows(t, st, tc.query, Options{}), "x"))
		})
	}
}

func TestSelect_Aggregates(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `SELECT (SUM(?age) AS ?total) (COUNT(*) AS ?n) (AVG(?age) AS ?avg)
		(MIN(?age) AS ?min) (GROUP_CONCAT(?age; SEPARATOR=",") AS ?all)
		WHERE { ?s <http://ex/age> ?age }`, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, typed("70", "integer"), rows[0]["total"])
	assert.Equal(t, typed("2", "integer"), rows[0]["n"])
	assert.Equal(t, typed("35.0", "decimal"), rows[0]["avg"])
	assert.Equal(t, typed("30", "integer"), rows[0]["min"])

	rows = selectRows(t, st, `SELECT (COUNT(*) AS ?c) WHERE { ?s <http://ex/none> ?o }`, Options{})
	require.Len(t, rows, 1, "an ungrouped aggregate over nothing yields one row")
	assert.Equal(t, typed("0", "integer"), rows[0]["c"])

	rows = selectRows(t, st, `SELECT ?s (COUNT(?o) AS ?c) WHERE { ?s ?p ?o }
		GROUP BY ?s HAVING (COUNT(?o) > 3)`, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, "<http://ex/a>", rows[0]["s"])
	assert.Equal(t, typed("4", "integer"), rows[0]["c"])
}

func TestSelect_GroupByValidation(t *testing.T) {
	_, err := ParseQuery(`SELECT ?s (COUNT(*) AS ?c) WHERE { ?s ?p ?o }`, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindSyntax, errors.KindOf(err))

	_, err = ParseQuery(`SELECT * WHERE { ?s ?p ?o } GROUP BY ?s`, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindSyntax, errors.KindOf(err))
}

func TestSelect_Expressions(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `SELECT
		(1/2 AS ?half)
		(STRLEN("héllo") AS ?len)
		(CONCAT("a"@en, "b"@en) AS ?c)
		(IF(1 > 2, "y", "n") AS ?if)
		(COALESCE(?unbound, 3) AS ?co)
		(1 + "x" AS ?err)
		(9223372036854775807 + 1 AS ?big)
		WHERE {}`, Options{})
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{
		"half": typed("0.5", "decimal"),
		"len":  typed("5", "integer"),
		"c":    `"ab"@en`,
		"if":   `"n"`,
		"co":   typed("3", "integer"),
		"big":  typed("9223372036854775808", "integer"),
	}, rows[0], "a type error leaves ?err unbound")

	rows = selectRows(t, st, `SELECT ?n WHERE { ?s <http://ex/name> ?n FILTER(REGEX(?n, "^al", "i")) }`, Options{})
	assert.Equal(t, []string{`"Alice"`}, column(rows, "n"))

	rows = selectRows(t, st, `SELECT ?s WHERE { ?s <http://ex/age> ?age FILTER(?age >= 35) }`, Options{})
	assert.Equal(t, []string{"<http://ex/b>"}, column(rows, "s"))
}

func TestSelect_Substitutions(t *testing.T) {
	st := loadStore(t, peopleData)
	rows := selectRows(t, st, `SELECT ?s ?n WHERE { ?s <http://ex/name> ?n }`, Options{
		Substitutions: map[string]rdf.Term{"s": rdf.NewIRI("http://ex/a")},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"s": "<http://ex/a>", "n": `"Alice"`}, rows[0])
}

func TestSelect_Datasets(t *testing.T) {
	st := loadStore(t, graphData)
	g1, g2 := rdf.NewIRI("http://ex/g1"), rdf.NewIRI("http://ex/g2")

	rows := selectRows(t, st, `SELECT ?g WHERE { GRAPH ?g { ?s <http://ex/p> ?o } } ORDER BY ?g`, Options{})
	assert.Equal(t, []string{"<http://ex/g1>", "<http://ex/g2>"}, column(rows, "g"))

	rows = selectRows(t, st, `SELECT ?s WHERE { ?s <http://ex/p> ?o }`, Options{})
	assert.Equal(t, []string{"<http://ex/c>"}, column(rows, "s"))

	rows = selectRows(t, st, `SELECT ?s WHERE { ?s <http://ex/p> ?o } ORDER BY ?s`, Options{UnionDefaultGraph: true})
	assert.Equal(t, []string{"<http://ex/a>", "<http://ex/b>", "<http://ex/c>"}, column(rows, "s"))

	rows = selectRows(t, st, `SELECT ?s FROM <http://ex/g1> WHERE { ?s <http://ex/p> ?o }`, Options{})
	assert.Equal(t, []string{"<http://ex/a>"}, column(rows, "s"))

	rows = selectRows(t, st, `SELECT ?s FROM <http://ex/g1> WHERE { ?s <http://ex/p> ?o }`, Options{
		DefaultGraphs: []rdf.Term{g2},
	})
	assert.Equal(t, []string{"<http://ex/b>"}, column(rows, "s"), "caller graphs override FROM")

	rows = selectRows(t, st, `SELECT ?g WHERE { GRAPH ?g { ?s ?p ?o } }`, Options{NamedGraphs: []rdf.Term{g1}})
	assert.Equal(t, []string{"<http://ex/g1>"}, column(rows, "g"))

	rows = selectRows(t, st, `SELECT ?s WHERE { GRAPH <http://ex/g2> { ?s ?p ?o } }`, Options{})
	assert.Equal(t, []string{"<http://ex/b>"}, column(rows, "s"))
}

func TestAsk(t *testing.T) {
	st := loadStore(t, peopleData)
	res, err := evaluate(t, st, `ASK { <http://ex/a> <http://ex/name> "Alice" }`, Options{})
	require.NoError(t, err)
	assert.Equal(t, Boolean(true), res)

	res, err = evaluate(t, st, `ASK { <http://ex/a> <http://ex/name> "Bob" }`, Options{})
	require.NoError(t, err)
	assert.Equal(t, Boolean(false), res)
}

func TestConstruct_FreshBlankNodesPerSolution(t *testing.T) {
	st := loadStore(t, peopleData)
	res, err := evaluate(t, st, `CONSTRUCT { ?s <http://ex/tag> [] } WHERE { ?s <http://ex/name> ?n }`, Options{})
	require.NoError(t, err)
	triples, ok := res.(*Triples)
	require.True(t, ok)
	all, err := triples.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	b0, ok0 := all[0].O.(rdf.BlankNode)
	b1, ok1 := all[1].O.(rdf.BlankNode)
	require.True(t, ok0 && ok1)
	assert.NotEqual(t, b0, b1)
}

func TestDescribe(t *testing.T) {
	st := loadStore(t, peopleData)
	res, err := evaluate(t, st, `DESCRIBE <http://ex/b>`, Options{})
	require.NoError(t, err)
	all, err := res.(*Triples).All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, tr := range all {
		assert.Equal(t, rdf.NewIRI("http://ex/b"), tr.S)
	}
}

type countAccumulator struct{ n int64 }

func (c *countAccumulator) Accumulate(rdf.Term) { c.n++ }

func (c *countAccumulator) Finish() (rdf.Term, error) {
	return rdf.NewTypedLiteral(strconv.FormatInt(c.n, 10), rdf.XSDInteger), nil
}

func TestCustomFunctionsAndAggregates(t *testing.T) {
	st := loadStore(t, peopleData)
	const fnIRI = "http://ex/fn/shout"
	shout := func(args []rdf.Term) (rdf.Term, error) {
		lit, ok := args[0].(rdf.Literal)
		if !ok {
			return nil, errors.New("not a literal")
		}
		return rdf.NewLiteral(lit.Lexical + "!"), nil
	}

	rows := selectRows(t, st, `SELECT (<http://ex/fn/shout>(?n) AS ?x) WHERE { <http://ex/a> <http://ex/name> ?n }`,
		Options{Functions: map[string]CustomFunction{fnIRI: shout}})
	assert.Equal(t, []string{`"Alice!"`}, column(rows, "x"))

	rows = selectRows(t, st, `SELECT (<http://ex/fn/shout>(?n) AS ?x) WHERE { <http://ex/a> <http://ex/knows> ?n }`,
		Options{Functions: map[string]CustomFunction{fnIRI: shout}})
	assert.Equal(t, []map[string]string{{}}, rows, "an error leaves the value unbound")

	boom := func([]rdf.Term) (rdf.Term, error) { panic("boom") }
	rows = selectRows(t, st, `SELECT ?x WHERE { BIND(<http://ex/fn/boom>() AS ?x) }`,
		Options{Functions: map[string]CustomFunction{"http://ex/fn/boom": boom}})
	assert.Equal(t, []map[string]string{{}}, rows, "a panic leaves the value unbound")

	rows = selectRows(t, st, `SELECT (<http://ex/agg/count>(?n) AS ?c) WHERE { ?s <http://ex/name> ?n }`,
		Options{Aggregates: map[string]CustomAggregate{
			"http://ex/agg/count": func() Accumulator { return &countAccumulator{} },
		}})
	assert.Equal(t, []string{typed("2", "integer")}, column(rows, "c"))

	_, err := evaluate(t, st, `SELECT (<http://ex/fn/nope>(?n) AS ?x) WHERE { ?s <http://ex/name> ?n }`, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))

	_, err = evaluate(t, st, `SELECT ?n WHERE { ?s <http://ex/name> ?n }`, Options{
		Functions:  map[string]CustomFunction{fnIRI: shout},
		Aggregates: map[string]CustomAggregate{fnIRI: func() Accumulator { return &countAccumulator{} }},
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
}

func TestService(t *testing.T) {
	st := loadStore(t, peopleData)
	_, err := evaluate(t, st, `SELECT * WHERE { SERVICE <http://remote/sparql> { ?s ?p ?o } }`, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))

	rows := selectRows(t, st, `SELECT * WHERE { SERVICE SILENT <http://remote/sparql> { ?s ?p ?o } }`, Options{})
	assert.Len(t, rows, 1)
}

func TestSolutions_Cancellation(t *testing.T) {
	st := loadStore(t, peopleData)
	q, err := ParseQuery(`SELECT ?s WHERE { ?s ?p ?o }`, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	snap, err := st.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()

	res, err := Evaluate(ctx, snap, q, Options{})
	require.NoError(t, err)
	sols := res.(*Solutions)
	require.True(t, sols.Next())

	var closedWith error
	sols.OnClose(func(err error) { closedWith = err })
	cancel()
	assert.False(t, sols.Next())
	assert.ErrorIs(t, sols.Err(), context.Canceled)
	assert.ErrorIs(t, closedWith, context.Canceled)
}

func TestSolution_Accessors(t *testing.T) {
	st := loadStore(t, peopleData)
	res, err := evaluate(t, st, `SELECT ?s ?n WHERE { ?s <http://ex/name> ?n } ORDER BY ?n LIMIT 1`, Options{})
	require.NoError(t, err)
	sols := res.(*Solutions)
	assert.Equal(t, []string{"s", "n"}, sols.Variables())
	require.True(t, sols.Next())
	s := sols.Solution()
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, rdf.NewLiteral("Alice"), s.Get("n"))
	assert.Equal(t, rdf.NewIRI("http://ex/a"), s.At(0))
	assert.Equal(t, rdf.NewLiteral("Alice"), s.Value(NewVariable("n")))
	assert.Nil(t, s.At(5))
	assert.False(t, sols.Next())
	require.NoError(t, sols.Err())
}
