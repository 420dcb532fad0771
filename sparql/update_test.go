package sparql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/storage"
)

func execute(t *testing.T, st *storage.Storage, text string, opts UpdateOptions) error {
	t.Helper()
	u, err := ParseUpdate(text, "")
	require.NoError(t, err)
	ctx := context.Background()
	return st.Update(ctx, func(tx *storage.Transaction) error {
		return Execute(ctx, tx, u, opts)
	})
}

func countQuads(t *testing.T, st *storage.Storage, p rdf.QuadPattern) int {
	t.Helper()
	ctx := context.Background()
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	it, err := snap.Match(ctx, p)
	require.NoError(t, err)
	quads, err := rdf.Collect(it)
	require.NoError(t, err)
	return len(quads)
}

func hasGraph(t *testing.T, st *storage.Storage, g string) bool {
	t.Helper()
	ctx := context.Background()
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	ok, err := snap.ContainsNamedGraph(ctx, rdf.NewIRI(g))
	require.NoError(t, err)
	return ok
}

func TestUpdate_InsertDeleteData(t *testing.T) {
	st := loadStore(t, "")
	require.NoError(t, execute(t, st, `
		INSERT DATA {
			<http://ex/a> <http://ex/p> "1" .
			GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> _:b }
		}`, UpdateOptions{}))
	assert.Equal(t, 2, countQuads(t, st, rdf.QuadPattern{}))
	assert.True(t, hasGraph(t, st, "http://ex/g"))

	require.NoError(t, execute(t, st, `DELETE DATA { <http://ex/a> <http://ex/p> "1" }`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{}))

	_, err := ParseUpdate(`DELETE DATA { <http://ex/a> <http://ex/p> _:b }`, "")
	require.Error(t, err, "blank nodes are not allowed in DELETE DATA")
	assert.Equal(t, errors.KindSyntax, errors.KindOf(err))
}

func TestUpdate_ModifySeesStateBeforeOperation(t *testing.T) {
	st := loadStore(t, `
<http://ex/a> <http://ex/n> "1" .
<http://ex/b> <http://ex/n> "2" .
`)
	require.NoError(t, execute(t, st, `
		DELETE { ?s <http://ex/n> ?v }
		INSERT { ?s <http://ex/m> ?v . ?s <http://ex/n> "new" }
		WHERE { ?s <http://ex/n> ?v }`, UpdateOptions{}))

	rows := selectRows(t, st, `SELECT ?s ?v WHERE { ?s <http://ex/m> ?v } ORDER BY ?s`, Options{})
	assert.Equal(t, []string{`"1"`, `"2"`}, column(rows, "v"))
	rows = selectRows(t, st, `SELECT ?v WHERE { ?s <http://ex/n> ?v }`, Options{})
	assert.Equal(t, []string{`"new"`, `"new"`}, column(rows, "v"))
}

func TestUpdate_DeleteWhereAndWith(t *testing.T) {
	st := loadStore(t, `
<http://ex/a> <http://ex/p> "1" <http://ex/g> .
<http://ex/b> <http://ex/p> "2" <http://ex/g> .
<http://ex/a> <http://ex/p> "1" .
`)
	require.NoError(t, execute(t, st, `DELETE WHERE { GRAPH <http://ex/g> { <http://ex/a> ?p ?o } }`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: rdf.NewIRI("http://ex/g")}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: rdf.DefaultGraph}))

	require.NoError(t, execute(t, st, `
		WITH <http://ex/g>
		INSERT { ?s <http://ex/seen> true }
		WHERE { ?s <http://ex/p> ?o }`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{P: rdf.NewIRI("http://ex/seen"), G: rdf.NewIRI("http://ex/g")}))
}

func TestUpdate_SequentialOperations(t *testing.T) {
	st := loadStore(t, "")
	require.NoError(t, execute(t, st, `
		INSERT DATA { <http://ex/a> <http://ex/p> "1" } ;
		INSERT { ?s <http://ex/q> ?o } WHERE { ?s <http://ex/p> ?o }`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{P: rdf.NewIRI("http://ex/q")}))
}

func TestUpdate_GraphManagement(t *testing.T) {
	st := loadStore(t, "")

	require.NoError(t, execute(t, st, `CREATE GRAPH <http://ex/g>`, UpdateOptions{}))
	assert.True(t, hasGraph(t, st, "http://ex/g"))

	err := execute(t, st, `CREATE GRAPH <http://ex/g>`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))
	require.NoError(t, execute(t, st, `CREATE SILENT GRAPH <http://ex/g>`, UpdateOptions{}))

	require.NoError(t, execute(t, st, `DROP GRAPH <http://ex/g>`, UpdateOptions{}))
	assert.False(t, hasGraph(t, st, "http://ex/g"))

	err = execute(t, st, `DROP GRAPH <http://ex/g>`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))
	require.NoError(t, execute(t, st, `DROP SILENT GRAPH <http://ex/g>`, UpdateOptions{}))

	require.NoError(t, execute(t, st, `
		INSERT DATA { <http://ex/a> <http://ex/p> "0" . GRAPH <http://ex/h> { <http://ex/a> <http://ex/p> "1" } }`, UpdateOptions{}))
	require.NoError(t, execute(t, st, `CLEAR NAMED`, UpdateOptions{}))
	assert.True(t, hasGraph(t, st, "http://ex/h"), "CLEAR keeps the graph")
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{}))

	require.NoError(t, execute(t, st, `DROP ALL`, UpdateOptions{}))
	assert.False(t, hasGraph(t, st, "http://ex/h"))
	assert.Equal(t, 0, countQuads(t, st, rdf.QuadPattern{}))
}

func TestUpdate_AddCopyMove(t *testing.T) {
	st := loadStore(t, `
<http://ex/a> <http://ex/p> "1" <http://ex/src> .
<http://ex/b> <http://ex/p> "2" <http://ex/dst> .
`)
	src, dst := rdf.NewIRI("http://ex/src"), rdf.NewIRI("http://ex/dst")

	require.NoError(t, execute(t, st, `ADD <http://ex/src> TO <http://ex/dst>`, UpdateOptions{}))
	assert.Equal(t, 2, countQuads(t, st, rdf.QuadPattern{G: dst}))

	require.NoError(t, execute(t, st, `COPY <http://ex/src> TO <http://ex/dst>`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: dst}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: src}))

	require.NoError(t, execute(t, st, `MOVE <http://ex/src> TO DEFAULT`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: rdf.DefaultGraph}))
	assert.False(t, hasGraph(t, st, "http://ex/src"))

	require.NoError(t, execute(t, st, `COPY <http://ex/dst> TO <http://ex/dst>`, UpdateOptions{}))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{G: dst}))

	err := execute(t, st, `ADD <http://ex/missing> TO <http://ex/dst>`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))
	require.NoError(t, execute(t, st, `ADD SILENT <http://ex/missing> TO <http://ex/dst>`, UpdateOptions{}))
}

func TestUpdate_FailureRollsBackRequest(t *testing.T) {
	st := loadStore(t, "")
	err := execute(t, st, `
		INSERT DATA { <http://ex/a> <http://ex/p> "1" } ;
		DROP GRAPH <http://ex/missing>`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, countQuads(t, st, rdf.QuadPattern{}))
}

func TestUpdate_LoadWithoutFetcher(t *testing.T) {
	st := loadStore(t, "")
	err := execute(t, st, `LOAD <http://ex/data.nt>`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))

	require.NoError(t, execute(t, st, `LOAD SILENT <http://ex/data.nt> INTO GRAPH <http://ex/g>`, UpdateOptions{}))
	assert.False(t, hasGraph(t, st, "http://ex/g"))
}

func TestUpdate_UnknownFunctionFailsBeforeWriting(t *testing.T) {
	st := loadStore(t, `<http://ex/a> <http://ex/p> "1" .`)
	err := execute(t, st, `
		INSERT DATA { <http://ex/b> <http://ex/p> "2" } ;
		DELETE { ?s ?p ?o } WHERE { ?s ?p ?o FILTER(<http://ex/fn/nope>(?o)) }`, UpdateOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))
	assert.Equal(t, 1, countQuads(t, st, rdf.QuadPattern{}))
}

func TestUpdate_SyntaxErrorPosition(t *testing.T) {
	_, err := ParseUpdate("INSERT DATA {\n  <http://ex/a> <http://ex/p> }", "")
	require.Error(t, err)
	var syn *errors.SyntaxError
	require.True(t, errors.As(err, &syn))
	assert.Equal(t, 2, syn.Line())
}

func TestUpdate_LogsOperationsAndGraphs(t *testing.T) {
	st := loadStore(t, "")
	core, logs := observer.New(zapcore.DebugLevel)
	opts := UpdateOptions{Logger: zap.New(core).Sugar()}

	require.NoError(t, execute(t, st, `CREATE GRAPH <http://ex/g> ; INSERT DATA { <http://ex/a> <http://ex/p> 1 }`, opts))
	applied := logs.FilterMessage("Update operation applied").All()
	require.Len(t, applied, 2)
	create := applied[0].ContextMap()
	assert.Equal(t, "CREATE", create[logger.FieldOperation])
	assert.Equal(t, "<http://ex/g>", create[logger.FieldGraph])
	insert := applied[1].ContextMap()
	assert.Equal(t, "INSERT DATA", insert[logger.FieldOperation])
	assert.NotContains(t, insert, logger.FieldGraph)

	require.Error(t, execute(t, st, `DROP GRAPH <http://ex/missing>`, opts))
	failed := logs.FilterMessage("Update operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "DROP", failed[0].ContextMap()[logger.FieldOperation])
	assert.Equal(t, "<http://ex/missing>", failed[0].ContextMap()[logger.FieldGraph])
}
