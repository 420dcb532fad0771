package store

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/rdf"
	"github.com/teranos/quadstore/rdfio"
	"github.com/teranos/quadstore/sparql"
	"github.com/teranos/quadstore/storage"
)

var (
	exA  = rdf.NewIRI("http://ex/a")
	exB  = rdf.NewIRI("http://ex/b")
	exP  = rdf.NewIRI("http://ex/p")
	exG  = rdf.NewIRI("http://ex/g")
	lit1 = rdf.NewLiteral("1")
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	st, err := Open(filepath.Join(t.TempDir(), "store"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func selectColumn(t *testing.T, res sparql.QueryResults, name string) []string {
	t.Helper()
	sols, ok := res.(*sparql.Solutions)
	require.True(t, ok, "expected solutions, got %T", res)
	all, err := sols.All()
	require.NoError(t, err)
	out := make([]string, 0, len(all))
	for _, s := range all {
		if v := s.Get(name); v != nil {
			out = append(out, v.String())
		} else {
			out = append(out, "")
		}
	}
	return out
}

func TestStore_QuadOperations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	empty, err := st.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	q := rdf.NewQuad(exA, exP, lit1, exG)
	added, err := st.Insert(ctx, q)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = st.Insert(ctx, q)
	require.NoError(t, err)
	assert.False(t, added, "re-adding is a no-op")

	n, err := st.Extend(ctx, []rdf.Quad{
		rdf.NewQuad(exB, exP, lit1, nil),
		rdf.NewQuad(exA, exP, lit1, exG),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := st.Contains(ctx, q)
	require.NoError(t, err)
	assert.True(t, found)

	size, err := st.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	it, err := st.QuadsForPattern(ctx, nil, exP, nil, rdf.DefaultGraph)
	require.NoError(t, err)
	quads, err := rdf.Collect(it)
	require.NoError(t, err)
	require.Len(t, quads, 1)
	assert.Equal(t, exB, quads[0].S)

	it, err = st.Iter(ctx)
	require.NoError(t, err)
	quads, err = rdf.Collect(it)
	require.NoError(t, err)
	assert.Len(t, quads, 2)

	removed, err := st.Remove(ctx, q)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.Remove(ctx, q)
	require.NoError(t, err)
	assert.False(t, removed, "removing an absent quad is a no-op")
}

func TestStore_NamedGraphs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	added, err := st.InsertNamedGraph(ctx, exG)
	require.NoError(t, err)
	assert.True(t, added)

	graphs, err := st.NamedGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rdf.Term{exG}, graphs)

	_, err = st.Insert(ctx, rdf.NewQuad(exA, exP, lit1, exG))
	require.NoError(t, err)
	cleared, err := st.ClearGraph(ctx, exG)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
	found, err := st.ContainsNamedGraph(ctx, exG)
	require.NoError(t, err)
	assert.True(t, found, "clearing keeps the graph")

	removed, err := st.RemoveNamedGraph(ctx, exG)
	require.NoError(t, err)
	assert.True(t, removed)
	found, err = st.ContainsNamedGraph(ctx, exG)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = st.Insert(ctx, rdf.NewQuad(exA, exP, lit1, nil))
	require.NoError(t, err)
	require.NoError(t, st.Clear(ctx))
	empty, err := st.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestStore_QueryAndUpdate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Update(ctx, `
		PREFIX ex: <http://ex/>
		INSERT DATA { ex:a ex:p "1" . GRAPH ex:g { ex:b ex:p "2" } }`))

	res, err := st.Query(ctx, `SELECT ?o WHERE { ?s <http://ex/p> ?o }`)
	require.NoError(t, err)
	assert.Equal(t, []string{`"1"`}, selectColumn(t, res, "o"))

	res, err = st.Query(ctx, `SELECT ?o WHERE { ?s <http://ex/p> ?o } ORDER BY ?o`, WithUnionDefaultGraph())
	require.NoError(t, err)
	assert.Equal(t, []string{`"1"`, `"2"`}, selectColumn(t, res, "o"))

	res, err = st.Query(ctx, `SELECT ?o WHERE { ?s <p> ?o }`, WithBaseIRI("http://ex/"), WithDefaultGraphs(exG))
	require.NoError(t, err)
	assert.Equal(t, []string{`"2"`}, selectColumn(t, res, "o"))

	res, err = st.Query(ctx, `SELECT ?g WHERE { GRAPH ?g { ?s ?p ?o } }`, WithNamedGraphs(exA))
	require.NoError(t, err)
	assert.Empty(t, selectColumn(t, res, "g"))

	res, err = st.Query(ctx, `SELECT ?o WHERE { ?s <http://ex/p> ?o }`,
		WithUnionDefaultGraph(), WithSubstitution("s", exB))
	require.NoError(t, err)
	assert.Equal(t, []string{`"2"`}, selectColumn(t, res, "o"))

	res, err = st.Query(ctx, `ASK { <http://ex/a> <http://ex/p> "1" }`)
	require.NoError(t, err)
	assert.Equal(t, sparql.Boolean(true), res)
}

func TestStore_CustomFunctionsInQueryAndUpdate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	const double = "http://ex/fn/double"
	fn := func(args []rdf.Term) (rdf.Term, error) {
		lit := args[0].(rdf.Literal)
		return rdf.NewLiteral(lit.Lexical + lit.Lexical), nil
	}

	require.NoError(t, st.Update(ctx, `INSERT DATA { <http://ex/a> <http://ex/p> "ab" }`))
	require.NoError(t, st.Update(ctx, `
		INSERT { ?s <http://ex/q> ?d } WHERE { ?s <http://ex/p> ?o BIND(<http://ex/fn/double>(?o) AS ?d) }`,
		WithUpdateFunction(double, fn)))

	res, err := st.Query(ctx, `SELECT ?d WHERE { ?s <http://ex/q> ?d }`)
	require.NoError(t, err)
	assert.Equal(t, []string{`"abab"`}, selectColumn(t, res, "d"))

	res, err = st.Query(ctx, `SELECT (<http://ex/fn/double>(?o) AS ?d) WHERE { ?s <http://ex/p> ?o }`,
		WithCustomFunction(double, fn))
	require.NoError(t, err)
	assert.Equal(t, []string{`"abab"`}, selectColumn(t, res, "d"))

	err = st.Update(ctx, `DELETE { ?s ?p ?o } WHERE { ?s ?p ?o FILTER(<http://ex/fn/double>(?o) = "x") }`)
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))
}

func TestStore_QueryReadsItsSnapshot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	_, err := st.Insert(ctx, rdf.NewQuad(exA, exP, lit1, nil))
	require.NoError(t, err)

	res, err := st.Query(ctx, `SELECT ?s WHERE { ?s ?p ?o }`)
	require.NoError(t, err)

	_, err = st.Insert(ctx, rdf.NewQuad(exB, exP, lit1, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"<http://ex/a>"}, selectColumn(t, res, "s"))
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	err := st.Update(ctx, `INSERT DATA { <http://ex/a> <http://ex/p> "1" } ; DROP GRAPH <http://ex/missing>`)
	require.Error(t, err)
	assert.Equal(t, errors.KindEvaluation, errors.KindOf(err))

	empty, err := st.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	err = st.Update(ctx, `INSERT DATA { <http://ex/a> }`)
	require.Error(t, err)
	assert.Equal(t, errors.KindSyntax, errors.KindOf(err))
}

func TestStore_Transaction(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Transaction(ctx, func(tx *Transaction) error {
		if _, err := tx.Insert(ctx, rdf.NewQuad(exA, exP, lit1, nil)); err != nil {
			return err
		}
		if err := tx.Update(ctx, `INSERT { ?s <http://ex/q> ?o } WHERE { ?s <http://ex/p> ?o }`); err != nil {
			return err
		}
		res, err := tx.Query(ctx, `SELECT ?o WHERE { <http://ex/a> <http://ex/q> ?o }`)
		if err != nil {
			return err
		}
		assert.Equal(t, []string{`"1"`}, selectColumn(t, res, "o"), "the transaction sees its own writes")
		return nil
	}))

	sentinel := errors.New("abort")
	err := st.Transaction(ctx, func(tx *Transaction) error {
		if _, err := tx.Remove(ctx, rdf.NewQuad(exA, exP, lit1, nil)); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	size, err := st.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size, "the aborted removal is rolled back")
}

func TestStore_LoadAndDump(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	n, err := st.Load(ctx, strings.NewReader(`<a> <http://ex/p> "1" .`+"\n"), rdfio.NTriples,
		WithBase("http://ex/"), ToGraph(exG))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := st.Contains(ctx, rdf.NewQuad(exA, exP, lit1, exG))
	require.NoError(t, err)
	assert.True(t, found)

	_, err = st.Load(ctx, strings.NewReader(""), rdfio.NQuads, ToGraph(exG))
	require.Error(t, err)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))

	_, err = st.Load(ctx, strings.NewReader("<http://ex/b> <http://ex/p> \"2\" .\nnot rdf .\n"), rdfio.NTriples)
	require.Error(t, err)
	assert.Equal(t, errors.KindSyntax, errors.KindOf(err))
	found, err = st.Contains(ctx, rdf.NewQuad(exB, exP, rdf.NewLiteral("2"), nil))
	require.NoError(t, err)
	assert.False(t, found, "a malformed document writes nothing")

	var buf bytes.Buffer
	require.NoError(t, st.Dump(ctx, &buf, rdfio.NQuads, nil))
	assert.Equal(t, "<http://ex/a> <http://ex/p> \"1\" <http://ex/g> .\n", buf.String())

	buf.Reset()
	require.NoError(t, st.Dump(ctx, &buf, rdfio.NTriples, exG))
	assert.Equal(t, "<http://ex/a> <http://ex/p> \"1\" .\n", buf.String())

	buf.Reset()
	require.NoError(t, st.Dump(ctx, &buf, rdfio.NTriples, nil))
	assert.Empty(t, buf.String(), "a triple dump defaults to the default graph")

	err = st.Dump(ctx, &buf, rdfio.NQuads, exG)
	require.Error(t, err)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
}

func TestStore_BulkLoad(t *testing.T) {
	st := openTestStore(t, WithBulkBatchSize(2))
	ctx := context.Background()

	var progress []int64
	n, err := st.BulkLoad(ctx, strings.NewReader(`
<http://ex/a> <http://ex/p> "1" .
<http://ex/a> <http://ex/p> "2" .
<http://ex/a> <http://ex/p> "3" .
`), rdfio.NTriples, ToGraph(exG), WithProgress(func(loaded int64) { progress = append(progress, loaded) }))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []int64{2, 3}, progress)

	n, err = st.BulkExtend(ctx, []rdf.Quad{rdf.NewQuad(exB, exP, lit1, nil)}, WithBatchSize(10))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	size, err := st.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestStore_LoadOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/n-triples")
		w.Write([]byte("<http://ex/a> <http://ex/p> _:x .\n"))
	}))
	defer srv.Close()

	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, `LOAD <`+srv.URL+`/data> INTO GRAPH <http://ex/g>`))

	it, err := st.QuadsForPattern(ctx, exA, exP, nil, exG)
	require.NoError(t, err)
	quads, err := rdf.Collect(it)
	require.NoError(t, err)
	require.Len(t, quads, 1)
	assert.Equal(t, rdf.TermBlankNode, quads[0].O.Kind())
}

func TestStore_Metrics(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, `INSERT DATA { <http://ex/a> <http://ex/p> "1" }`))
	res, err := st.Query(ctx, `SELECT * WHERE { ?s ?p ?o }`)
	require.NoError(t, err)
	selectColumn(t, res, "s")
	_, err = st.Query(ctx, `SELECT WHERE`)
	require.Error(t, err)

	expected := `
# HELP quadstore_queries_total Number of SPARQL queries evaluated.
# TYPE quadstore_queries_total counter
quadstore_queries_total 2
# HELP quadstore_query_errors_total Number of SPARQL queries and updates that failed.
# TYPE quadstore_query_errors_total counter
quadstore_query_errors_total 1
# HELP quadstore_updates_total Number of SPARQL update requests executed.
# TYPE quadstore_updates_total counter
quadstore_updates_total 1
# HELP quadstore_quads_inserted_total Number of quads added to the store.
# TYPE quadstore_quads_inserted_total counter
quadstore_quads_inserted_total 1
`
	require.NoError(t, testutil.GatherAndCompare(st.Metrics(), strings.NewReader(expected),
		"quadstore_queries_total", "quadstore_query_errors_total", "quadstore_updates_total", "quadstore_quads_inserted_total"))
}

func TestStore_ReadOnlyAndSecondary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()
	primary, err := Open(dir)
	require.NoError(t, err)
	defer primary.Close()
	_, err = primary.Insert(ctx, rdf.NewQuad(exA, exP, lit1, nil))
	require.NoError(t, err)

	_, err = Open(dir)
	require.Error(t, err)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err), "a second primary is locked out")

	ro, err := OpenReadOnly(dir)
	require.NoError(t, err)
	defer ro.Close()
	assert.False(t, ro.Writable())
	_, err = ro.Insert(ctx, rdf.NewQuad(exB, exP, lit1, nil))
	require.Error(t, err)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
	err = ro.Update(ctx, `INSERT DATA { <http://ex/b> <http://ex/p> "1" }`)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))

	sec, err := OpenSecondary(dir, WithFollower(storage.FollowerOptions{PollInterval: 10 * time.Millisecond}))
	require.NoError(t, err)
	defer sec.Close()

	seen := make(chan int64, 16)
	sec.OnCatchUp(func(gen int64) { seen <- gen })
	_, err = primary.Insert(ctx, rdf.NewQuad(exB, exP, lit1, nil))
	require.NoError(t, err)

	gen, err := primary.Generation(ctx)
	require.NoError(t, err)
	caught, err := sec.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen, caught)

	size, err := sec.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	_, err = primary.CatchUp(ctx)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
}

func TestStore_Maintenance(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	q := rdf.NewQuad(exA, exP, rdf.NewLiteral("transient"), nil)
	_, err := st.Insert(ctx, q)
	require.NoError(t, err)
	_, err = st.Remove(ctx, q)
	require.NoError(t, err)

	reclaimed, err := st.Reclaim(ctx)
	require.NoError(t, err)
	assert.Positive(t, reclaimed)

	require.NoError(t, st.Flush(ctx))
	require.NoError(t, st.Optimize(ctx))
	require.NoError(t, st.Validate(ctx))

	_, err = st.Insert(ctx, rdf.NewQuad(exA, exP, lit1, nil))
	require.NoError(t, err)
	target := filepath.Join(t.TempDir(), "backup")
	manifest, err := st.Backup(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, st.ID(), manifest.SourceStoreID)

	restored, err := Open(target)
	require.NoError(t, err)
	defer restored.Close()
	size, err := restored.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	_, err = st.Backup(ctx, target)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
}

func TestNew_RemovesDirectoryOnClose(t *testing.T) {
	st, err := New()
	require.NoError(t, err)
	dir := st.Path()
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, st.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, st.Close(), "closing twice is harmless")
}

func TestOpenWithConfig(t *testing.T) {
	t.Cleanup(func() { logger.Logger = zap.NewNop().Sugar() })
	cfg := am.Defaults()
	cfg.Store.Path = filepath.Join(t.TempDir(), "store")
	cfg.Query.UnionDefaultGraph = true

	st, err := OpenWithConfig(cfg)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	_, err = st.Insert(ctx, rdf.NewQuad(exA, exP, lit1, exG))
	require.NoError(t, err)

	res, err := st.Query(ctx, `SELECT ?s WHERE { ?s ?p ?o }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"<http://ex/a>"}, selectColumn(t, res, "s"), "the configured union default graph applies")

	bad := am.Defaults()
	bad.Store.Mode = "replica"
	_, err = OpenWithConfig(bad)
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err))
}

func TestOpenWithConfig_InitializesLogger(t *testing.T) {
	t.Cleanup(func() { logger.Logger = zap.NewNop().Sugar() })
	cfg := am.Defaults()
	cfg.Store.Path = filepath.Join(t.TempDir(), "store")
	cfg.Log.Level = "warn"

	st, err := OpenWithConfig(cfg)
	require.NoError(t, err)
	core := logger.Logger.Desugar().Core()
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.False(t, st.logger.Desugar().Core().Enabled(zapcore.InfoLevel), "the store logger derives from the configured one")
	require.NoError(t, st.Close())
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, `INSERT DATA { <http://ex/counter> <http://ex/value> 0 }`))

	const workers = 20
	increment := `
		DELETE { <http://ex/counter> <http://ex/value> ?old }
		INSERT { <http://ex/counter> <http://ex/value> ?new }
		WHERE { <http://ex/counter> <http://ex/value> ?old BIND(?old + 1 AS ?new) }`

	var wg sync.WaitGroup
	errs := make(chan error, 2*workers)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- st.Update(ctx, increment)
		}()
		go func() {
			defer wg.Done()
			res, err := st.Query(ctx, `SELECT ?v WHERE { <http://ex/counter> <http://ex/value> ?v }`)
			if err != nil {
				errs <- err
				return
			}
			all, err := res.(*sparql.Solutions).All()
			if err == nil && len(all) != 1 {
				err = errors.Newf("reader saw %d counter values", len(all))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	res, err := st.Query(ctx, `SELECT ?v WHERE { <http://ex/counter> <http://ex/value> ?v }`)
	require.NoError(t, err)
	assert.Equal(t, []string{`"20"^^<http://www.w3.org/2001/XMLSchema#integer>`}, selectColumn(t, res, "v"))
}

func TestStore_FunctionAndAggregateUnderOneIRI(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	const iri = "http://ex/fn/both"
	fn := func(args []rdf.Term) (rdf.Term, error) { return args[0], nil }
	agg := func() sparql.Accumulator { return nil }

	_, err := st.Query(ctx, `SELECT * WHERE { ?s ?p ?o }`, WithCustomFunction(iri, fn), WithCustomAggregate(iri, agg))
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))

	err = st.Update(ctx, `DELETE { ?s ?p ?o } WHERE { ?s ?p ?o }`, WithUpdateFunction(iri, fn), WithUpdateAggregate(iri, agg))
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))
}

func TestStore_MalformedUpdateDoesNotWaitForWriter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- st.Transaction(ctx, func(tx *Transaction) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	result := make(chan error, 1)
	go func() { result <- st.Update(ctx, `INSERT DATA { <http://ex/a> }`) }()
	select {
	case err := <-result:
		assert.Equal(t, errors.KindSyntax, errors.KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("a malformed update waited for the open write transaction")
	}
	close(release)
	require.NoError(t, <-done)
}

func TestStore_LogsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	st := openTestStore(t, WithLogger(zap.New(core).Sugar()))
	ctx := logger.WithRequestID(context.Background(), "req-42")

	_, err := st.Query(ctx, `SELECT ?s WHERE {`)
	require.Error(t, err)
	require.Error(t, st.Update(ctx, `CLEAR GRAPH`))

	for _, msg := range []string{"Query failed", "Update rejected"} {
		entries := logs.FilterMessage(msg).All()
		if assert.Len(t, entries, 1, msg) {
			assert.Equal(t, "req-42", entries[0].ContextMap()[logger.FieldRequestID])
		}
	}
}
