package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/rdf"
)

var (
	exS  = rdf.NewIRI("http://ex/s")
	exP  = rdf.NewIRI("http://ex/p")
	exQ  = rdf.NewIRI("http://ex/q")
	exO  = rdf.NewIRI("http://ex/o")
	exG1 = rdf.NewIRI("http://ex/g1")
	exG2 = rdf.NewIRI("http://ex/g2")
)

func openTestStorage(t *testing.T, dir string, role Role) *Storage {
	t.Helper()
	st, err := Open(dir, Options{Role: role, Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestStorage(t *testing.T) *Storage {
	return openTestStorage(t, filepath.Join(t.TempDir(), "store"), RolePrimary)
}

func insertAll(t *testing.T, st *Storage, quads ...rdf.Quad) {
	t.Helper()
	err := st.Update(context.Background(), func(tx *Transaction) error {
		for _, q := range quads {
			if _, err := tx.Insert(context.Background(), q); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func match(t *testing.T, st *Storage, p rdf.QuadPattern) []rdf.Quad {
	t.Helper()
	ctx := context.Background()
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	it, err := snap.Match(ctx, p)
	require.NoError(t, err)
	quads, err := rdf.Collect(it)
	require.NoError(t, err)
	return quads
}

func TestInsertContainsRemove(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	q := rdf.NewQuad(exS, exP, rdf.NewLiteral("o"), nil)

	err := st.Update(ctx, func(tx *Transaction) error {
		added, err := tx.Insert(ctx, q)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = tx.Insert(ctx, q)
		require.NoError(t, err)
		assert.False(t, added, "re-adding is a no-op")

		has, err := tx.Contains(ctx, q)
		require.NoError(t, err)
		assert.True(t, has, "transactions see their own writes")
		return nil
	})
	require.NoError(t, err)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	n, err := snap.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, snap.Close())

	err = st.Update(ctx, func(tx *Transaction) error {
		removed, err := tx.Remove(ctx, q)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = tx.Remove(ctx, rdf.NewQuad(exS, exP, rdf.NewLiteral("absent"), nil))
		require.NoError(t, err)
		assert.False(t, removed)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, match(t, st, rdf.QuadPattern{}))

	assert.Equal(t, float64(1), testutil.ToFloat64(st.Metrics().QuadsInserted))
	assert.Equal(t, float64(1), testutil.ToFloat64(st.Metrics().QuadsRemoved))
}

func TestInsert_RejectsInvalidQuad(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	err := st.Update(ctx, func(tx *Transaction) error {
		_, err := tx.Insert(ctx, rdf.NewQuad(rdf.NewLiteral("s"), exP, exO, nil))
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))
}

func TestMatch_GraphSelection(t *testing.T) {
	st := newTestStorage(t)
	inDefault := rdf.NewQuad(exS, exP, exO, nil)
	inG1 := rdf.NewQuad(exS, exP, exO, exG1)
	inG2 := rdf.NewQuad(exS, exQ, rdf.NewLiteral("x"), exG2)
	insertAll(t, st, inDefault, inG1, inG2)

	tests := []struct {
		name    string
		pattern rdf.QuadPattern
		want    int
	}{
		{"any graph", rdf.QuadPattern{}, 3},
		{"default graph only", rdf.QuadPattern{G: rdf.DefaultGraph}, 1},
		{"named graphs only", rdf.QuadPattern{NamedGraphsOnly: true}, 2},
		{"one named graph", rdf.QuadPattern{G: exG1}, 1},
		{"predicate", rdf.QuadPattern{P: exP}, 2},
		{"object", rdf.QuadPattern{O: rdf.NewLiteral("x")}, 1},
		{"subject and object", rdf.QuadPattern{S: exS, O: exO}, 2},
		{"graph and predicate", rdf.QuadPattern{G: exG2, P: exQ}, 1},
		{"fully bound", rdf.QuadPattern{S: exS, P: exP, O: exO, G: exG1}, 1},
		{"unknown term", rdf.QuadPattern{S: rdf.NewIRI("http://ex/unknown")}, 0},
		{"unknown graph", rdf.QuadPattern{G: rdf.NewIRI("http://ex/nowhere")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := match(t, st, tt.pattern)
			assert.Len(t, got, tt.want)
			for _, q := range got {
				assert.True(t, tt.pattern.Matches(q), "%s does not match", q)
			}
		})
	}
}

func TestMatch_DeterministicOrder(t *testing.T) {
	st := newTestStorage(t)
	for i := 0; i < 20; i++ {
		insertAll(t, st, rdf.NewQuad(rdf.BlankNode{ID: string(rune('a' + i))}, exP, exO, nil))
	}
	first := match(t, st, rdf.QuadPattern{P: exP})
	second := match(t, st, rdf.QuadPattern{P: exP})
	assert.Equal(t, first, second)
}

func TestTermRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	nested := rdf.TripleTerm{
		S: rdf.BlankNode{ID: "b"},
		P: exP,
		O: rdf.TripleTerm{S: exS, P: exQ, O: rdf.NewDirLangLiteral("salam", "AR", "rtl")},
	}
	quads := []rdf.Quad{
		rdf.NewQuad(exS, exP, rdf.NewTypedLiteral("42", rdf.XSDInteger), nil),
		rdf.NewQuad(exS, exP, rdf.NewLangLiteral("chat", "fr"), exG1),
		rdf.NewQuad(nested, exQ, rdf.NewLiteral(""), rdf.BlankNode{ID: "g"}),
		rdf.NewQuad(exS, exP, rdf.Literal{Lexical: "hand built"}, nil),
	}
	insertAll(t, st, quads...)

	for _, q := range quads {
		got := match(t, st, rdf.QuadPattern{S: q.S, P: q.P, O: q.O, G: q.G})
		require.Len(t, got, 1, "%s", q)
		assert.True(t, rdf.Equal(q.O, got[0].O))
		assert.Equal(t, q.Canonical(), got[0])
	}

	// A fresh handle decodes from the database rather than the cache
	dir := st.Dir()
	require.NoError(t, st.Close())
	reopened := openTestStorage(t, dir, RolePrimary)
	got := match(t, reopened, rdf.QuadPattern{S: nested})
	require.Len(t, got, 1)
	assert.Equal(t, nested, got[0].S)
}

func TestSnapshotIsolation(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	insertAll(t, st, rdf.NewQuad(exS, exP, exO, nil))

	before, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer before.Close()

	insertAll(t, st, rdf.NewQuad(exS, exQ, exO, nil))

	n, err := before.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "an old snapshot never observes later commits")

	after, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer after.Close()
	n, err = after.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Greater(t, after.Generation(), before.Generation())
}

func TestSnapshotRetainRelease(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, snap.Retain())
	require.NoError(t, snap.Close())
	_, err = snap.Len(ctx)
	require.NoError(t, err, "a retained snapshot outlives Close")

	require.NoError(t, snap.Release())
	assert.Error(t, snap.Retain())
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	gen, err := st.Generation(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = st.Update(ctx, func(tx *Transaction) error {
		if _, err := tx.Insert(ctx, rdf.NewQuad(exS, exP, exO, exG1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Empty(t, match(t, st, rdf.QuadPattern{}))
	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	has, err := snap.ContainsNamedGraph(ctx, exG1)
	require.NoError(t, err)
	assert.False(t, has)

	after, err := st.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen, after)

	// The aborted term ids must not leak into the shared cache
	insertAll(t, st, rdf.NewQuad(exO, exQ, exS, nil))
	got := match(t, st, rdf.QuadPattern{})
	require.Len(t, got, 1)
	assert.Equal(t, exO, got[0].S)
}

func TestNamedGraphRegistry(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	err := st.Update(ctx, func(tx *Transaction) error {
		added, err := tx.InsertNamedGraph(ctx, exG1)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = tx.InsertNamedGraph(ctx, rdf.DefaultGraph)
		require.NoError(t, err)
		assert.False(t, added)

		_, err = tx.InsertNamedGraph(ctx, rdf.NewLiteral("g"))
		assert.True(t, errors.IsConstraintError(err))

		_, err = tx.Insert(ctx, rdf.NewQuad(exS, exP, exO, exG2))
		return err
	})
	require.NoError(t, err)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	graphs, err := snap.NamedGraphs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []rdf.Term{exG1, exG2}, graphs)
	require.NoError(t, snap.Close())

	err = st.Update(ctx, func(tx *Transaction) error {
		n, err := tx.ClearGraph(ctx, exG2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		has, err := tx.ContainsNamedGraph(ctx, exG2)
		require.NoError(t, err)
		assert.True(t, has, "clearing keeps the graph registered")

		existed, err := tx.RemoveNamedGraph(ctx, exG1)
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = tx.RemoveNamedGraph(ctx, rdf.DefaultGraph)
		assert.True(t, errors.IsConstraintError(err))
		return nil
	})
	require.NoError(t, err)

	snap, err = st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	graphs, err = snap.NamedGraphs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rdf.Term{exG2}, graphs)
}

func TestClear(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	insertAll(t, st, rdf.NewQuad(exS, exP, exO, nil), rdf.NewQuad(exS, exP, exO, exG1))

	require.NoError(t, st.Update(ctx, func(tx *Transaction) error { return tx.Clear(ctx) }))

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	empty, err := snap.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
	graphs, err := snap.NamedGraphs(ctx)
	require.NoError(t, err)
	assert.Empty(t, graphs)
}

// failingSource yields quads, then a syntax error, then more quads.
type failingSource struct {
	before, after []rdf.Quad
	failed        bool
}

func (f *failingSource) Next() (rdf.Quad, error) {
	if len(f.before) > 0 {
		q := f.before[0]
		f.before = f.before[1:]
		return q, nil
	}
	if !f.failed {
		f.failed = true
		return rdf.Quad{}, errors.NewSyntaxError("n-quads", errors.Position{Line: 4, Column: 1}, errors.Position{Line: 4, Column: 2}, "bad statement")
	}
	if len(f.after) > 0 {
		q := f.after[0]
		f.after = f.after[1:]
		return q, nil
	}
	return rdf.Quad{}, io.EOF
}

func numbered(n int) []rdf.Quad {
	out := make([]rdf.Quad, n)
	for i := range out {
		out[i] = rdf.NewQuad(exS, exP, rdf.NewTypedLiteral(string(rune('0'+i)), rdf.XSDInteger), nil)
	}
	return out
}

func TestBulkLoad_KeepsCommittedPrefix(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	quads := numbered(5)

	loaded, err := st.BulkLoad(ctx, &failingSource{before: quads[:3], after: quads[3:]}, BulkOptions{BatchSize: 2})
	require.Error(t, err)
	assert.True(t, errors.IsSyntaxError(err))
	assert.Equal(t, int64(2), loaded)
	assert.Len(t, match(t, st, rdf.QuadPattern{}), 2, "the first full batch stays committed")
}

func TestBulkLoad_SkipsParseErrors(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	quads := numbered(5)

	var parseErrors int
	var progress []int64
	loaded, err := st.BulkLoad(ctx, &failingSource{before: quads[:3], after: quads[3:]}, BulkOptions{
		BatchSize:    2,
		OnParseError: func(error) { parseErrors++ },
		Progress:     func(n int64) { progress = append(progress, n) },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), loaded)
	assert.Equal(t, 1, parseErrors)
	assert.Equal(t, []int64{2, 4, 5}, progress)
	assert.Len(t, match(t, st, rdf.QuadPattern{}), 5)
	assert.Equal(t, float64(5), testutil.ToFloat64(st.Metrics().BulkLoaded))
}

type brokenSource struct{ err error }

func (b brokenSource) Next() (rdf.Quad, error) { return rdf.Quad{}, b.err }

func TestBulkLoad_SourceErrorsAreIO(t *testing.T) {
	st := newTestStorage(t)

	_, err := st.BulkLoad(context.Background(), brokenSource{err: io.ErrUnexpectedEOF}, BulkOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindIO, errors.KindOf(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	constraint := errors.NewConstraintError("rejected")
	_, err = st.BulkLoad(context.Background(), brokenSource{err: constraint}, BulkOptions{})
	assert.Equal(t, errors.KindConstraint, errors.KindOf(err), "classified errors keep their kind")
}

func TestSecondPrimaryIsLocked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	openTestStorage(t, dir, RolePrimary)

	_, err := Open(dir, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLocked))
	assert.True(t, errors.IsConstraintError(err))
}

func TestReadOnlyHandle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	primary := openTestStorage(t, dir, RolePrimary)
	insertAll(t, primary, rdf.NewQuad(exS, exP, exO, nil))

	ro := openTestStorage(t, dir, RoleReadOnly)
	assert.Len(t, match(t, ro, rdf.QuadPattern{}), 1)
	assert.Equal(t, primary.StoreID(), ro.StoreID())

	_, err := ro.Begin(context.Background())
	assert.True(t, errors.Is(err, errors.ErrReadOnly))
	assert.True(t, errors.IsConstraintError(err))

	insertAll(t, primary, rdf.NewQuad(exS, exQ, exO, nil))
	assert.Len(t, match(t, ro, rdf.QuadPattern{}), 2, "new snapshots see the latest primary commit")
}

func TestOpenReadOnly_MissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"), Options{Role: RoleReadOnly})
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestMarker_IncompatibleFormat(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	m := newMarker()
	m.FormatVersion = "2.0.0"
	require.NoError(t, writeMarker(filepath.Join(dir, MarkerFile), m))

	_, err := Open(dir, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))
}

func TestBackup(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	insertAll(t, st, rdf.NewQuad(exS, exP, exO, exG1))

	target := filepath.Join(t.TempDir(), "backup")
	manifest, err := st.Backup(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, st.StoreID(), manifest.SourceStoreID)
	assert.NotEqual(t, st.StoreID(), manifest.StoreID)
	assert.Positive(t, manifest.Database.Size)
	require.NoError(t, VerifyBackup(target))

	read, err := ReadManifest(target)
	require.NoError(t, err)
	assert.Equal(t, manifest.Database.Blake3, read.Database.Blake3)
	assert.Equal(t, runtime.Version(), read.Build.GoVersion)

	// The source moves on, the copy does not
	insertAll(t, st, rdf.NewQuad(exS, exQ, exO, nil))

	copied := openTestStorage(t, target, RolePrimary)
	assert.Len(t, match(t, copied, rdf.QuadPattern{}), 1)
	assert.Equal(t, manifest.StoreID, copied.StoreID())
}

func TestBackup_ExistingTarget(t *testing.T) {
	st := newTestStorage(t)
	target := t.TempDir()
	sentinel := filepath.Join(target, "keep.txt")
	require.NoError(t, os.WriteFile(sentinel, []byte("x"), 0o644))

	_, err := st.Backup(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.IsConstraintError(err))
	_, err = os.Stat(sentinel)
	assert.NoError(t, err, "an existing target is left untouched")
}

func TestReclaim(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	quoted := rdf.TripleTerm{S: exS, P: exQ, O: rdf.NewLiteral("only quoted")}
	keep := rdf.NewQuad(quoted, exP, exO, nil)
	drop := rdf.NewQuad(exS, exP, rdf.NewLiteral("gone"), nil)
	insertAll(t, st, keep, drop)

	require.NoError(t, st.Update(ctx, func(tx *Transaction) error {
		_, err := tx.Remove(ctx, drop)
		return err
	}))

	n, err := st.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the dropped literal is unreferenced")
	assert.Equal(t, float64(1), testutil.ToFloat64(st.Metrics().Reclaimed))

	require.NoError(t, st.Validate(ctx))
	assert.Len(t, match(t, st, rdf.QuadPattern{S: quoted}), 1)

	insertAll(t, st, drop)
	assert.Len(t, match(t, st, rdf.QuadPattern{O: rdf.NewLiteral("gone")}), 1)
}

func TestReclaim_DefersWhileWriting(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	n, err := st.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidate_DetectsDanglingIDs(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	insertAll(t, st, rdf.NewQuad(exS, exP, exO, nil))
	require.NoError(t, st.Validate(ctx))

	_, err := st.writer.ExecContext(ctx, "INSERT INTO quads VALUES (9001, 9002, 9003, 0)")
	require.NoError(t, err)

	err = st.Validate(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.KindCorruption, errors.KindOf(err))
}

func TestFlushAndOptimize(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	insertAll(t, st, rdf.NewQuad(exS, exP, exO, nil))
	require.NoError(t, st.Flush(ctx))
	require.NoError(t, st.Optimize(ctx))
}

func TestFollower(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	primary := openTestStorage(t, dir, RolePrimary)
	insertAll(t, primary, rdf.NewQuad(exS, exP, exO, nil))

	secondary := openTestStorage(t, dir, RoleSecondary)
	f, err := secondary.StartFollower(FollowerOptions{PollInterval: 20 * time.Millisecond, WatchWAL: true})
	require.NoError(t, err)
	defer f.Stop()

	start := f.Generation()
	assert.Positive(t, start)

	seen := make(chan int64, 16)
	f.OnCatchUp(func(gen int64) { seen <- gen })

	insertAll(t, primary, rdf.NewQuad(exS, exQ, exO, nil))

	gen, err := f.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Greater(t, gen, start)

	select {
	case got := <-seen:
		assert.Greater(t, got, start)
	case <-time.After(5 * time.Second):
		t.Fatal("no catch-up callback")
	}
	assert.Len(t, match(t, secondary, rdf.QuadPattern{}), 2)
	assert.Equal(t, float64(gen), testutil.ToFloat64(secondary.Metrics().ReplicaGeneration))

	_, err = primary.StartFollower(FollowerOptions{})
	assert.True(t, errors.IsConstraintError(err))
}
