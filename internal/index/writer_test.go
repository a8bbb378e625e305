package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmindex/internal/expr"
	"realmindex/internal/store"
	"realmindex/internal/testutil"
)

const demoRealm = "https://demo.realm.local/"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func personInstance(name string) InstanceEntry {
	return InstanceEntry{
		SearchDoc: map[string]any{"name": name},
		Document:  map[string]any{"attributes": map[string]any{"name": name}},
		Types:     []string{"https://demo.realm.local/person/Person"},
	}
}

func TestNewBatch_VersionSequence(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b1.Version())

	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b2.Version())
}

func TestUpdateEntry_OutOfRealmIgnored(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b.UpdateEntry(ctx, "https://other.realm.local/x.json", personInstance("X")))

	total, err := b.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestBatch_InvisibleUntilDone(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))

	live, err := st.QueryExpr(ctx, expr.Expression{"SELECT url FROM index_live"})
	require.NoError(t, err)
	assert.Empty(t, live)

	wip, err := st.QueryExpr(ctx, expr.Expression{"SELECT url FROM index_wip"})
	require.NoError(t, err)
	assert.Len(t, wip, 1)

	_, err = b.Done(ctx)
	require.NoError(t, err)

	live, err = st.QueryExpr(ctx, expr.Expression{"SELECT url FROM index_live"})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestDone_CountExcludesTombstones(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"mango.json", personInstance("Mango")))
	total, err := b1.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	_, err = b2.Invalidate(ctx, demoRealm+"mango.json")
	require.NoError(t, err)
	total, err = b2.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestInvalidate_TransitiveClosure(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"a.gts", ModuleEntry{Source: "a"}))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"b.gts", ModuleEntry{
		Source: "b", Deps: []string{demoRealm + "a"},
	}))
	jade := personInstance("Jade")
	jade.Deps = []string{demoRealm + "b"}
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"jade.json", jade))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	invalidations, err := b2.Invalidate(ctx, demoRealm+"a.gts")
	require.NoError(t, err)
	assert.Equal(t, []string{
		demoRealm + "a.gts",
		demoRealm + "b.gts",
		demoRealm + "jade.json",
	}, invalidations)
}

func TestInvalidate_CycleTerminates(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"a.gts", ModuleEntry{
		Source: "a", Deps: []string{demoRealm + "b"},
	}))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"b.gts", ModuleEntry{
		Source: "b", Deps: []string{demoRealm + "a"},
	}))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	invalidations, err := b2.Invalidate(ctx, demoRealm+"a.gts")
	require.NoError(t, err)
	assert.Equal(t, []string{demoRealm + "a.gts", demoRealm + "b.gts"}, invalidations)
}

func TestInvalidate_ReachesErrorEntries(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"lib.gts", ModuleEntry{Source: "lib"}))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"broken.json", ErrorEntry{
		Error: ErrorDoc{
			Message: "cannot load card",
			Status:  500,
			Deps:    []string{demoRealm + "lib"},
		},
	}))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	invalidations, err := b2.Invalidate(ctx, demoRealm+"lib.gts")
	require.NoError(t, err)
	assert.Equal(t, []string{demoRealm + "lib.gts", demoRealm + "broken.json"}, invalidations)
}

func TestInvalidate_SkipsBatchOwnWrites(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))

	// the freshly written row must not be mistaken for another batch's
	invalidations, err := b.Invalidate(ctx, demoRealm+"jade.json")
	require.NoError(t, err)
	assert.Equal(t, []string{demoRealm + "jade.json"}, invalidations)

	total, err := b.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestInvalidate_OverlappingClosuresWithinBatch(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"a.gts", ModuleEntry{Source: "a"}))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"b.gts", ModuleEntry{
		Source: "b", Deps: []string{demoRealm + "a"},
	}))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	first, err := b2.Invalidate(ctx, demoRealm+"a.gts")
	require.NoError(t, err)
	assert.Equal(t, []string{demoRealm + "a.gts", demoRealm + "b.gts"}, first)

	// b.gts already carries this batch's tombstone
	second, err := b2.Invalidate(ctx, demoRealm+"b.gts")
	require.NoError(t, err)
	assert.Equal(t, []string{demoRealm + "b.gts"}, second)

	total, err := b2.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestInvalidate_ConcurrentBatchConflict(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b0, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b0.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	_, err = b0.Done(ctx)
	require.NoError(t, err)

	// both batches open against published version 1 and claim version 2
	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.Equal(t, b1.Version(), b2.Version())

	_, err = b1.Invalidate(ctx, demoRealm+"jade.json")
	require.NoError(t, err)

	_, err = b2.Invalidate(ctx, demoRealm+"jade.json")
	require.Error(t, err)
	require.True(t, IsConflictError(err))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, demoRealm, conflict.RealmURL)
	assert.Equal(t, int64(2), conflict.Version)
	assert.Equal(t, demoRealm+"jade.json", conflict.URL)
	assert.Equal(t, b2.ID, conflict.BatchID)
	assert.Contains(t, conflict.Invalidations, demoRealm+"jade.json")
}

func TestMakeNewGeneration_PrunesSupersededRows(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"mango.json", personInstance("Mango")))
	total, err := b1.Done(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b2.MakeNewGeneration(ctx))
	// only jade survives the reindex
	require.NoError(t, b2.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	total, err = b2.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	rows, err := st.QueryExpr(ctx, expr.Expression{
		"SELECT COUNT(*) AS stale FROM index_entries WHERE realm_version <",
		expr.Bind(b2.Version()),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0]["stale"])
}

func TestMakeNewGeneration_FloorsAboveAbandonedBatch(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	abandoned, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.NoError(t, abandoned.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	// never Done

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	require.Equal(t, abandoned.Version(), b2.Version())
	require.NoError(t, b2.MakeNewGeneration(ctx))
	assert.Equal(t, abandoned.Version()+1, b2.Version())

	require.NoError(t, b2.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")))
	total, err := b2.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestModifiedTimes(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	w.nowMillis = testutil.NewClock(1_700_000_000_000).Next
	ctx := context.Background()

	b1, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	jade := personInstance("Jade")
	jade.LastModified = 111
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"jade.json", jade))
	mango := personInstance("Mango")
	mango.LastModified = 222
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"mango.json", mango))
	require.NoError(t, b1.UpdateEntry(ctx, demoRealm+"person.gts", ModuleEntry{
		Source: "person", LastModified: 333,
	}))
	_, err = b1.Done(ctx)
	require.NoError(t, err)

	b2, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	_, err = b2.Invalidate(ctx, demoRealm+"mango.json")
	require.NoError(t, err)
	_, err = b2.Done(ctx)
	require.NoError(t, err)

	times, err := w.ModifiedTimes(ctx, demoRealm)
	require.NoError(t, err)
	assert.Equal(t, []ModifiedTime{
		{URL: demoRealm + "jade.json", Type: TypeInstance, LastModified: 111},
		{URL: demoRealm + "person.gts", Type: TypeModule, LastModified: 333},
	}, times)
}

func TestBatch_TerminalAfterDone(t *testing.T) {
	st := newTestStore(t)
	w := NewWriter(st)
	ctx := context.Background()

	b, err := w.NewBatch(ctx, demoRealm)
	require.NoError(t, err)
	_, err = b.Done(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, b.UpdateEntry(ctx, demoRealm+"jade.json", personInstance("Jade")), errBatchDone)
	_, err = b.Invalidate(ctx, demoRealm+"jade.json")
	assert.ErrorIs(t, err, errBatchDone)
	assert.ErrorIs(t, b.MakeNewGeneration(ctx), errBatchDone)
	_, err = b.Done(ctx)
	assert.ErrorIs(t, err, errBatchDone)
}
