package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/recentops"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource drives the watcher from tests.
type fakeSource struct {
	events    chan<- Event
	replaying bool
	cursor    string
	stopped   bool
}

func (f *fakeSource) Start(ctx context.Context, events chan<- Event) error {
	f.events = events
	return nil
}
func (f *fakeSource) Stop()             { f.stopped = true }
func (f *fakeSource) CursorKey() string { return entry.MetaLastEventID }
func (f *fakeSource) Cursor() string    { return f.cursor }
func (f *fakeSource) Replaying() bool   { return f.replaying }

type fixture struct {
	root    string
	store   *store.Store
	ix      *indexer.Indexer
	qe      *query.Engine
	recent  *recentops.Cache
	tracker *status.Tracker
	src     *fakeSource
	w       *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ScanRoot = root
	cfg.DebounceInterval = 30 * time.Millisecond
	cfg.CursorFlushInterval = 50 * time.Millisecond

	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ig := ignoreengine.New(ignoreengine.Options{ScanRoot: root})
	tr := status.NewTracker()
	qe := query.New(s, ig, query.Options{ScanRoot: root})
	qe.LastResort = nil
	qe.FindFallback = nil
	ix := indexer.New(cfg, s, ig, tr, qe)
	recent := recentops.New()
	src := &fakeSource{}
	w := New(cfg, s, recent, ix, tr, src)
	return &fixture{root: root, store: s, ix: ix, qe: qe, recent: recent, tracker: tr, src: src, w: w}
}

func (f *fixture) searchPaths(t *testing.T, q string) []string {
	t.Helper()
	resp, err := f.qe.Search(context.Background(), query.Request{Query: q})
	require.NoError(t, err)
	out := make([]string, len(resp.Entries))
	for i, e := range resp.Entries {
		out[i] = e.Path
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLifecycleStates(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Stopped, f.w.State())

	require.NoError(t, f.w.Start(context.Background()))
	assert.Equal(t, Running, f.w.State())

	f.w.Stop()
	assert.Equal(t, Stopped, f.w.State())
	assert.True(t, f.src.stopped)
}

func TestDebouncedFlushUpsertsAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.Start(ctx)) // reach Ready so flushes are not deferred
	require.NoError(t, f.w.Start(ctx))
	defer f.w.Stop()

	created := filepath.Join(f.root, "fresh.txt")
	require.NoError(t, os.WriteFile(created, []byte("x"), 0o644))
	f.src.events <- Event{Kind: EventPaths, Paths: []string{created}}

	waitFor(t, func() bool { return len(f.searchPaths(t, "fresh.txt")) == 1 })

	require.NoError(t, os.Remove(created))
	f.src.events <- Event{Kind: EventPaths, Paths: []string{created}}
	waitFor(t, func() bool { return len(f.searchPaths(t, "fresh.txt")) == 0 })
}

func TestRecentOpSuppression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.Start(ctx))

	// The app itself renamed a.txt to b.txt and registered the op.
	oldPath := filepath.Join(f.root, "a.txt")
	newPath := filepath.Join(f.root, "b.txt")
	require.NoError(t, os.WriteFile(newPath, []byte("x"), 0o644))
	require.NoError(t, f.ix.ApplyRename(ctx, oldPath, newPath))
	f.recent.Register(oldPath, newPath, entry.OpRename)

	require.NoError(t, f.w.Start(ctx))
	defer f.w.Stop()

	// The watcher echo must not undo the synchronous apply.
	f.src.events <- Event{Kind: EventPaths, Paths: []string{oldPath, newPath}}
	f.w.Flush(ctx)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.searchPaths(t, "a.txt"))
	assert.Len(t, f.searchPaths(t, "b.txt"), 1)
}

func TestFlushDeferredWhileIndexing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.w.Start(ctx))
	defer f.w.Stop()

	// Force Indexing state: flushes must wait; the indexer owns the DB.
	f.tracker.SetState(status.Indexing, "")

	p := filepath.Join(f.root, "during.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	f.src.events <- Event{Kind: EventPaths, Paths: []string{p}}
	f.w.Flush(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.searchPaths(t, "during.txt"))

	// Once Ready, the deferred set flushes.
	f.tracker.SetState(status.Ready, "")
	waitFor(t, func() bool { return len(f.searchPaths(t, "during.txt")) == 1 })
}

func TestCursorPersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.cursor = "12345"
	require.NoError(t, f.w.Start(ctx))

	waitFor(t, func() bool {
		v, ok, _ := f.store.GetMeta(ctx, entry.MetaLastEventID)
		return ok && v == "12345"
	})

	// Stop persists the final cursor too.
	f.src.cursor = "67890"
	f.w.Stop()
	v, ok, err := f.store.GetMeta(ctx, entry.MetaLastEventID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "67890", v)
}

func TestStreamLostClearsCursorAndReindexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetMeta(ctx, entry.MetaLastEventID, "42"))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "seed.txt"), []byte("x"), 0o644))

	require.NoError(t, f.w.Start(ctx))
	defer f.w.Stop()

	f.src.events <- Event{Kind: EventStreamLost}

	waitFor(t, func() bool {
		_, ok, _ := f.store.GetMeta(ctx, entry.MetaLastEventID)
		return !ok
	})
	// The forced incremental run picks up the corpus.
	waitFor(t, func() bool { return len(f.searchPaths(t, "seed.txt")) == 1 })
}

func TestMustScanRescansSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.Start(ctx))

	sub := filepath.Join(f.root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inside.txt"), []byte("x"), 0o644))

	require.NoError(t, f.w.Start(ctx))
	defer f.w.Stop()

	f.src.events <- Event{Kind: EventMustScan, Paths: []string{sub}}
	waitFor(t, func() bool { return len(f.searchPaths(t, "inside.txt")) == 1 })
}

func TestCatchupAppliesMTimeBoundedChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ix.Start(ctx))

	// Simulate a change made while the app was down, after the persisted
	// activity stamp.
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, f.store.SetMeta(ctx, entry.MetaRDCWLastActive,
		strconv.FormatInt(stale.Unix(), 10)))
	p := filepath.Join(f.root, "offline.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	cfg := config.Default()
	cfg.ScanRoot = f.root
	Catchup(ctx, cfg, f.store, f.ix, f.tracker)

	assert.Len(t, f.searchPaths(t, "offline.txt"), 1)
}
