package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/memindex"
	"github.com/atomicobject/filesearch-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, paths ...string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	rows := make([]store.Row, 0, len(paths))
	for i, p := range paths {
		mtime := int64(1_700_000_000 + i)
		size := int64(100 + i)
		rows = append(rows, store.Row{Entry: entry.New(p, false, &mtime, &size, time.Now().Unix(), 1)})
	}
	require.NoError(t, s.UpsertBatch(ctx, rows))
	require.NoError(t, s.SetMeta(ctx, entry.MetaLastRunID, "1"))
	return s
}

func testEngine(t *testing.T, s *store.Store) *Engine {
	e := New(s, nil, Options{ScanRoot: "/R"})
	e.LastResort = nil
	e.FindFallback = nil
	return e
}

func paths(entries []entry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestEmptyCorpusEmptyQuery(t *testing.T) {
	s := testStore(t)
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{
		Query: "", Limit: 300, SortBy: "name", SortDir: "asc", IncludeTotal: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
	assert.Equal(t, "empty", resp.ModeLabel)
	assert.Equal(t, int64(0), resp.TotalCount)
	assert.True(t, resp.TotalKnown)
}

func TestExactNameHit(t *testing.T) {
	s := testStore(t, "/R/a/README.md", "/R/b/notes.md")
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{Query: "README.md", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Entries)
	assert.Equal(t, "/R/a/README.md", resp.Entries[0].Path)
	assert.Equal(t, "name", resp.ModeLabel)
}

func TestExtSearch(t *testing.T) {
	s := testStore(t, "/R/p/x.rs", "/R/p/y.rs", "/R/q/z.md")
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{Query: "*.rs", IncludeTotal: true})
	require.NoError(t, err)
	assert.Equal(t, "ext", resp.ModeLabel)
	require.Len(t, resp.Entries, 2)
	for _, en := range resp.Entries {
		assert.Equal(t, "rs", en.Ext)
	}
	assert.Equal(t, int64(2), resp.TotalCount)
}

func TestGlobToLikeEscapeRoundtrip(t *testing.T) {
	s := testStore(t, "/R/100%_done.txt", "/R/100x_done.txt", "/R/100%-other.txt")
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{Query: `*100\%_done*`})
	require.NoError(t, err)
	assert.Equal(t, "glob", resp.ModeLabel)
	assert.Equal(t, []string{"/R/100%_done.txt"}, paths(resp.Entries))
}

func TestIgnoreRoundtrip(t *testing.T) {
	s := testStore(t, "/R/project/node_modules/foo.js", "/R/project/src/foo.js")
	ig := ignoreengine.New(ignoreengine.Options{ScanRoot: "/R"})
	e := New(s, ig, Options{ScanRoot: "/R"})
	e.LastResort = nil
	e.FindFallback = nil

	resp, err := e.Search(context.Background(), Request{Query: "foo.js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/R/project/src/foo.js"}, paths(resp.Entries))
}

func TestSingleCharQueryCap(t *testing.T) {
	var ps []string
	for i := 0; i < 150; i++ {
		ps = append(ps, filepath.Join("/R/f", "a"+itoa3(i)+".txt"))
	}
	s := testStore(t, ps...)
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{Query: "a", Limit: 500})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Entries), 100)
}

func itoa3(n int) string {
	digits := []byte{'0' + byte(n/100%10), '0' + byte(n/10%10), '0' + byte(n%10)}
	return string(digits)
}

func TestNameSearchRankOrderFirstPage(t *testing.T) {
	s := testStore(t,
		"/R/x/catalog.txt",
		"/R/x/log",
		"/R/x/log.txt",
	)
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{
		Query: "log", SortBy: "name", SortDir: "asc", Offset: 0,
	})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "log", resp.Entries[0].Name)
	assert.Equal(t, "log.txt", resp.Entries[1].Name)
	assert.Equal(t, "catalog.txt", resp.Entries[2].Name)
}

func TestNegativeCacheSuppressesRepeats(t *testing.T) {
	s := testStore(t, "/R/a.txt")
	e := testEngine(t, s)
	ctx := context.Background()

	resp, err := e.Search(ctx, Request{Query: "zzz-missing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)

	// The immediate repeat is served from the negative cache.
	verdict := e.neg.check(memindex.Fold("zzz-missing"))
	assert.Equal(t, negSuppressed, verdict)

	resp, err = e.Search(ctx, Request{Query: "zzz-missing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)

	// A corpus write invalidates the cache.
	e.InvalidateNegative()
	assert.Equal(t, negMiss, e.neg.check(memindex.Fold("zzz-missing")))
}

func TestMemIndexPreferred(t *testing.T) {
	// The store only knows a.txt; the in-memory index also has b.txt.
	s := testStore(t, "/R/a.txt")
	e := testEngine(t, s)

	b := memindex.NewBuilder(4)
	mtime, size := int64(1), int64(2)
	b.Append(entry.New("/R/a.txt", false, &mtime, &size, 1, 1))
	b.Append(entry.New("/R/b.txt", false, &mtime, &size, 1, 1))
	e.SetMemIndex(b.Freeze())

	resp, err := e.Search(context.Background(), Request{Query: "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/R/b.txt"}, paths(resp.Entries))

	e.SetMemIndex(nil)
	resp, err = e.Search(context.Background(), Request{Query: "b.txt"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}

func TestPathSearchResolvedDir(t *testing.T) {
	s := testStore(t, "/R/src/main.go", "/R/src/util.go", "/R/other/main.go")
	ctx := context.Background()
	dirMtime := int64(1)
	require.NoError(t, s.UpsertBatch(ctx, []store.Row{
		{Entry: entry.New("/R/src", true, &dirMtime, nil, time.Now().Unix(), 1)},
	}))
	e := testEngine(t, s)

	resp, err := e.Search(ctx, Request{Query: "/R/src/main", IncludeTotal: true})
	require.NoError(t, err)
	assert.Equal(t, "path", resp.ModeLabel)
	assert.Equal(t, []string{"/R/src/main.go"}, paths(resp.Entries))

	// Relative hints resolve against the scan root.
	resp, err = e.Search(ctx, Request{Query: "src/util"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/R/src/util.go"}, paths(resp.Entries))
}

func TestPathSearchUnresolvedHintUsesDirLike(t *testing.T) {
	s := testStore(t, "/R/deep/src/main.go", "/R/other/main.go")
	e := testEngine(t, s)

	resp, err := e.Search(context.Background(), Request{Query: "src/main"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/R/deep/src/main.go"}, paths(resp.Entries))
}

func TestLastResortWhileUninitialized(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"), store.Options{})
	require.NoError(t, err)
	defer s.Close()

	e := New(s, nil, Options{ScanRoot: "/R"})
	e.LastResort = func(ctx context.Context, q string, max int) ([]entry.Entry, error) {
		return []entry.Entry{entry.New("/R/outside.txt", false, nil, nil, 0, 0)}, nil
	}

	resp, err := e.Search(context.Background(), Request{Query: "outside"})
	require.NoError(t, err)
	assert.True(t, resp.Provisional)
	assert.Equal(t, []string{"/R/outside.txt"}, paths(resp.Entries))
}

func TestRepeatQueryIdempotent(t *testing.T) {
	s := testStore(t, "/R/a/readme.md", "/R/b/readme-more.md")
	e := testEngine(t, s)
	ctx := context.Background()

	first, err := e.Search(ctx, Request{Query: "readme"})
	require.NoError(t, err)
	second, err := e.Search(ctx, Request{Query: "readme"})
	require.NoError(t, err)
	assert.Equal(t, paths(first.Entries), paths(second.Entries))
}
