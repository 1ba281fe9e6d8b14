package memindex

import (
	"fmt"
	"testing"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(paths ...string) *Index {
	b := NewBuilder(len(paths))
	for _, p := range paths {
		mtime := int64(1_700_000_000)
		size := int64(10)
		b.Append(entry.New(p, false, &mtime, &size, time.Now().Unix(), 1))
	}
	return b.Freeze()
}

func names(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Entry.Name
	}
	return out
}

func TestSearchNameExactPrefixContains(t *testing.T) {
	ix := buildIndex(
		"/R/a/readme.md",
		"/R/b/readme.md.bak",
		"/R/c/old-readme.md",
		"/R/d/notes.txt",
	)

	hits, truncated := ix.SearchName("readme.md", 10)
	require.False(t, truncated)
	require.Len(t, hits, 3)

	assert.Equal(t, 0, hits[0].Rank)
	assert.Equal(t, "readme.md", hits[0].Entry.Name)
	assert.Equal(t, 1, hits[1].Rank)
	assert.Equal(t, "readme.md.bak", hits[1].Entry.Name)
	assert.Equal(t, 2, hits[2].Rank)
	assert.Equal(t, "old-readme.md", hits[2].Entry.Name)
}

func TestSearchNameCaseFolds(t *testing.T) {
	ix := buildIndex("/R/a/README.md")
	hits, _ := ix.SearchName("readme.MD", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Rank)
}

func TestSearchNameRanksNondecreasing(t *testing.T) {
	ix := buildIndex(
		"/R/x/log", "/R/x/log.txt", "/R/x/catalog", "/R/y/deep/log",
	)
	hits, _ := ix.SearchName("log", 10)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Rank, hits[i].Rank)
	}
	// Ties within a rank break by path depth ascending.
	assert.Equal(t, "/R/x/log", hits[0].Entry.Path)
}

func TestSearchNameLimit(t *testing.T) {
	var paths []string
	for i := 0; i < 50; i++ {
		paths = append(paths, fmt.Sprintf("/R/f/file-%02d.txt", i))
	}
	ix := buildIndex(paths...)
	hits, _ := ix.SearchName("file", 10)
	assert.Len(t, hits, 10)
}

func TestSearchExt(t *testing.T) {
	ix := buildIndex("/R/p/x.rs", "/R/p/y.rs", "/R/q/z.md")
	hits := ix.SearchExt("rs", 10)
	assert.ElementsMatch(t, []string{"x.rs", "y.rs"}, names(hits))
}

func TestSearchDir(t *testing.T) {
	ix := buildIndex("/R/p/x.rs", "/R/p/y.rs", "/R/q/z.md")
	hits := ix.SearchDir("/R/p", 10)
	assert.ElementsMatch(t, []string{"x.rs", "y.rs"}, names(hits))
}

func TestEntryReconstruction(t *testing.T) {
	b := NewBuilder(4)
	mtime := int64(1_700_000_042)
	size := int64(321)
	b.Append(entry.New("/R/sub/file.TXT", false, &mtime, &size, 1, 1))
	b.Append(entry.New("/R/sub", true, nil, nil, 1, 1))
	ix := b.Freeze()

	hits, _ := ix.SearchName("file.txt", 10)
	require.Len(t, hits, 1)
	e := hits[0].Entry
	assert.Equal(t, "/R/sub/file.TXT", e.Path)
	assert.Equal(t, "/R/sub", e.Dir)
	assert.Equal(t, "txt", e.Ext)
	require.NotNil(t, e.MTime)
	assert.Equal(t, mtime, *e.MTime)
	require.NotNil(t, e.Size)
	assert.Equal(t, size, *e.Size)

	dirs, _ := ix.SearchName("sub", 10)
	require.Len(t, dirs, 1)
	assert.True(t, dirs[0].Entry.IsDir)
	assert.Nil(t, dirs[0].Entry.MTime)
	assert.Nil(t, dirs[0].Entry.Size)
	assert.Empty(t, dirs[0].Entry.Ext)
}
