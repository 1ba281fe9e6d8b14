package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSplitsDirAndName(t *testing.T) {
	mtime := int64(100)
	size := int64(42)
	e := New("/R/a/README.md", false, &mtime, &size, 1000, 1)

	require.Equal(t, "/R/a/README.md", e.Path)
	require.Equal(t, "README.md", e.Name)
	require.Equal(t, "/R/a", e.Dir)
	require.Equal(t, "md", e.Ext)
	require.False(t, e.IsDir)
	require.Equal(t, &size, e.Size)
}

func TestNewDirectoryHasNoExtOrSize(t *testing.T) {
	size := int64(99)
	e := New("/R/project", true, nil, &size, 1000, 1)
	require.Empty(t, e.Ext)
	require.Nil(t, e.Size)
	require.True(t, e.IsDir)
}

func TestCanonicalizeTrimsTrailingSeparator(t *testing.T) {
	require.Equal(t, "/R/a", Canonicalize("/R/a/"))
	require.Equal(t, "/", Canonicalize("/"))
	require.Equal(t, "/R/a/b", Canonicalize("/R/./a//b/"))
}

func TestExtOfDotfileHasNoExtension(t *testing.T) {
	require.Equal(t, "", extOf(".gitignore"))
	require.Equal(t, "", extOf("Makefile"))
	require.Equal(t, "rs", extOf("main.rs"))
	require.Equal(t, "", extOf("trailing."))
}

func TestRecentOpExpired(t *testing.T) {
	start := time.Now()
	r := RecentOp{OldPath: "/a", Kind: OpDelete, Stamp: start}
	require.False(t, r.Expired(start.Add(1*time.Second), 2*time.Second))
	require.True(t, r.Expired(start.Add(3*time.Second), 2*time.Second))
}
