package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/recentops"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig(t *testing.T) (Config, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.ScanRoot = root
	cfg.DBPath = filepath.Join(t.TempDir(), "index.db")

	s, err := store.Open(cfg.DBPath, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ig := ignoreengine.New(ignoreengine.Options{ScanRoot: root})
	tr := status.NewTracker()
	qe := query.New(s, ig, query.Options{ScanRoot: root})
	qe.LastResort = nil
	qe.FindFallback = nil
	ix := indexer.New(cfg, s, ig, tr, qe)
	return Config{Cfg: cfg, Status: tr, Indexer: ix, Query: qe, Recent: recentops.New()}, root
}

func TestGetIndexStatusShape(t *testing.T) {
	cfg, _ := newConfig(t)
	resp := GetIndexStatus(cfg)
	assert.Equal(t, "Unknown", resp.State)
	assert.Zero(t, resp.EntriesCount)
}

func TestSearchEndToEnd(t *testing.T) {
	cfg, root := newConfig(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "README.md"), []byte("x"), 0o644))
	require.NoError(t, cfg.Indexer.Start(ctx))

	resp, err := Search(ctx, cfg, query.Request{Query: "README.md", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "name", resp.ModeLabel)
	require.NotEmpty(t, resp.Entries)
	assert.Equal(t, filepath.Join(root, "a", "README.md"), resp.Entries[0].Path)
	assert.False(t, resp.Entries[0].IsDir)
}

func TestSearchEmptyCorpus(t *testing.T) {
	cfg, _ := newConfig(t)
	ctx := context.Background()
	require.NoError(t, cfg.Indexer.Start(ctx))

	resp, err := Search(ctx, cfg, query.Request{
		Query: "", Limit: 300, SortBy: "name", SortDir: "asc", IncludeTotal: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "empty", resp.ModeLabel)
	assert.Empty(t, resp.Entries)
	require.NotNil(t, resp.TotalCount)
	assert.Equal(t, int64(0), *resp.TotalCount)
	assert.True(t, resp.TotalKnown)
}

func TestApplyRenameRegistersSuppression(t *testing.T) {
	cfg, root := newConfig(t)
	ctx := context.Background()
	oldPath := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	require.NoError(t, cfg.Indexer.Start(ctx))

	newPath := filepath.Join(root, "b.txt")
	require.NoError(t, os.Rename(oldPath, newPath))
	resp, err := ApplyRename(ctx, cfg, oldPath, newPath)
	require.NoError(t, err)
	assert.True(t, resp.OK)

	// Both halves of the rename suppress watcher echo.
	assert.True(t, cfg.Recent.Suppressed(oldPath))
	assert.True(t, cfg.Recent.Suppressed(newPath))

	got, err := Search(ctx, cfg, query.Request{Query: "b.txt"})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
}

func TestStartFullIndexAck(t *testing.T) {
	cfg, root := newConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))

	ack := StartFullIndex(cfg)
	assert.True(t, ack.OK)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cfg.Status.Snapshot().State == status.Ready {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, status.Ready, cfg.Status.Snapshot().State)
}

func TestGetPlatformAndHome(t *testing.T) {
	p := GetPlatform()
	assert.Contains(t, []string{"macos", "windows", "other"}, p)
	assert.NotEmpty(t, GetHomeDir())
}
