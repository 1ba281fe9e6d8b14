package watcher

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// searchCatchupTimeout bounds the external search-service pass.
const searchCatchupTimeout = 10 * time.Second

// Catchup reconciles changes made while the app was not running. It only
// runs when a previous index completed; each discovered change goes through
// the normal upsert/delete pipeline. serve calls it on Windows startup, just
// before the bulk indexer run.
func Catchup(ctx context.Context, cfg config.Config, s *store.Store, ix *indexer.Indexer, st *status.Tracker) {
	complete, _, err := s.GetMeta(ctx, entry.MetaIndexComplete)
	if err != nil || complete != "true" {
		return
	}
	since := catchupSince(ctx, s)
	if since.IsZero() {
		return
	}

	st.SetCatchup(true)
	defer st.SetCatchup(false)

	// Prefer the OS's own search service; on timeout or error fall back to
	// an mtime-bounded walker pass.
	paths, err := searchServiceChangedSince(ctx, cfg.ScanRoot, since)
	if err != nil {
		log.Printf("watcher: search-service catch-up unavailable (%v); walking", err)
		paths = walkChangedSince(ctx, cfg.ScanRoot, since)
	}
	if len(paths) == 0 {
		return
	}
	log.Printf("watcher: catch-up applying %d changed paths", len(paths))
	ix.ApplyChanges(ctx, paths)
}

// catchupSince picks the wall-clock lower bound for the catch-up window
// from the persisted activity cursor.
func catchupSince(ctx context.Context, s *store.Store) time.Time {
	raw, ok, err := s.GetMeta(ctx, entry.MetaRDCWLastActive)
	if err != nil || !ok {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// walkChangedSince is the fallback reconciliation: one pass over the scan
// root collecting paths whose mtime is at or after the bound.
func walkChangedSince(ctx context.Context, root string, since time.Time) []string {
	var changed []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(since) {
			changed = append(changed, path)
		}
		return nil
	})
	return changed
}
