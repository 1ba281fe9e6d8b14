package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// ApplyChanges is the shared upsert/delete pipeline fed by the watcher:
// each path is first tested for existence; missing paths are deleted along
// with their subtree, and existing paths that pass the ignore rules are
// upserted (recursively for directories). Returns how many rows changed.
func (ix *Indexer) ApplyChanges(ctx context.Context, paths []string) int {
	runID := ix.currentRunID(ctx)
	now := time.Now().Unix()
	changed := 0

	var batch []store.Row
	for _, p := range paths {
		p = entry.Canonicalize(p)
		info, err := os.Lstat(p)
		if err != nil {
			if err := ix.store.DeleteTree(ctx, p); err != nil {
				log.Printf("indexer: delete %s: %v", p, err)
				continue
			}
			changed++
			continue
		}
		if ix.ignore.Evaluate(p, info.IsDir()).Skip {
			continue
		}
		if info.IsDir() {
			n := ix.upsertTree(ctx, p, runID, now)
			changed += n
			continue
		}
		batch = append(batch, fileRow(p, info, runID, now))
	}
	if len(batch) > 0 {
		if err := ix.store.UpsertBatch(ctx, batch); err != nil {
			log.Printf("indexer: watcher upsert: %v", err)
		} else {
			changed += len(batch)
		}
	}
	if changed > 0 {
		ix.qe.InvalidateNegative()
		if n, err := ix.store.EntriesCount(ctx); err == nil {
			ix.status.SetEntriesCount(n, time.Now())
		}
		if ix.OnUpdated != nil {
			ix.OnUpdated()
		}
	}
	return changed
}

// upsertTree walks a directory that appeared or changed and upserts
// everything under it.
func (ix *Indexer) upsertTree(ctx context.Context, root string, runID, now int64) int {
	var batch []store.Row
	count := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ix.store.UpsertBatch(ctx, batch); err != nil {
			log.Printf("indexer: watcher upsert: %v", err)
		} else {
			count += len(batch)
		}
		batch = batch[:0]
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		isDir := d.IsDir()
		if v := ix.ignore.Evaluate(path, isDir); v.Skip {
			if isDir && !v.Descend {
				return filepath.SkipDir
			}
			return nil
		}
		var mtime, size *int64
		if info, err := d.Info(); err == nil {
			mt := info.ModTime().Unix()
			mtime = &mt
			if !isDir {
				sz := info.Size()
				size = &sz
			}
		}
		batch = append(batch, store.Row{Entry: entry.New(path, isDir, mtime, size, now, runID)})
		if len(batch) >= ix.cfg.WalkerBatchSize {
			flush()
		}
		return nil
	})
	flush()
	return count
}

func fileRow(path string, info os.FileInfo, runID, now int64) store.Row {
	mt := info.ModTime().Unix()
	sz := info.Size()
	return store.Row{Entry: entry.New(path, false, &mt, &sz, now, runID)}
}

// ApplyRename updates the store synchronously after the app itself renamed
// a path, so results are correct before the watcher echoes the change. A
// missing old path degrades to indexing the new path.
func (ix *Indexer) ApplyRename(ctx context.Context, oldPath, newPath string) error {
	err := ix.store.RenamePath(ctx, oldPath, newPath)
	if errors.Is(err, store.ErrNotFound) {
		// PathNotFound is a delete instruction for the old row plus a fresh
		// look at the new one; not fatal.
		ix.ApplyChanges(ctx, []string{newPath})
		return nil
	}
	if err != nil {
		return err
	}
	ix.qe.InvalidateNegative()
	if n, cerr := ix.store.EntriesCount(ctx); cerr == nil {
		ix.status.SetEntriesCount(n, time.Now())
	}
	if ix.OnUpdated != nil {
		ix.OnUpdated()
	}
	return nil
}

// currentRunID returns the in-flight (or latest persisted) run id so
// watcher-driven rows are never tombstoned by the next stale sweep.
func (ix *Indexer) currentRunID(ctx context.Context) int64 {
	if id := ix.lastRun.Load(); id > 0 {
		return id
	}
	raw, _, err := ix.store.GetMeta(ctx, entry.MetaLastRunID)
	if err != nil || raw == "" {
		return 1
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 1
	}
	ix.lastRun.Store(id)
	return id
}

// Scanned and Indexed expose the live progress counters.
func (ix *Indexer) Scanned() int64 { return ix.scanned.Load() }
func (ix *Indexer) Indexed() int64 { return ix.indexed.Load() }
