package indexer

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/memindex"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// deferredRoots are the scan-root children walked after everything else in
// pass 0; they are large and rarely what the user is looking for first.
var deferredRoots = map[string]struct{}{
	"Library":  {},
	".Trash":   {},
	".Trashes": {},
}

// runWalk is the portable two-pass bulk strategy: a shallow pass bounded at
// depth 6 for fast first results, then a deep pass for the rest.
func (ix *Indexer) runWalk(ctx context.Context, runID int64) error {
	sigs, err := ix.store.PreloadSignatures(ctx)
	if err != nil {
		return err
	}

	bulk, err := ix.store.BeginBulk(ctx)
	if err != nil {
		return err
	}
	// The bulk profile is restored on every exit path.
	defer bulk.Close()

	builder := memindex.NewBuilder(len(sigs))

	// Pass 0: shallow.
	if err := ix.walkPass(ctx, bulk, 0, sigs, runID, builder); err != nil {
		return err
	}

	// Early-ready: hand the shallow corpus to the query engine and keep
	// going in the background.
	ix.qe.SetMemIndex(builder.Freeze())
	ix.status.SetBackgroundActive(true)
	if ix.OnUpdated != nil {
		ix.OnUpdated()
	}

	// Pass 1: deep.
	if err := ix.walkPass(ctx, bulk, 1, sigs, runID, nil); err != nil {
		return err
	}

	// Cleanup: tombstone what disappeared, advance the run cursor, restore
	// pragmas, checkpoint, analyze.
	if deleted, err := bulk.DeleteStale(ctx, runID); err != nil {
		return err
	} else if deleted > 0 {
		log.Printf("indexer: run %d tombstoned %d stale entries", runID, deleted)
	}
	if err := ix.store.SetMeta(ctx, entry.MetaLastRunID, formatInt(runID)); err != nil {
		return err
	}
	if err := bulk.Close(); err != nil {
		return err
	}
	return ix.store.FinishBulk(ctx)
}

// walkPass runs one pass of the two-pass scan: a pool of walkers feeding a
// bounded row channel consumed by a single DB writer.
func (ix *Indexer) walkPass(ctx context.Context, bulk *store.BulkSession, pass int, sigs map[string]store.Signature, runID int64, builder *memindex.Builder) error {
	root := entry.Canonicalize(ix.cfg.ScanRoot)
	children, err := os.ReadDir(root)
	if err != nil {
		if os.IsPermission(err) {
			ix.status.AddPermissionErrors(1)
			return nil
		}
		if os.IsNotExist(err) {
			// Empty scan root produces an empty index; no errors.
			return nil
		}
		return err
	}

	batchSize := ix.cfg.WalkerBatchSize
	rows := make(chan store.Row, 4*batchSize)

	writerErr := make(chan error, 1)
	go func() {
		writerErr <- ix.drainRows(ctx, bulk, rows, batchSize, builder)
	}()

	// Priority roots first, deferred roots last.
	var priority, deferred []os.DirEntry
	for _, c := range children {
		if _, ok := deferredRoots[c.Name()]; ok {
			deferred = append(deferred, c)
		} else {
			priority = append(priority, c)
		}
	}
	ordered := append(priority, deferred...)

	work := make(chan os.DirEntry)
	var wg sync.WaitGroup
	walkErrs := make(chan error, walkerPoolSize())
	for i := 0; i < walkerPoolSize(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				if err := ix.walkRoot(ctx, root, c, pass, sigs, runID, rows); err != nil {
					select {
					case walkErrs <- err:
					default:
					}
				}
			}
		}()
	}
feed:
	for _, c := range ordered {
		if ix.stopped(ctx) {
			break feed
		}
		work <- c
	}
	close(work)
	wg.Wait()
	close(rows)

	if err := <-writerErr; err != nil {
		return err
	}
	select {
	case err := <-walkErrs:
		return err
	default:
	}
	if ix.stopped(ctx) {
		return errStopped
	}
	return nil
}

// walkRoot walks one scan-root child for the given pass.
func (ix *Indexer) walkRoot(ctx context.Context, scanRoot string, c os.DirEntry, pass int, sigs map[string]store.Signature, runID int64, rows chan<- store.Row) error {
	top := filepath.Join(scanRoot, c.Name())
	return filepath.WalkDir(top, func(path string, d fs.DirEntry, walkErr error) error {
		if ix.stopped(ctx) {
			return fs.SkipAll
		}
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				ix.status.AddPermissionErrors(1)
				return nil
			}
			// The tree can mutate under the walker; vanished paths are fine.
			if os.IsNotExist(walkErr) {
				return nil
			}
			return nil
		}

		depth := relDepth(scanRoot, path)
		isDir := d.IsDir()

		if v := ix.ignore.Evaluate(path, isDir); v.Skip {
			if isDir && !v.Descend {
				return filepath.SkipDir
			}
			return nil
		}

		if pass == 0 && depth > shallowDepth {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		ix.scanned.Add(1)
		ix.status.ReportProgress(ix.scanned.Load(), ix.indexed.Load(), path)

		if pass == 1 && depth <= shallowDepth {
			// Shallow levels were emitted by pass 0; traverse only.
			return nil
		}

		row := ix.rowFor(path, d, sigs, runID)
		select {
		case rows <- row:
		case <-ctx.Done():
			return fs.SkipAll
		}
		return nil
	})
}

// rowFor builds the upsert row, choosing the lightweight path when the
// preloaded signature matches.
func (ix *Indexer) rowFor(path string, d fs.DirEntry, sigs map[string]store.Signature, runID int64) store.Row {
	var mtime, size *int64
	isDir := d.IsDir()
	if info, err := d.Info(); err == nil {
		mt := info.ModTime().Unix()
		mtime = &mt
		if !isDir {
			sz := info.Size()
			size = &sz
		}
	}
	e := entry.New(path, isDir, mtime, size, time.Now().Unix(), runID)

	light := false
	if sig, ok := sigs[e.Path]; ok {
		var mt, sz int64
		if mtime != nil {
			mt = *mtime
		}
		if size != nil {
			sz = *size
		}
		light = sig.MTime == mt && sig.Size == sz
	}
	return store.Row{Entry: e, Light: light}
}

// drainRows is the single DB writer: it owns every write transaction of the
// run and, during pass 0, builds the in-memory index in lock-step.
func (ix *Indexer) drainRows(ctx context.Context, bulk *store.BulkSession, rows <-chan store.Row, batchSize int, builder *memindex.Builder) error {
	batch := make([]store.Row, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := bulk.UpsertBatch(ctx, batch); err != nil {
			return err
		}
		ix.indexed.Add(int64(len(batch)))
		ix.status.ReportProgress(ix.scanned.Load(), ix.indexed.Load(), batch[len(batch)-1].Entry.Path)
		batch = batch[:0]
		return nil
	}

	for r := range rows {
		if builder != nil {
			builder.Append(r.Entry)
		}
		batch = append(batch, r)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				// Drain the channel so producers never block on a dead writer.
				for range rows {
				}
				return err
			}
		}
	}
	return flush()
}

func (ix *Indexer) stopped(ctx context.Context) bool {
	return ix.stopFlag.Load() || ctx.Err() != nil
}

// relDepth counts path segments below the scan root (direct children are
// depth 1).
func relDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
