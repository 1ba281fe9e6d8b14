// Package indexer converges the persistent store (and, during bulk runs,
// the in-memory index) to the current filesystem state. One bulk run may be
// active per scan root; concurrent starts are rejected.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// ErrAlreadyRunning rejects a second concurrent bulk run.
var ErrAlreadyRunning = errors.New("indexer: bulk run already in progress")

// shallowDepth is the pass-0 depth bound; pass 1 covers everything deeper.
const shallowDepth = 6

// Indexer owns bulk runs, the shared upsert/delete write path, and the
// status record's state transitions.
type Indexer struct {
	cfg    config.Config
	store  *store.Store
	ignore *ignoreengine.Engine
	status *status.Tracker
	qe     *query.Engine

	// OnUpdated, when set, fires after bulk completion and after every
	// watcher-driven apply; the serve layer forwards it as index_updated.
	OnUpdated func()

	mu         sync.Mutex
	running    bool
	mftHandoff *MFTHandoff
	lastRun    atomic.Int64
	stopFlag   atomic.Bool

	scanned atomic.Int64
	indexed atomic.Int64
}

// New wires the indexer to its collaborators.
func New(cfg config.Config, s *store.Store, ig *ignoreengine.Engine, st *status.Tracker, qe *query.Engine) *Indexer {
	return &Indexer{cfg: cfg, store: s, ignore: ig, status: st, qe: qe}
}

// LastRunID returns the id of the most recent completed or in-flight run.
func (ix *Indexer) LastRunID() int64 { return ix.lastRun.Load() }

// Stop requests a clean exit at the next batch boundary.
func (ix *Indexer) Stop() { ix.stopFlag.Store(true) }

// Start executes one full bulk run. It blocks until the run finishes; serve
// wraps it in a goroutine.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return ErrAlreadyRunning
	}
	ix.running = true
	ix.mu.Unlock()
	defer func() {
		ix.mu.Lock()
		ix.running = false
		ix.mu.Unlock()
	}()

	ix.stopFlag.Store(false)
	ix.scanned.Store(0)
	ix.indexed.Store(0)
	ix.status.ResetCounters()
	ix.status.SetState(status.Indexing, "")

	runID, err := ix.nextRunID(ctx)
	if err != nil {
		ix.status.SetState(status.Error, err.Error())
		return err
	}
	ix.lastRun.Store(runID)

	if err := ix.runBulk(ctx, runID); err != nil {
		if errors.Is(err, errStopped) {
			// Clean cancellation; leave the partial run in place.
			ix.status.SetState(status.Ready, "indexing interrupted")
			return nil
		}
		ix.status.SetState(status.Error, err.Error())
		return err
	}

	ix.finishRun(ctx)
	return nil
}

// Reset truncates the entry table, clears the event cursors, and re-enters
// the bulk path. Queries stay answerable (empty) throughout.
func (ix *Indexer) Reset(ctx context.Context) error {
	if err := ix.store.TruncateEntries(ctx); err != nil {
		return err
	}
	if err := ix.store.DeleteMeta(ctx,
		entry.MetaLastEventID, entry.MetaWinLastUSN, entry.MetaWinJournalID,
		entry.MetaIndexComplete, entry.MetaRDCWLastActive, entry.MetaLastRunID,
	); err != nil {
		return err
	}
	ix.qe.InvalidateNegative()
	return ix.Start(ctx)
}

func (ix *Indexer) nextRunID(ctx context.Context) (int64, error) {
	raw, _, err := ix.store.GetMeta(ctx, entry.MetaLastRunID)
	if err != nil {
		return 0, err
	}
	last := int64(0)
	if raw != "" {
		if last, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, fmt.Errorf("indexer: corrupt %s %q: %w", entry.MetaLastRunID, raw, err)
		}
	}
	return last + 1, nil
}

// finishRun publishes the post-run bookkeeping shared by every strategy.
func (ix *Indexer) finishRun(ctx context.Context) {
	if err := ix.store.SetMeta(ctx, entry.MetaIndexComplete, "true"); err != nil {
		log.Printf("indexer: persist index_complete: %v", err)
	}
	n, err := ix.store.EntriesCount(ctx)
	if err == nil {
		ix.status.SetEntriesCount(n, time.Now())
	}
	ix.qe.SetMemIndex(nil)
	ix.qe.InvalidateNegative()
	ix.status.SetBackgroundActive(false)
	ix.status.SetState(status.Ready, "")
	if ix.OnUpdated != nil {
		ix.OnUpdated()
	}
}

// runBulk picks the platform strategy and falls back down the chain.
func (ix *Indexer) runBulk(ctx context.Context, runID int64) error {
	if runtime.GOOS == "windows" {
		if err := ix.runMFT(ctx, runID); err == nil {
			return nil
		} else if errors.Is(err, errStopped) {
			return err
		} else {
			log.Printf("indexer: MFT enumeration unavailable, falling back to walker: %v", err)
		}
	}
	return ix.runWalk(ctx, runID)
}

// walkerPoolSize sizes the directory enumeration pool.
func walkerPoolSize() int {
	n := runtime.NumCPU() / 2
	if n < 4 {
		n = 4
	}
	if n > 16 {
		n = 16
	}
	return n
}

var errStopped = errors.New("indexer: stopped")

// MFTHandoff carries the directory-FRN cache and journal cursor from the
// Windows bulk enumeration to the USN watcher, so later changes resolve
// without extra syscalls.
type MFTHandoff struct {
	DirPaths  map[uint64]string
	JournalID uint64
	NextUSN   int64
}

func (ix *Indexer) setMFTHandoff(h *MFTHandoff) {
	ix.mu.Lock()
	ix.mftHandoff = h
	ix.mu.Unlock()
}

// TakeMFTHandoff transfers ownership of the handoff to the caller (the
// watcher); subsequent calls return nil.
func (ix *Indexer) TakeMFTHandoff() *MFTHandoff {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	h := ix.mftHandoff
	ix.mftHandoff = nil
	return h
}
