// Package watcher keeps the index coherent after the bulk scan: a
// platform-native change stream feeds a debounced pending set that flushes
// through the indexer's upsert/delete pipeline, with cursor persistence so
// replay survives restarts.
package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/recentops"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// State is the watcher lifecycle.
type State string

const (
	Stopped  State = "Stopped"
	Starting State = "Starting"
	Running  State = "Running"
	Stopping State = "Stopping"
)

// EventKind classifies what a source delivered.
type EventKind int

const (
	// EventPaths carries individual changed paths.
	EventPaths EventKind = iota
	// EventMustScan reports a stale subtree that needs a recursive re-scan.
	EventMustScan
	// EventHistoryDone ends historical replay (macOS).
	EventHistoryDone
	// EventStreamLost reports that the native stream reset underneath us;
	// the cursor is cleared and an incremental run is scheduled.
	EventStreamLost
)

// Event is one unit from a native source.
type Event struct {
	Kind  EventKind
	Paths []string
}

// Source abstracts the platform change stream.
type Source interface {
	// Start begins delivery into events and returns once the stream is
	// established. Replaying reports whether historical replay is running.
	Start(ctx context.Context, events chan<- Event) error
	Stop()
	// CursorKey is the meta slot this source persists its cursor under;
	// empty when the source has no durable cursor.
	CursorKey() string
	// Cursor is the latest value to persist.
	Cursor() string
	// Replaying reports whether the source is still delivering history.
	Replaying() bool
}

// replayMustScanLimit aborts replay when the OS floods us with stale
// subtrees; an incremental full walk is cheaper at that point.
const replayMustScanLimit = 10

// Watcher owns the event loop and the debounced flush.
type Watcher struct {
	cfg    config.Config
	store  *store.Store
	recent *recentops.Cache
	ix     *indexer.Indexer
	status *status.Tracker
	source Source

	debounce time.Duration

	mu             sync.Mutex
	state          State
	pending        map[string]struct{}
	lastEventAt    time.Time
	replayMustScan int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a watcher to its source and collaborators.
func New(cfg config.Config, s *store.Store, recent *recentops.Cache, ix *indexer.Indexer, st *status.Tracker, src Source) *Watcher {
	w := newWatcher(cfg, s, recent, ix, st, src)
	// A source that pre-coalesces (the USN poller) widens the quiet window.
	if d, ok := src.(interface{ Debounce() time.Duration }); ok {
		w.debounce = d.Debounce()
	}
	return w
}

func newWatcher(cfg config.Config, s *store.Store, recent *recentops.Cache, ix *indexer.Indexer, st *status.Tracker, src Source) *Watcher {
	return &Watcher{
		cfg:      cfg,
		store:    s,
		recent:   recent,
		ix:       ix,
		status:   st,
		source:   src,
		debounce: cfg.DebounceInterval,
		state:    Stopped,
		pending:  make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Replaying reports whether the source is still replaying history.
func (w *Watcher) Replaying() bool {
	return w.State() == Running && w.source != nil && w.source.Replaying()
}

// Start establishes the stream and launches the event and flush loops.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Stopped {
		w.mu.Unlock()
		return nil
	}
	w.state = Starting
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	events := make(chan Event, 256)
	if err := w.source.Start(ctx, events); err != nil {
		cancel()
		w.setState(Stopped)
		return err
	}

	w.setState(Running)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.eventLoop(ctx, events)
	}()
	go func() {
		defer w.wg.Done()
		w.maintenanceLoop(ctx)
	}()
	return nil
}

// Stop drains cleanly: the source stops, the cursor is persisted, the state
// machine walks Stopping -> Stopped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != Running && w.state != Starting {
		w.mu.Unlock()
		return
	}
	w.state = Stopping
	w.mu.Unlock()

	w.source.Stop()
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.persistCursor(context.Background())
	w.setState(Stopped)
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// eventLoop consumes source events and runs the debounce clock.
func (w *Watcher) eventLoop(ctx context.Context, events <-chan Event) {
	ticker := time.NewTicker(w.debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case <-ticker.C:
			w.maybeFlush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventHistoryDone:
		w.mu.Lock()
		w.replayMustScan = 0
		w.mu.Unlock()

	case EventMustScan:
		w.mu.Lock()
		abandon := false
		if w.source.Replaying() {
			w.replayMustScan++
			abandon = w.replayMustScan >= replayMustScanLimit
		}
		// Do not merge with the in-progress debounce window; drop it.
		w.pending = make(map[string]struct{})
		w.mu.Unlock()

		if abandon {
			log.Printf("watcher: replay flooded with rescan requests; falling back to incremental walk")
			w.scheduleIncrementalRun(ctx)
			return
		}
		for _, p := range ev.Paths {
			w.ix.ApplyChanges(ctx, []string{p})
		}

	case EventStreamLost:
		log.Printf("watcher: native stream reset; clearing cursor and re-indexing")
		w.mu.Lock()
		w.pending = make(map[string]struct{})
		w.mu.Unlock()
		if key := w.source.CursorKey(); key != "" {
			if err := w.store.DeleteMeta(ctx, key); err != nil {
				log.Printf("watcher: clear cursor: %v", err)
			}
		}
		w.scheduleIncrementalRun(ctx)

	case EventPaths:
		w.mu.Lock()
		for _, p := range ev.Paths {
			w.pending[p] = struct{}{}
		}
		w.lastEventAt = time.Now()
		w.mu.Unlock()
	}
}

// maybeFlush applies the pending set once the debounce window has been
// quiet. While a bulk run is indexing, flushes are deferred; the indexer
// owns the DB.
func (w *Watcher) maybeFlush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 || time.Since(w.lastEventAt) < w.debounce {
		w.mu.Unlock()
		return
	}
	if w.status.Snapshot().State == status.Indexing {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	paths := make([]string, 0, len(batch))
	for p := range batch {
		if w.recent.Suppressed(p) {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return
	}
	w.ix.ApplyChanges(ctx, paths)
}

// Flush forces an immediate debounce flush; used by shutdown and tests.
func (w *Watcher) Flush(ctx context.Context) {
	w.mu.Lock()
	w.lastEventAt = time.Time{}
	w.mu.Unlock()
	w.maybeFlush(ctx)
}

// maintenanceLoop persists the event cursor on the configured interval.
func (w *Watcher) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CursorFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.persistCursor(ctx)
		}
	}
}

func (w *Watcher) persistCursor(ctx context.Context) {
	key := w.source.CursorKey()
	if key == "" {
		return
	}
	val := w.source.Cursor()
	if val == "" {
		return
	}
	if err := w.store.SetMeta(ctx, key, val); err != nil {
		log.Printf("watcher: persist cursor: %v", err)
	}
}

// scheduleIncrementalRun kicks a full indexer run in the background; its
// run id tombstones whatever disappeared while the stream was broken.
func (w *Watcher) scheduleIncrementalRun(ctx context.Context) {
	go func() {
		if err := w.ix.Start(ctx); err != nil && err != indexer.ErrAlreadyRunning {
			log.Printf("watcher: incremental run: %v", err)
		}
	}()
}
