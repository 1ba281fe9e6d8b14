// Package status holds the process-wide index status record. The indexer is
// the only writer of state transitions; everything else reads snapshots.
package status

import (
	"sync"
	"time"
)

// State is the coarse lifecycle of the index.
type State string

const (
	Unknown  State = "Unknown"
	Indexing State = "Indexing"
	Ready    State = "Ready"
	Error    State = "Error"
)

const (
	// stateEmitInterval throttles state change notifications.
	stateEmitInterval = 2 * time.Second
	// progressEmitInterval throttles progress tuple notifications.
	progressEmitInterval = 200 * time.Millisecond
)

// Progress is the running (scanned, indexed, current path) tuple.
type Progress struct {
	Scanned     int64
	Indexed     int64
	CurrentPath string
}

// Snapshot is the full status record handed to the command surface.
type Snapshot struct {
	State            State
	Message          string
	EntriesCount     int64
	LastUpdated      int64
	PermissionErrors int64
	BackgroundActive bool
	IsCatchup        bool
	Progress         Progress
}

// Tracker owns the mutable status record behind a single mutex.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot

	// OnState and OnProgress, when set, receive throttled notifications.
	// Both are invoked without the tracker lock held.
	OnState    func(Snapshot)
	OnProgress func(Progress)

	lastStateEmit    time.Time
	lastProgressEmit time.Time
	now              func() time.Time
}

// NewTracker returns a tracker in the Unknown state.
func NewTracker() *Tracker {
	return &Tracker{
		snap: Snapshot{State: Unknown},
		now:  time.Now,
	}
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// SetState transitions the status. Transitions are monotonic within a run:
// Unknown -> Indexing -> Ready, or any non-terminal state -> Error. A
// transition back to Indexing is only legal from Ready or Error (a new run).
func (t *Tracker) SetState(s State, message string) {
	t.mu.Lock()
	if !legalTransition(t.snap.State, s) {
		t.mu.Unlock()
		return
	}
	t.snap.State = s
	t.snap.Message = message
	if s != Indexing {
		t.snap.IsCatchup = false
	}
	emit, snap := t.shouldEmitStateLocked()
	t.mu.Unlock()
	if emit && t.OnState != nil {
		t.OnState(snap)
	}
}

func legalTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case Unknown:
		return to == Indexing || to == Error
	case Indexing:
		return to == Ready || to == Error
	case Ready, Error:
		return to == Indexing
	}
	return false
}

// shouldEmitStateLocked applies the 2s throttle; an Error transition always
// emits immediately.
func (t *Tracker) shouldEmitStateLocked() (bool, Snapshot) {
	now := t.now()
	if t.snap.State != Error && now.Sub(t.lastStateEmit) < stateEmitInterval {
		return false, t.snap
	}
	t.lastStateEmit = now
	return true, t.snap
}

// SetCatchup marks the current Indexing phase as an offline catch-up pass.
func (t *Tracker) SetCatchup(on bool) {
	t.mu.Lock()
	t.snap.IsCatchup = on
	t.mu.Unlock()
}

// SetBackgroundActive flags ongoing background work (deep pass, bulk upsert)
// after the index is already serving queries.
func (t *Tracker) SetBackgroundActive(on bool) {
	t.mu.Lock()
	t.snap.BackgroundActive = on
	t.mu.Unlock()
}

// ReportProgress updates the running tuple, emitting at most once per 200ms.
func (t *Tracker) ReportProgress(scanned, indexed int64, currentPath string) {
	t.mu.Lock()
	t.snap.Progress = Progress{Scanned: scanned, Indexed: indexed, CurrentPath: currentPath}
	now := t.now()
	emit := now.Sub(t.lastProgressEmit) >= progressEmitInterval
	if emit {
		t.lastProgressEmit = now
	}
	p := t.snap.Progress
	t.mu.Unlock()
	if emit && t.OnProgress != nil {
		t.OnProgress(p)
	}
}

// AddPermissionErrors bumps the per-scan permission denial counter.
func (t *Tracker) AddPermissionErrors(n int64) {
	t.mu.Lock()
	t.snap.PermissionErrors += n
	t.mu.Unlock()
}

// ResetCounters clears the per-run counters at the start of a run.
func (t *Tracker) ResetCounters() {
	t.mu.Lock()
	t.snap.PermissionErrors = 0
	t.snap.Progress = Progress{}
	t.mu.Unlock()
}

// SetEntriesCount records the corpus size and its last update time.
func (t *Tracker) SetEntriesCount(n int64, updated time.Time) {
	t.mu.Lock()
	t.snap.EntriesCount = n
	t.snap.LastUpdated = updated.Unix()
	t.mu.Unlock()
}
