package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransitionsAreMonotonic(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Unknown, tr.Snapshot().State)

	tr.SetState(Indexing, "")
	assert.Equal(t, Indexing, tr.Snapshot().State)

	// Backward transition is dropped.
	tr.SetState(Unknown, "")
	assert.Equal(t, Indexing, tr.Snapshot().State)

	tr.SetState(Ready, "")
	assert.Equal(t, Ready, tr.Snapshot().State)

	// Ready cannot jump to Error; only non-terminal states can.
	tr.SetState(Error, "boom")
	assert.Equal(t, Ready, tr.Snapshot().State)

	// A new run re-enters Indexing, which may then fail.
	tr.SetState(Indexing, "")
	tr.SetState(Error, "boom")
	assert.Equal(t, Error, tr.Snapshot().State)
	assert.Equal(t, "boom", tr.Snapshot().Message)
}

func TestProgressThrottle(t *testing.T) {
	now := time.Now()
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	var emissions int
	tr.OnProgress = func(Progress) { emissions++ }

	tr.ReportProgress(1, 1, "/a")
	tr.ReportProgress(2, 2, "/b")
	assert.Equal(t, 1, emissions)

	now = now.Add(progressEmitInterval)
	tr.ReportProgress(3, 3, "/c")
	assert.Equal(t, 2, emissions)

	// The record itself always reflects the latest tuple.
	assert.Equal(t, int64(3), tr.Snapshot().Progress.Scanned)
}

func TestErrorStateEmitsImmediately(t *testing.T) {
	now := time.Now()
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	var states []State
	tr.OnState = func(s Snapshot) { states = append(states, s.State) }

	tr.SetState(Indexing, "")
	tr.SetState(Error, "disk gone")
	assert.Equal(t, []State{Indexing, Error}, states)
}
