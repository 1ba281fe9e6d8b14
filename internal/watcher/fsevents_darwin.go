//go:build darwin

package watcher

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/mutagen-io/fsevents"
)

// fseventsLatency is the coalescing latency requested from the OS.
const fseventsLatency = 300 * time.Millisecond

// FSEventsSource is the macOS change stream: file-level events with no
// deferral, resumed from the persisted event id so changes made while the
// app was not running replay on startup.
type FSEventsSource struct {
	root  string
	since uint64

	stream    *fsevents.EventStream
	latest    atomic.Uint64
	replaying atomic.Bool
	done      chan struct{}
}

// NewFSEventsSource builds the stream rooted at the scan root. since is the
// persisted last_event_id, or empty on a first run.
func NewFSEventsSource(root, since string) *FSEventsSource {
	s := &FSEventsSource{root: root}
	if since != "" {
		if id, err := strconv.ParseUint(since, 10, 64); err == nil {
			s.since = id
		}
	}
	return s
}

// Start opens the event stream on its own runloop thread and begins
// translation.
func (s *FSEventsSource) Start(ctx context.Context, events chan<- Event) error {
	raw := make(chan []fsevents.Event, 64)
	stream := &fsevents.EventStream{
		Events:  raw,
		Paths:   []string{s.root},
		Latency: fseventsLatency,
		Flags:   fsevents.FileEvents | fsevents.NoDefer | fsevents.WatchRoot,
	}
	if s.since > 0 {
		stream.EventID = s.since
		stream.Resume = true
		s.replaying.Store(true)
	} else {
		stream.EventID = fsevents.LatestEventID()
	}
	s.stream = stream
	s.done = make(chan struct{})
	stream.Start()

	go s.translate(ctx, raw, events)
	return nil
}

// Stop tears the stream down.
func (s *FSEventsSource) Stop() {
	if s.stream != nil {
		s.stream.Stop()
	}
	if s.done != nil {
		<-s.done
	}
}

// CursorKey persists the FSEvents id cursor.
func (s *FSEventsSource) CursorKey() string { return entry.MetaLastEventID }

// Cursor returns the highest event id seen so far.
func (s *FSEventsSource) Cursor() string {
	id := s.latest.Load()
	if id == 0 {
		return ""
	}
	return strconv.FormatUint(id, 10)
}

// Replaying reports whether historical replay is still in flight.
func (s *FSEventsSource) Replaying() bool { return s.replaying.Load() }

func (s *FSEventsSource) translate(ctx context.Context, raw <-chan []fsevents.Event, events chan<- Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-raw:
			if !ok {
				return
			}
			var paths []string
			for _, ev := range batch {
				if ev.ID > s.latest.Load() {
					s.latest.Store(ev.ID)
				}
				switch {
				case ev.Flags&fsevents.HistoryDone != 0:
					s.replaying.Store(false)
					send(ctx, events, Event{Kind: EventHistoryDone})
				case ev.Flags&fsevents.MustScanSubDirs != 0:
					send(ctx, events, Event{Kind: EventMustScan, Paths: []string{ev.Path}})
				case ev.Flags&fsevents.EventIDsWrapped != 0:
					send(ctx, events, Event{Kind: EventStreamLost})
				default:
					paths = append(paths, ev.Path)
				}
			}
			if len(paths) > 0 {
				send(ctx, events, Event{Kind: EventPaths, Paths: paths})
			}
		}
	}
}
