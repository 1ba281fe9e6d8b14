package watcher

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/fsnotify/fsnotify"
)

// FSNotifySource is the portable fallback change stream: recursive
// per-directory watches through fsnotify. On Windows fsnotify's backend is
// ReadDirectoryChangesW, which makes this the RDCW fallback path; the
// wall-clock activity cursor it persists drives offline catch-up on the
// next launch.
type FSNotifySource struct {
	root   string
	ignore *ignoreengine.Engine

	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	watched    map[string]struct{}
	lastActive time.Time
	renamePend map[string]time.Time // old paths awaiting their create half

	done chan struct{}
}

// renamePairWindow is how long a rename-old waits for its matching create
// before being treated as a plain delete.
const renamePairWindow = 500 * time.Millisecond

// NewFSNotifySource builds the fallback source rooted at the scan root.
func NewFSNotifySource(root string, ig *ignoreengine.Engine) *FSNotifySource {
	return &FSNotifySource{
		root:       entry.Canonicalize(root),
		ignore:     ig,
		watched:    make(map[string]struct{}),
		renamePend: make(map[string]time.Time),
	}
}

// Start installs watches over the tree and begins translating events.
func (s *FSNotifySource) Start(ctx context.Context, events chan<- Event) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.addTree(s.root)

	go s.loop(ctx, events)
	return nil
}

// Stop tears the watcher down.
func (s *FSNotifySource) Stop() {
	s.mu.Lock()
	w := s.watcher
	done := s.done
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	if done != nil {
		<-done
	}
}

// CursorKey persists the wall-clock activity stamp used for offline
// catch-up.
func (s *FSNotifySource) CursorKey() string { return entry.MetaRDCWLastActive }

// Cursor returns the last observed activity as unix seconds.
func (s *FSNotifySource) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActive.IsZero() {
		return ""
	}
	return strconv.FormatInt(s.lastActive.Unix(), 10)
}

// Replaying is always false; fsnotify has no historical replay.
func (s *FSNotifySource) Replaying() bool { return false }

func (s *FSNotifySource) loop(ctx context.Context, events chan<- Event) {
	defer close(s.done)
	w := s.currentWatcher()
	if w == nil {
		return
	}
	pairTicker := time.NewTicker(renamePairWindow / 2)
	defer pairTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.touch()
			path := entry.Canonicalize(ev.Name)
			switch {
			case ev.Op&fsnotify.Create != 0:
				// A create shortly after a rename-old is the rename's second
				// half; both paths flush together.
				s.resolveRenames(events, path)
				if info, err := os.Lstat(path); err == nil && info.IsDir() {
					s.addTree(path)
				}
				send(ctx, events, Event{Kind: EventPaths, Paths: []string{path}})
			case ev.Op&fsnotify.Rename != 0:
				s.mu.Lock()
				s.renamePend[path] = time.Now()
				s.mu.Unlock()
				s.dropWatch(path)
			case ev.Op&fsnotify.Remove != 0:
				s.dropWatch(path)
				send(ctx, events, Event{Kind: EventPaths, Paths: []string{path}})
			case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Chmod != 0:
				send(ctx, events, Event{Kind: EventPaths, Paths: []string{path}})
			}
		case <-pairTicker.C:
			s.expireRenames(ctx, events)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify: %v", err)
		}
	}
}

// resolveRenames flushes any pending rename-old paths; the newly created
// path is their likely destination.
func (s *FSNotifySource) resolveRenames(events chan<- Event, _ string) {
	s.mu.Lock()
	olds := make([]string, 0, len(s.renamePend))
	for old := range s.renamePend {
		olds = append(olds, old)
	}
	s.renamePend = make(map[string]time.Time)
	s.mu.Unlock()
	for _, old := range olds {
		select {
		case events <- Event{Kind: EventPaths, Paths: []string{old}}:
		default:
		}
	}
}

// expireRenames turns unmatched rename-olds into deletes after the pairing
// window lapses.
func (s *FSNotifySource) expireRenames(ctx context.Context, events chan<- Event) {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for old, stamp := range s.renamePend {
		if now.Sub(stamp) >= renamePairWindow {
			expired = append(expired, old)
			delete(s.renamePend, old)
		}
	}
	s.mu.Unlock()
	for _, old := range expired {
		send(ctx, events, Event{Kind: EventPaths, Paths: []string{old}})
	}
}

// addTree installs watches on a directory and everything under it, skipping
// ignored subtrees.
func (s *FSNotifySource) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if v := s.ignore.Evaluate(path, true); v.Skip {
			return filepath.SkipDir
		}
		s.addWatch(path)
		return nil
	})
}

func (s *FSNotifySource) addWatch(path string) {
	s.mu.Lock()
	w := s.watcher
	if w == nil {
		s.mu.Unlock()
		return
	}
	if _, ok := s.watched[path]; ok {
		s.mu.Unlock()
		return
	}
	s.watched[path] = struct{}{}
	s.mu.Unlock()
	if err := w.Add(path); err != nil {
		log.Printf("watcher: watch %s: %v", path, err)
	}
}

func (s *FSNotifySource) dropWatch(path string) {
	s.mu.Lock()
	delete(s.watched, path)
	s.mu.Unlock()
}

func (s *FSNotifySource) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *FSNotifySource) currentWatcher() *fsnotify.Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher
}

func send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
