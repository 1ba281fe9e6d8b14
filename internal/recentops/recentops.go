// Package recentops holds the short-TTL set of self-initiated file
// operations. The watcher consults it before applying a change so the app
// does not undo or re-report what it just did itself.
package recentops

import (
	"sync"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
)

const (
	// TTL is how long a registered operation suppresses matching watcher
	// events.
	TTL = 2 * time.Second

	// maxEntries bounds the list; a burst of registrations beyond this evicts
	// the oldest records first.
	maxEntries = 256
)

// Cache is the process-wide bounded list of recent operations behind a
// single lock.
type Cache struct {
	mu  sync.Mutex
	ops []entry.RecentOp
	now func() time.Time
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{now: time.Now}
}

// Register records a self-initiated operation. For renames both the old and
// new path suppress watcher echo until the TTL lapses.
func (c *Cache) Register(oldPath, newPath string, kind entry.OpKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	if len(c.ops) >= maxEntries {
		c.ops = c.ops[1:]
	}
	c.ops = append(c.ops, entry.RecentOp{
		OldPath: oldPath,
		NewPath: newPath,
		Kind:    kind,
		Stamp:   c.now(),
	})
}

// Suppressed reports whether a watcher-observed change to path matches a
// live record.
func (c *Cache) Suppressed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneLocked(now)
	for _, op := range c.ops {
		if op.OldPath == path || (op.NewPath != "" && op.NewPath == path) {
			return true
		}
	}
	return false
}

// Len returns the number of live records; used by tests and status output.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return len(c.ops)
}

func (c *Cache) pruneLocked(now time.Time) {
	live := c.ops[:0]
	for _, op := range c.ops {
		if !op.Expired(now, TTL) {
			live = append(live, op)
		}
	}
	c.ops = live
}
