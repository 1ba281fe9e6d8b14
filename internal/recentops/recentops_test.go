package recentops

import (
	"testing"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/stretchr/testify/assert"
)

func TestSuppressedWithinTTL(t *testing.T) {
	now := time.Now()
	c := New()
	c.now = func() time.Time { return now }

	c.Register("/r/a.txt", "/r/b.txt", entry.OpRename)

	assert.True(t, c.Suppressed("/r/a.txt"))
	assert.True(t, c.Suppressed("/r/b.txt"))
	assert.False(t, c.Suppressed("/r/c.txt"))

	now = now.Add(TTL + time.Millisecond)
	assert.False(t, c.Suppressed("/r/a.txt"))
	assert.False(t, c.Suppressed("/r/b.txt"))
	assert.Equal(t, 0, c.Len())
}

func TestBoundedEviction(t *testing.T) {
	now := time.Now()
	c := New()
	c.now = func() time.Time { return now }

	for i := 0; i < maxEntries+10; i++ {
		c.Register("/r/x", "", entry.OpDelete)
	}
	assert.Equal(t, maxEntries, c.Len())
}
