package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNegativeCacheWindow(t *testing.T) {
	now := time.Now()
	n := newNegativeCache()
	n.now = func() time.Time { return now }

	assert.Equal(t, negMiss, n.check("q"))
	n.record("q")

	// Immediately after the miss: suppressed, no fallback yet.
	assert.Equal(t, negSuppressed, n.check("q"))

	// Inside the 300-550ms window: exactly one fallback attempt.
	now = now.Add(400 * time.Millisecond)
	assert.Equal(t, negTryFallback, n.check("q"))
	assert.Equal(t, negSuppressed, n.check("q"))

	// Past the window: the cache is authoritative until the TTL lapses.
	now = now.Add(600 * time.Millisecond)
	assert.Equal(t, negSuppressed, n.check("q"))

	now = now.Add(negTTL)
	assert.Equal(t, negMiss, n.check("q"))
}

func TestNegativeCacheEviction(t *testing.T) {
	n := newNegativeCache()
	for i := 0; i < negMaxEntries+5; i++ {
		n.record(string(rune('a'+i%26)) + time.Duration(i).String())
	}
	assert.LessOrEqual(t, n.order.Len(), negMaxEntries)
}
