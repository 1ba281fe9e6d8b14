//go:build !windows

package watcher

import (
	"context"
	"errors"
	"time"
)

// searchServiceChangedSince has no portable implementation; callers fall
// back to the mtime-bounded walk.
func searchServiceChangedSince(ctx context.Context, root string, since time.Time) ([]string, error) {
	return nil, errors.New("watcher: no search service on this platform")
}
