//go:build !darwin && !windows

package watcher

import (
	"context"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// NewPlatformSource has no native stream outside macOS and Windows; the
// fsnotify fallback covers development platforms.
func NewPlatformSource(ctx context.Context, cfg config.Config, s *store.Store, ig *ignoreengine.Engine, handoff *indexer.MFTHandoff) Source {
	return NewFSNotifySource(cfg.ScanRoot, ig)
}
