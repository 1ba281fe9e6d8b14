//go:build darwin

package watcher

import (
	"context"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// NewPlatformSource returns the FSEvents stream, resumed from the persisted
// event id when one exists.
func NewPlatformSource(ctx context.Context, cfg config.Config, s *store.Store, ig *ignoreengine.Engine, handoff *indexer.MFTHandoff) Source {
	since, _, _ := s.GetMeta(ctx, entry.MetaLastEventID)
	return NewFSEventsSource(cfg.ScanRoot, since)
}
