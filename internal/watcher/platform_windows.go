//go:build windows

package watcher

import (
	"context"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/entry"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// NewPlatformSource returns the USN journal poller primed with the MFT
// hand-off (when a bulk pass just ran) or the persisted cursors. If it
// cannot start, serve falls back to NewFallbackSource.
func NewPlatformSource(ctx context.Context, cfg config.Config, s *store.Store, ig *ignoreengine.Engine, handoff *indexer.MFTHandoff) Source {
	sinceUSN, _, _ := s.GetMeta(ctx, entry.MetaWinLastUSN)
	journalID, _, _ := s.GetMeta(ctx, entry.MetaWinJournalID)
	return NewUSNSource(cfg.ScanRoot, handoff, sinceUSN, journalID)
}
