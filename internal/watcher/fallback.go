package watcher

import (
	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
)

// NewFallbackSource is the last rung of the fallback chain on every
// platform: fsnotify-backed recursive watches.
func NewFallbackSource(cfg config.Config, ig *ignoreengine.Engine) Source {
	return NewFSNotifySource(cfg.ScanRoot, ig)
}
