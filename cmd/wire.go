package cmd

import (
	"fmt"

	"github.com/atomicobject/filesearch-core/internal/config"
	"github.com/atomicobject/filesearch-core/internal/ignoreengine"
	"github.com/atomicobject/filesearch-core/internal/indexer"
	"github.com/atomicobject/filesearch-core/internal/query"
	"github.com/atomicobject/filesearch-core/internal/recentops"
	"github.com/atomicobject/filesearch-core/internal/rpc"
	"github.com/atomicobject/filesearch-core/internal/status"
	"github.com/atomicobject/filesearch-core/internal/store"
)

// core is the assembled engine stack shared by every subcommand.
type core struct {
	cfg     config.Config
	store   *store.Store
	ignore  *ignoreengine.Engine
	tracker *status.Tracker
	engine  *query.Engine
	indexer *indexer.Indexer
	recent  *recentops.Cache
}

func buildCore() (*core, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DBPath, store.Options{BusyRetryDelay: cfg.BusyRetryDelay})
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	ig := ignoreengine.New(ignoreengine.Options{
		ScanRoot:        cfg.ScanRoot,
		PathIgnoreFiles: cfg.IgnoreFiles,
	})
	tracker := status.NewTracker()
	engine := query.New(s, ig, query.Options{
		ScanRoot:        cfg.ScanRoot,
		DefaultLimit:    cfg.DefaultLimit,
		ShortQueryLimit: cfg.ShortQueryLimit,
		MaxLimit:        cfg.MaxLimit,
	})
	ix := indexer.New(cfg, s, ig, tracker, engine)

	return &core{
		cfg:     cfg,
		store:   s,
		ignore:  ig,
		tracker: tracker,
		engine:  engine,
		indexer: ix,
		recent:  recentops.New(),
	}, nil
}

func (c *core) rpcConfig() rpc.Config {
	return rpc.Config{
		Cfg:     c.cfg,
		Status:  c.tracker,
		Indexer: c.indexer,
		Query:   c.engine,
		Recent:  c.recent,
	}
}

func (c *core) Close() {
	_ = c.store.Close()
}
