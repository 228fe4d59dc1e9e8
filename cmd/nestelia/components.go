package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/keyword"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/precache"
	"github.com/hyperjump/nestelia/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex *keyword.BleveIndex
	Indexer      *keyword.Indexer
	Manager      *offline.Manager
	Trigger      *precache.Trigger
	logger       *zap.Logger
}

// Close waits for detached cache work, then releases storage and the index.
func (c *Components) Close() {
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// openStorage opens the configured partition backend.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Cache.Backend {
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Cache.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return storage.NewSQLiteStorage(cfg.Cache.DatabasePath)
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "redis":
		return storage.NewRedisStorage(ctx, cfg.Cache.RedisURL, cfg.Cache.Prefix)
	default:
		return nil, fmt.Errorf("unknown cache backend %q; use sqlite, memory or redis", cfg.Cache.Backend)
	}
}

// wikiPartition reports whether a partition holds wiki content, for any version.
func wikiPartition(prefix string) func(string) bool {
	p := prefix + "-wiki-"
	return func(name string) bool { return strings.HasPrefix(name, p) }
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool, hooks offline.Hooks) (*Components, error) {
	origin, err := url.Parse(cfg.Upstream.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid upstream origin %q", cfg.Upstream.Origin)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store, logger: logger}

	indexPath := cfg.Search.IndexPath
	if indexPath != "" {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}
	}
	c.KeywordIndex, err = keyword.NewBleveIndex(indexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	idxOpts := []keyword.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, keyword.WithLogger(logger))
	}
	c.Indexer = keyword.NewIndexer(c.KeywordIndex, wikiPartition(cfg.Cache.Prefix), idxOpts...)

	onActivate := hooks.OnActivate
	hooks.OnActivate = func(reg offline.Registration) {
		c.pruneIndex()
		if onActivate != nil {
			onActivate(reg)
		}
	}

	bootstrap := cfg.Cache.Bootstrap
	if len(bootstrap) == 0 {
		bootstrap = offline.DefaultBootstrap
	}
	c.Manager = offline.NewManager(
		store,
		offline.NewHTTPFetcher(cfg.Upstream.Timeout),
		origin,
		cfg.Cache.Prefix,
		offline.WithLogger(logger),
		offline.WithHooks(hooks),
		offline.WithBootstrap(bootstrap),
		offline.WithSkipWaiting(cfg.Cache.SkipWaiting),
		offline.WithSharedStore(cfg.Cache.Backend == "redis"),
		offline.WithOnStore(c.Indexer.OnStore),
	)
	c.Trigger = precache.NewTrigger(c.Manager, precache.WithLogger(logger))
	return c, nil
}

// pruneIndex drops indexed pages of generations that no longer govern requests.
func (c *Components) pruneIndex() {
	gen, ok := c.Manager.Active()
	if !ok {
		return
	}
	n, err := c.Indexer.Prune(context.Background(), gen.Owns)
	if err != nil {
		c.logger.Warn("index prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("pruned retired pages from index", zap.Int("pages", n))
	}
}
