package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/config"
	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/fetcher"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/logger"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

// app holds the components shared by every command
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    storage.Store
	embedder embedder.Embedder
	searcher *searcher.Searcher
	indexer  *indexer.Indexer // nil when no source is configured
	cache    *fetcher.RawCache
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

// newApp wires storage, embedding, search and refresh from configuration
func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	log, err := logger.New(cfg.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}

	a.embedder, err = embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Dimension: cfg.Embedding.Dimension,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	policy, err := searcher.ParseMalformedPolicy(cfg.Search.MalformedRows)
	if err != nil {
		return nil, err
	}
	a.searcher = searcher.New(a.store, a.embedder,
		searcher.WithMalformedPolicy(policy),
		searcher.WithDefaultLimit(cfg.Search.DefaultLimit),
		searcher.WithLogger(log.Named("searcher")),
	)

	if cfg.RefreshEnabled() {
		f, err := a.openFetcher()
		if err != nil {
			return nil, err
		}
		a.indexer = indexer.New(f, a.embedder, a.store,
			indexer.WithConfig(indexer.Config{
				Workers:   cfg.Refresh.Workers,
				BatchSize: cfg.Refresh.BatchSize,
			}),
			indexer.WithLogger(log.Named("indexer")),
		)
	}

	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	opts := []storage.Option{storage.WithDimension(cfg.Embedding.Dimension)}

	switch cfg.Database.Driver {
	case "postgres":
		s, err := storage.NewPostgresStorage(ctx, cfg.Database.DSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		path, err := config.ExpandHome(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		s, err := storage.NewSQLiteStorage(path, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

func (a *app) openFetcher() (fetcher.Fetcher, error) {
	src := a.cfg.Source
	if src.Kind == "dir" {
		return fetcher.NewDirFetcher(src.Dir), nil
	}

	dir, err := config.ExpandHome(src.CacheDir)
	if err != nil {
		return nil, err
	}
	a.cache, err = fetcher.OpenRawCache(dir, src.CacheTTL, a.logger)
	if err != nil {
		return nil, err
	}

	return fetcher.NewHTTPFetcher(src.BaseURL,
		fetcher.WithHTTPClient(&http.Client{Timeout: src.Timeout}),
		fetcher.WithManifest(src.Manifest),
		fetcher.WithCache(a.cache),
		fetcher.WithWorkers(src.Workers),
		fetcher.WithLogger(a.logger.Named("fetcher")),
	)
}

// refreshIfEmpty runs a background refresh when on_start is set and the
// store holds no documents yet
func (a *app) refreshIfEmpty(ctx context.Context) {
	if a.indexer == nil || !a.cfg.Refresh.OnStart {
		return
	}
	n, err := a.store.CountDocuments(ctx)
	if err != nil {
		a.logger.Warn("could not count documents", zap.Error(err))
		return
	}
	if n > 0 {
		return
	}

	go func() {
		a.logger.Info("index is empty, refreshing")
		if _, err := a.indexer.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("startup refresh failed", zap.Error(err))
		}
	}()
}

// Close releases the store, embedder and raw cache
func (a *app) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close raw cache", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
