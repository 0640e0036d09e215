package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/mcp"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/transport/httpapi"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// setup loads config and wires the app for a command
func setup(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return newApp(c.Context, cfg)
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("docsearch MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", a.cfg.Database.Driver),
		zap.String("embedding_provider", a.embedder.Provider()),
		zap.Bool("refresh_enabled", a.indexer != nil),
	)

	opts := []mcp.Option{mcp.WithLogger(a.logger.Named("mcp")), mcp.WithVersion(version)}
	if a.indexer != nil {
		opts = append(opts, mcp.WithIndexer(a.indexer))
	}
	server := mcp.NewServer(a.store, a.embedder, a.searcher, opts...)

	a.refreshIfEmpty(ctx)

	a.logger.Info("MCP server ready, listening on stdio")
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

func httpCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.HTTP.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	api := httpapi.NewServer(a.store, a.embedder, a.searcher, a.indexer, a.logger.Named("http"))
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	a.refreshIfEmpty(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error during shutdown", zap.Error(err))
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

func refreshCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.indexer == nil {
		return errors.New("no corpus source configured: set source.base_url or source.dir")
	}

	stats, err := a.indexer.Refresh(ctx)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "fetched %d, indexed %d, failed %d in %s\n",
		stats.Fetched, stats.Indexed, stats.Failed, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	concept := c.String("concept")
	if query == "" && concept == "" {
		return errors.New("a query or --concept is required")
	}

	filters := &types.SearchFilters{Tags: c.StringSlice("tag")}
	if d := c.String("difficulty"); d != "" {
		filters.Difficulty = types.Difficulty(strings.ToLower(d))
		if !filters.Difficulty.Valid() {
			return fmt.Errorf("unknown difficulty %q", d)
		}
	}
	opts := &searcher.Options{Limit: c.Int("limit")}
	if !filters.IsEmpty() {
		opts.Filters = filters
	}

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	var results []types.SearchResult
	if concept != "" {
		results, err = a.searcher.SearchByConcept(c.Context, concept, opts)
	} else {
		results, err = a.searcher.Search(c.Context, query, opts)
	}
	if err != nil {
		return err
	}

	printResults(c.App.Writer, results)
	return nil
}

func statusCommand(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.GetStatus(c.Context)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "driver:          %s (schema %s)\n", st.Driver, st.SchemaVersion)
	fmt.Fprintf(w, "documents:       %d (%d embedded)\n", st.Documents, st.Embedded)
	fmt.Fprintf(w, "code blocks:     %d\n", st.CodeBlocks)
	fmt.Fprintf(w, "concepts:        %d\n", st.Concepts)
	fmt.Fprintf(w, "index size:      %.2f MB\n", st.IndexSizeMB)
	fmt.Fprintf(w, "vector search:   %v\n", st.VectorSearch)
	fmt.Fprintf(w, "embedder:        %s (%d dims)\n", a.embedder.Provider(), a.embedder.Dimension())
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(w, "last updated:    %s\n", st.LastUpdated.Format(time.RFC3339))
	}
	if r := st.LastRefresh; r != nil {
		fmt.Fprintf(w, "last refresh:    %s, %d indexed, %d failed\n",
			r.FinishedAt.Format(time.RFC3339), r.Indexed, r.Failed)
	}
	return nil
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "docsearch MCP server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	return nil
}

func printResults(w io.Writer, results []types.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range results {
		d := r.Document
		fmt.Fprintf(w, "%d. %s [%s, %.3f]\n   %s (%s)\n", i+1, d.Title, r.Source, r.Similarity, d.Path, d.Difficulty)
		if d.Concept != "" {
			fmt.Fprintf(w, "   concept: %s\n", d.Concept)
		}
	}
}
