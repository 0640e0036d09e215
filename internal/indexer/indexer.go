package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/extractor"
	"github.com/dshills/docsearch-mcp/internal/fetcher"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// DefaultBatchSize is the number of documents embedded and committed together
const DefaultBatchSize = 20

// ErrRefreshInProgress is returned when Refresh is called while another refresh runs
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Indexer coordinates the refresh pipeline: fetch -> extract -> embed -> store
type Indexer struct {
	fetcher   fetcher.Fetcher
	extractor *extractor.Extractor
	embedder  embedder.Embedder
	store     storage.Store
	logger    *zap.Logger

	workers   int
	batchSize int

	lock IndexLock
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int // Concurrent extract/embed workers (default: runtime.NumCPU())
	BatchSize int // Documents per embedding call and transaction (default: 20)
}

// Statistics contains statistics about one refresh
type Statistics struct {
	Fetched       int
	Indexed       int
	Failed        int
	Duration      time.Duration
	ErrorMessages []string
}

// Option configures an Indexer
type Option func(*Indexer)

// WithConfig applies worker and batch settings; zero values keep the defaults
func WithConfig(cfg Config) Option {
	return func(idx *Indexer) {
		if cfg.Workers > 0 {
			idx.workers = cfg.Workers
		}
		if cfg.BatchSize > 0 {
			idx.batchSize = cfg.BatchSize
		}
	}
}

// WithExtractor replaces the default extractor
func WithExtractor(ex *extractor.Extractor) Option {
	return func(idx *Indexer) {
		if ex != nil {
			idx.extractor = ex
		}
	}
}

// WithLogger sets the logger for per-document failures and run summaries
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates a new Indexer instance
func New(f fetcher.Fetcher, emb embedder.Embedder, store storage.Store, opts ...Option) *Indexer {
	idx := &Indexer{
		fetcher:   f,
		extractor: extractor.New(),
		embedder:  emb,
		store:     store,
		logger:    zap.NewNop(),
		workers:   runtime.NumCPU(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Running reports whether a refresh is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// EmbeddingText is the text a document is embedded from
func EmbeddingText(doc *types.Document) string {
	return doc.Title + " " + doc.Content
}

// failures collects per-document errors from concurrent workers
type failures struct {
	mu       sync.Mutex
	count    atomic.Int32
	messages []string
}

func (f *failures) add(path string, err error) {
	f.count.Add(1)
	f.mu.Lock()
	f.messages = append(f.messages, fmt.Sprintf("%s: %v", path, err))
	f.mu.Unlock()
}

// Refresh re-reads the whole corpus and upserts every document it can
// extract. Per-document failures are counted in the statistics; only
// fetch, cancellation and bookkeeping failures are returned as errors.
func (idx *Indexer) Refresh(ctx context.Context) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrRefreshInProgress
	}
	defer idx.lock.Release()

	started := time.Now()
	stats, err := idx.refresh(ctx, started)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RefreshRunsTotal.WithLabelValues(status).Inc()
	metrics.RefreshDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		idx.logger.Error("refresh failed", zap.Error(err))
		return nil, err
	}

	metrics.RefreshDocumentsTotal.WithLabelValues("indexed").Add(float64(stats.Indexed))
	metrics.RefreshDocumentsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
	idx.logger.Info("refresh complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("indexed", stats.Indexed),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (idx *Indexer) refresh(ctx context.Context, started time.Time) (*Statistics, error) {
	sources, err := idx.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus: %w", err)
	}

	fails := &failures{}
	docs, err := idx.extractAll(ctx, sources, started, fails)
	if err != nil {
		return nil, err
	}

	var indexed atomic.Int32
	if err := idx.embedAll(ctx, docs); err != nil {
		return nil, err
	}

	for i := 0; i < len(docs); i += idx.batchSize {
		end := min(i+idx.batchSize, len(docs))
		if err := idx.storeBatch(ctx, docs[i:end], &indexed, fails); err != nil {
			return nil, err
		}
	}

	finished := time.Now()
	stats := &Statistics{
		Fetched:       len(sources),
		Indexed:       int(indexed.Load()),
		Failed:        int(fails.count.Load()),
		Duration:      finished.Sub(started),
		ErrorMessages: fails.messages,
	}
	if stats.ErrorMessages == nil {
		stats.ErrorMessages = make([]string, 0)
	}

	run := &storage.RefreshRun{
		StartedAt:  started,
		FinishedAt: finished,
		Fetched:    stats.Fetched,
		Indexed:    stats.Indexed,
		Failed:     stats.Failed,
	}
	if err := idx.store.RecordRefresh(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record refresh: %w", err)
	}
	return stats, nil
}

// extractAll turns fetched sources into documents concurrently. The result
// keeps source order and omits sources that failed.
func (idx *Indexer) extractAll(ctx context.Context, sources []fetcher.Source, started time.Time, fails *failures) ([]*types.Document, error) {
	extracted := make([]*types.Document, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i := range sources {
		src := &sources[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if src.Err != nil {
				idx.logger.Warn("source unavailable", zap.String("path", src.Path), zap.Error(src.Err))
				fails.add(src.Path, src.Err)
				return nil
			}

			doc, err := idx.extractor.Extract(src.Path, src.Content)
			if err != nil {
				idx.logger.Warn("extract failed", zap.String("path", src.Path), zap.Error(err))
				fails.add(src.Path, err)
				return nil
			}

			doc.LastUpdated = src.ModTime
			if doc.LastUpdated.IsZero() {
				doc.LastUpdated = started
			}
			extracted[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]*types.Document, 0, len(extracted))
	for _, d := range extracted {
		if d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// embedAll fills in Embedding batch by batch. A failed batch leaves its
// documents without a vector; they are still stored and stay reachable
// through keyword and concept search.
func (idx *Indexer) embedAll(ctx context.Context, docs []*types.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i := 0; i < len(docs); i += idx.batchSize {
		batch := docs[i:min(i+idx.batchSize, len(docs))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, d := range batch {
				texts[j] = EmbeddingText(d)
			}

			resp, err := idx.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts})
			if err == nil && len(resp.Embeddings) != len(batch) {
				err = fmt.Errorf("%w: expected %d embeddings, got %d", embedder.ErrProviderFailed, len(batch), len(resp.Embeddings))
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				idx.logger.Warn("embedding batch failed, storing without vectors",
					zap.Int("documents", len(batch)), zap.Error(err))
				return nil
			}

			for j, emb := range resp.Embeddings {
				batch[j].Embedding = emb.Vector
			}
			return nil
		})
	}

	return g.Wait()
}

// storeBatch writes docs in one transaction. Documents the store rejects are
// counted as failures; the rest of the batch is still committed.
func (idx *Indexer) storeBatch(ctx context.Context, docs []*types.Document, indexed *atomic.Int32, fails *failures) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ok int32
	for _, doc := range docs {
		if err := tx.UpsertDocument(ctx, doc); err != nil {
			idx.logger.Warn("upsert failed", zap.String("path", doc.Path), zap.Error(err))
			fails.add(doc.Path, err)
			continue
		}
		ok++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	indexed.Add(ok)
	return nil
}
