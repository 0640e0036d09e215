package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/fetcher"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/storage/storagetest"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

const statePage = `---
title: $state
concept: reactivity
difficulty: beginner
tags: [runes]
---
# $state

The $state rune declares reactive state.

` + "```svelte\nlet count = $state(0);\n```\n"

var modTime = time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)

func pages() []fetcher.Source {
	return []fetcher.Source{
		{Path: "svelte/02-runes/02-state.md", Content: []byte(statePage), ModTime: modTime},
		{Path: "svelte/02-runes/03-derived.md", Content: []byte("# $derived\n\nDerived state is computed from other state.\n")},
		{Path: "kit/20-core-concepts/10-routing.md", Content: []byte("# Routing\n\nRoutes map files to pages.\n")},
	}
}

// fakeFetcher returns canned sources, optionally blocking until released
type fakeFetcher struct {
	mu      sync.Mutex
	sources []fetcher.Source
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]fetcher.Source, error) {
	if f.entered != nil {
		close(f.entered)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]fetcher.Source, len(f.sources))
	copy(out, f.sources)
	return out, nil
}

func (f *fakeFetcher) set(sources []fetcher.Source) {
	f.mu.Lock()
	f.sources = sources
	f.mu.Unlock()
}

// failingEmbedder embeds single texts but rejects every batch
type failingEmbedder struct {
	*embedder.HashProvider
}

func (failingEmbedder) GenerateBatch(context.Context, embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, embedder.ErrProviderFailed
}

func newIndexer(t *testing.T, f fetcher.Fetcher, opts ...Option) (*Indexer, *storage.SQLiteStorage) {
	t.Helper()
	store := storagetest.NewSQLite(t)
	opts = append([]Option{WithConfig(Config{Workers: 2, BatchSize: 2})}, opts...)
	return New(f, embedder.NewHashProvider(storagetest.Dimension), store, opts...), store
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	idx, store := newIndexer(t, &fakeFetcher{sources: pages()})

	before := testutil.ToFloat64(metrics.RefreshRunsTotal.WithLabelValues("success"))
	indexedBefore := testutil.ToFloat64(metrics.RefreshDocumentsTotal.WithLabelValues("indexed"))

	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Failed)
	assert.Empty(t, stats.ErrorMessages)
	assert.NotNil(t, stats.ErrorMessages)
	assert.Greater(t, stats.Duration, time.Duration(0))

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Documents)
	assert.Equal(t, 3, status.Embedded)
	assert.Equal(t, 1, status.CodeBlocks)
	require.NotNil(t, status.LastRefresh)
	assert.Equal(t, 3, status.LastRefresh.Fetched)
	assert.Equal(t, 3, status.LastRefresh.Indexed)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RefreshRunsTotal.WithLabelValues("success")))
	assert.Equal(t, indexedBefore+3, testutil.ToFloat64(metrics.RefreshDocumentsTotal.WithLabelValues("indexed")))
}

func TestRefresh_StoresExtractedDocument(t *testing.T) {
	ctx := context.Background()
	idx, store := newIndexer(t, &fakeFetcher{sources: pages()})

	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	row, err := store.GetDocument(ctx, types.DocumentID("svelte/02-runes/02-state.md"))
	require.NoError(t, err)
	assert.Equal(t, "$state", row.Title)
	assert.Equal(t, "reactivity", row.Concept)
	assert.Equal(t, "beginner", row.Difficulty)
	assert.True(t, modTime.Equal(row.LastUpdated), "last_updated comes from the source")

	vector, err := storage.DecodeVector(row.Embedding)
	require.NoError(t, err)
	want := embedder.Embed("$state "+row.Content, storagetest.Dimension)
	assert.Equal(t, want, vector)

	// Sources without a modification time are stamped with the refresh time
	row, err = store.GetDocument(ctx, types.DocumentID("kit/20-core-concepts/10-routing.md"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), row.LastUpdated, time.Minute)
}

func TestRefresh_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{sources: pages()}
	idx, store := newIndexer(t, f)

	_, err := idx.Refresh(ctx)
	require.NoError(t, err)
	_, err = idx.Refresh(ctx)
	require.NoError(t, err)

	n, err := store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Last write wins
	updated := pages()
	updated[2].Content = []byte("# Routing\n\nRouting was rewritten.\n")
	f.set(updated)

	_, err = idx.Refresh(ctx)
	require.NoError(t, err)

	row, err := store.GetDocument(ctx, types.DocumentID("kit/20-core-concepts/10-routing.md"))
	require.NoError(t, err)
	assert.Contains(t, row.Content, "rewritten")

	n, err = store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRefresh_CountsFailures(t *testing.T) {
	ctx := context.Background()
	sources := append(pages(),
		fetcher.Source{Path: "broken/fetch.md", Err: errors.New("status 404")},
		fetcher.Source{Path: "broken/empty.md", Content: []byte("   \n")},
		fetcher.Source{Path: "broken/header.md", Content: []byte("---\ntitle: [unclosed\n---\nbody")},
	)
	idx, store := newIndexer(t, &fakeFetcher{sources: sources})

	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Fetched)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 3, stats.Failed)
	require.Len(t, stats.ErrorMessages, 3)
	for _, path := range []string{"broken/fetch.md", "broken/empty.md", "broken/header.md"} {
		assert.True(t, containsPrefix(stats.ErrorMessages, path+": "), path)
	}

	n, err := store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func containsPrefix(messages []string, prefix string) bool {
	for _, m := range messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func TestRefresh_EmbeddingFailureStoresWithoutVectors(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewSQLite(t)
	emb := failingEmbedder{embedder.NewHashProvider(storagetest.Dimension)}
	idx := New(&fakeFetcher{sources: pages()}, emb, store)

	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Indexed)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Documents)
	assert.Equal(t, 0, status.Embedded)
}

func TestRefresh_DimensionMismatchFailsDocuments(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewSQLite(t)
	idx := New(&fakeFetcher{sources: pages()}, embedder.NewHashProvider(storagetest.Dimension*2), store)

	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 3, stats.Failed)
	assert.Contains(t, stats.ErrorMessages[0], storage.ErrDimensionMismatch.Error())
}

func TestRefresh_FetchError(t *testing.T) {
	idx, _ := newIndexer(t, &fakeFetcher{err: fetcher.ErrManifest})

	before := testutil.ToFloat64(metrics.RefreshRunsTotal.WithLabelValues("error"))
	_, err := idx.Refresh(context.Background())
	assert.ErrorIs(t, err, fetcher.ErrManifest)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RefreshRunsTotal.WithLabelValues("error")))

	// The lock is released after a failed run
	assert.False(t, idx.lock.Held())
}

func TestRefresh_Canceled(t *testing.T) {
	idx, store := newIndexer(t, &fakeFetcher{sources: pages()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	n, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefresh_RejectsConcurrentRun(t *testing.T) {
	f := &fakeFetcher{
		sources: pages(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	idx, _ := newIndexer(t, f)

	done := make(chan error, 1)
	go func() {
		_, err := idx.Refresh(context.Background())
		done <- err
	}()

	<-f.entered
	_, err := idx.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(f.release)
	require.NoError(t, <-done)
	assert.False(t, idx.lock.Held())
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestWithConfig_IgnoresZeroValues(t *testing.T) {
	idx := New(&fakeFetcher{}, embedder.NewHashProvider(8), nil, WithConfig(Config{}))
	assert.Equal(t, DefaultBatchSize, idx.batchSize)
	assert.Greater(t, idx.workers, 0)

	idx = New(&fakeFetcher{}, embedder.NewHashProvider(8), nil, WithConfig(Config{Workers: 3, BatchSize: 7}))
	assert.Equal(t, 3, idx.workers)
	assert.Equal(t, 7, idx.batchSize)
}
