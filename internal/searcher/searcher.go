package searcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// DefaultLimit is used when a caller passes no positive limit
const DefaultLimit = 5

// ErrNoEmbedding is returned by SimilarToDocument for documents stored without a vector
var ErrNoEmbedding = errors.New("document has no embedding")

// Options narrows a Search or SearchByConcept call
type Options struct {
	Limit   int
	Filters *types.SearchFilters
}

// Searcher answers queries against a Store, preferring vector similarity
// and falling back to keyword matching
type Searcher struct {
	store        storage.Store
	embedder     embedder.Embedder
	logger       *zap.Logger
	malformed    MalformedPolicy
	defaultLimit int
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger used for fallback and malformed-row warnings
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMalformedPolicy sets how undecodable stored rows are handled
func WithMalformedPolicy(p MalformedPolicy) Option {
	return func(s *Searcher) { s.malformed = p }
}

// WithDefaultLimit overrides DefaultLimit
func WithDefaultLimit(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.defaultLimit = n
		}
	}
}

// New creates a Searcher. The caller keeps ownership of store and emb.
func New(store storage.Store, emb embedder.Embedder, opts ...Option) *Searcher {
	s := &Searcher{
		store:        store,
		embedder:     emb,
		logger:       zap.NewNop(),
		malformed:    MalformedSkip,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveLimit returns n, or the configured default when n is not positive
func (s *Searcher) EffectiveLimit(n int) int {
	if n <= 0 {
		return s.defaultLimit
	}
	return n
}

func (s *Searcher) filters(opts *Options) (int, storage.Fragment) {
	if opts == nil {
		return s.defaultLimit, storage.Fragment{}
	}
	return s.EffectiveLimit(opts.Limit), storage.CompileFilters(s.store.Dialect(), opts.Filters)
}

// outcome classifies a vector attempt
type outcome int

const (
	outcomeRows outcome = iota
	outcomeEmpty
	outcomeFailed
)

// vectorOutcome is the result of the vector step of Search
type vectorOutcome struct {
	kind outcome
	rows []storage.DocumentRow
	err  error
}

// Search embeds query and runs a similarity search constrained by the
// filters. When that fails or finds nothing usable, the same filters and limit are
// applied to a keyword match whose results all carry similarity 1.0.
// Only a keyword failure is returned, as a *types.SearchError.
func (s *Searcher) Search(ctx context.Context, query string, opts *Options) ([]types.SearchResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	}()

	limit, where := s.filters(opts)

	vo := s.vectorAttempt(ctx, query, where, limit)
	switch vo.kind {
	case outcomeRows:
		results, err := s.decodeRows(vo.rows, types.SourceVector, false)
		if err != nil {
			metrics.SearchRequestsTotal.WithLabelValues("search", "error").Inc()
			return nil, &types.SearchError{Op: "decode", Err: err}
		}
		if len(results) > 0 {
			metrics.SearchRequestsTotal.WithLabelValues("search", string(types.SourceVector)).Inc()
			return results, nil
		}
		metrics.VectorFallbackTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("every vector match was malformed, using keyword match", zap.String("query", query))

	case outcomeEmpty:
		metrics.VectorFallbackTotal.WithLabelValues("empty").Inc()
		s.logger.Debug("vector search empty, using keyword match", zap.String("query", query))

	case outcomeFailed:
		metrics.VectorFallbackTotal.WithLabelValues("error").Inc()
		s.logger.Warn("vector search failed, using keyword match",
			zap.String("query", query),
			zap.Error(vo.err))
	}

	rows, err := s.store.SearchKeyword(ctx, query, where, limit)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("search", "error").Inc()
		return nil, &types.SearchError{Op: "keyword search", Err: err}
	}

	results, err := s.decodeRows(rows, types.SourceKeyword, true)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("search", "error").Inc()
		return nil, &types.SearchError{Op: "decode", Err: err}
	}
	metrics.SearchRequestsTotal.WithLabelValues("search", string(types.SourceKeyword)).Inc()
	return results, nil
}

// vectorAttempt never returns an error directly; failures become outcomeFailed
func (s *Searcher) vectorAttempt(ctx context.Context, query string, where storage.Fragment, limit int) vectorOutcome {
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return vectorOutcome{kind: outcomeFailed, err: fmt.Errorf("failed to generate query embedding: %w", err)}
	}

	// A query with no usable tokens scores every document 0
	if storage.IsZeroVector(emb.Vector) {
		return vectorOutcome{kind: outcomeEmpty}
	}

	rows, err := s.store.SearchVector(ctx, storage.NewQueryVector(emb.Vector), where, limit)
	if err != nil {
		return vectorOutcome{kind: outcomeFailed, err: err}
	}
	if len(rows) == 0 {
		return vectorOutcome{kind: outcomeEmpty}
	}
	return vectorOutcome{kind: outcomeRows, rows: rows}
}

// SimilarDocs returns the documents nearest to vector, without filters or
// fallback. Store errors are returned unmodified.
func (s *Searcher) SimilarDocs(ctx context.Context, vector []float32, limit int) ([]types.SearchResult, error) {
	return s.similar(ctx, vector, storage.Fragment{}, s.EffectiveLimit(limit))
}

func (s *Searcher) similar(ctx context.Context, vector []float32, where storage.Fragment, limit int) ([]types.SearchResult, error) {
	rows, err := s.store.SearchVector(ctx, storage.NewQueryVector(vector), where, limit)
	if err != nil {
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues("similar", string(types.SourceVector)).Inc()
	return s.decodeRows(rows, types.SourceVector, false)
}

// SimilarToDocument returns the documents nearest to the stored embedding of
// document id, excluding that document
func (s *Searcher) SimilarToDocument(ctx context.Context, id string, limit int) ([]types.SearchResult, error) {
	row, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(row.Embedding) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEmbedding, id)
	}

	vector, err := storage.DecodeVector(row.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s: %v", types.ErrMalformedRow, id, err)
	}

	exclude := storage.Fragment{SQL: "d.id <> ?", Args: []any{id}}
	return s.similar(ctx, vector, exclude, s.EffectiveLimit(limit))
}

// SearchByConcept returns documents whose primary concept equals concept,
// each with similarity 1.0
func (s *Searcher) SearchByConcept(ctx context.Context, concept string, opts *Options) ([]types.SearchResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("concept").Observe(time.Since(start).Seconds())
	}()

	limit, where := s.filters(opts)

	rows, err := s.store.SearchConcept(ctx, concept, where, limit)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("concept", "error").Inc()
		return nil, &types.SearchError{Op: "concept search", Err: err}
	}

	results, err := s.decodeRows(rows, types.SourceConcept, true)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("concept", "error").Inc()
		return nil, &types.SearchError{Op: "decode", Err: err}
	}
	metrics.SearchRequestsTotal.WithLabelValues("concept", string(types.SourceConcept)).Inc()
	return results, nil
}
