// Package httpapi serves the search engine as a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/logger"
	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// MaxLimit caps the number of results per request
const MaxLimit = 50

// Error codes returned in errorResponse.Code
const (
	CodeBadRequest        = "bad_request"
	CodeDocumentNotFound  = "document_not_found"
	CodeNoEmbedding       = "no_embedding"
	CodeRefreshInProgress = "refresh_in_progress"
	CodeRefreshDisabled   = "refresh_disabled"
	CodeSearchFailed      = "search_failed"
	CodeInternalError     = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the handlers' dependencies
type Server struct {
	store         storage.Store
	embedder      embedder.Embedder
	searcher      *searcher.Searcher
	indexer       *indexer.Indexer
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. idx may be nil, in which case
// POST /v1/refresh answers 501.
func NewServer(store storage.Store, emb embedder.Embedder, srch *searcher.Searcher, idx *indexer.Indexer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:    store,
		embedder: emb,
		searcher: srch,
		indexer:  idx,
		logger:   log,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(storage.ErrNotFound, http.StatusNotFound, CodeDocumentNotFound),
		sentinelHandler(searcher.ErrNoEmbedding, http.StatusConflict, CodeNoEmbedding),
		sentinelHandler(indexer.ErrRefreshInProgress, http.StatusConflict, CodeRefreshInProgress),
		searchErrorHandler,
	}
	return s
}

// Router builds the chi router with middleware and routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", s.Search)
		r.Get("/concepts/{concept}", s.SearchByConcept)
		r.Get("/documents/{id}/similar", s.SimilarDocuments)
		r.Post("/refresh", s.Refresh)
		r.Get("/status", s.Status)
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type resultItem struct {
	ID              string               `json:"id"`
	Path            string               `json:"path"`
	Title           string               `json:"title"`
	Concept         string               `json:"concept,omitempty"`
	RelatedConcepts []string             `json:"related_concepts,omitempty"`
	Difficulty      string               `json:"difficulty"`
	Tags            []string             `json:"tags"`
	Similarity      float64              `json:"similarity"`
	Source          string               `json:"source"`
	Content         string               `json:"content"`
	CodeExamples    []string             `json:"code_examples,omitempty"`
	CodeMetadata    []types.CodeMetadata `json:"code_metadata,omitempty"`
	LastUpdated     time.Time            `json:"last_updated"`
}

type resultListResponse struct {
	Items []resultItem `json:"items"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
}

type refreshResponse struct {
	Fetched    int      `json:"fetched"`
	Indexed    int      `json:"indexed"`
	Failed     int      `json:"failed"`
	DurationMS int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

type refreshRun struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Indexed    int       `json:"indexed"`
	Failed     int       `json:"failed"`
}

type statusResponse struct {
	Driver            string      `json:"driver"`
	SchemaVersion     string      `json:"schema_version"`
	Documents         int         `json:"documents"`
	Embedded          int         `json:"embedded"`
	CodeBlocks        int         `json:"code_blocks"`
	Concepts          int         `json:"concepts"`
	IndexSizeMB       float64     `json:"index_size_mb"`
	VectorSearch      bool        `json:"vector_search"`
	EmbeddingProvider string      `json:"embedding_provider"`
	EmbeddingModel    string      `json:"embedding_model"`
	Dimension         int         `json:"dimension"`
	RefreshRunning    bool        `json:"refresh_running"`
	LastUpdated       *time.Time  `json:"last_updated,omitempty"`
	LastRefresh       *refreshRun `json:"last_refresh,omitempty"`
}

// Search handles GET /v1/search
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query parameter q is required")
		return
	}

	limit, filters, err := parseSearchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	limit = s.searcher.EffectiveLimit(limit)
	results, err := s.searcher.Search(r.Context(), query, &searcher.Options{Limit: limit, Filters: filters})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeResults(w, results, limit)
}

// SearchByConcept handles GET /v1/concepts/{concept}
func (s *Server) SearchByConcept(w http.ResponseWriter, r *http.Request) {
	concept := strings.TrimSpace(chi.URLParam(r, "concept"))
	if concept == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "concept is required")
		return
	}

	limit, filters, err := parseSearchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	limit = s.searcher.EffectiveLimit(limit)
	results, err := s.searcher.SearchByConcept(r.Context(), concept, &searcher.Options{Limit: limit, Filters: filters})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeResults(w, results, limit)
}

// SimilarDocuments handles GET /v1/documents/{id}/similar
func (s *Server) SimilarDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	limit = s.searcher.EffectiveLimit(limit)
	results, err := s.searcher.SimilarToDocument(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeResults(w, results, limit)
}

// Refresh handles POST /v1/refresh. The refresh runs on the request context.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeError(w, http.StatusNotImplemented, CodeRefreshDisabled, "no corpus source configured")
		return
	}

	stats, err := s.indexer.Refresh(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Fetched:    stats.Fetched,
		Indexed:    stats.Indexed,
		Failed:     stats.Failed,
		DurationMS: stats.Duration.Milliseconds(),
		Errors:     stats.ErrorMessages,
	})
}

// Status handles GET /v1/status
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStatus(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := statusResponse{
		Driver:            st.Driver,
		SchemaVersion:     st.SchemaVersion,
		Documents:         st.Documents,
		Embedded:          st.Embedded,
		CodeBlocks:        st.CodeBlocks,
		Concepts:          st.Concepts,
		IndexSizeMB:       st.IndexSizeMB,
		VectorSearch:      st.VectorSearch,
		EmbeddingProvider: s.embedder.Provider(),
		EmbeddingModel:    s.embedder.Model(),
		Dimension:         s.embedder.Dimension(),
		RefreshRunning:    s.indexer != nil && s.indexer.Running(),
	}
	if !st.LastUpdated.IsZero() {
		t := st.LastUpdated.UTC()
		resp.LastUpdated = &t
	}
	if run := st.LastRefresh; run != nil {
		resp.LastRefresh = &refreshRun{
			StartedAt:  run.StartedAt.UTC(),
			FinishedAt: run.FinishedAt.UTC(),
			Fetched:    run.Fetched,
			Indexed:    run.Indexed,
			Failed:     run.Failed,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.GetStatus(r.Context()); err != nil {
		logger.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseSearchParams(r *http.Request) (int, *types.SearchFilters, error) {
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return 0, nil, err
	}

	f := &types.SearchFilters{
		Tags:          splitList(q.Get("tags")),
		Concepts:      splitList(q.Get("concepts")),
		Category:      splitList(q.Get("category")),
		HasRunes:      splitList(q.Get("runes")),
		HasFunctions:  splitList(q.Get("functions")),
		HasComponents: splitList(q.Get("components")),
	}
	if d := strings.TrimSpace(q.Get("difficulty")); d != "" {
		f.Difficulty = types.Difficulty(strings.ToLower(d))
		if !f.Difficulty.Valid() {
			return 0, nil, errors.New("difficulty must be beginner, intermediate or advanced")
		}
	}

	if f.IsEmpty() {
		return limit, nil, nil
	}
	return limit, f, nil
}

// parseLimit clamps an explicit value to 1..MaxLimit. An empty value gives 0,
// which the searcher replaces with its configured default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if n < 1 {
		return 1, nil
	}
	if n > MaxLimit {
		return MaxLimit, nil
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeResults(w http.ResponseWriter, results []types.SearchResult, limit int) {
	items := make([]resultItem, len(results))
	for i := range results {
		items[i] = resultToItem(&results[i])
	}
	writeJSON(w, http.StatusOK, resultListResponse{
		Items: items,
		Limit: limit,
		Total: len(items),
	})
}

func resultToItem(r *types.SearchResult) resultItem {
	d := &r.Document
	return resultItem{
		ID:              d.ID,
		Path:            d.Path,
		Title:           d.Title,
		Concept:         d.Concept,
		RelatedConcepts: d.RelatedConcepts,
		Difficulty:      string(d.Difficulty),
		Tags:            d.Tags,
		Similarity:      r.Similarity,
		Source:          string(r.Source),
		Content:         d.Content,
		CodeExamples:    d.CodeExamples,
		CodeMetadata:    d.CodeMetadata,
		LastUpdated:     d.LastUpdated.UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func searchErrorHandler(w http.ResponseWriter, err error) bool {
	var se *types.SearchError
	if !errors.As(err, &se) {
		return false
	}
	writeError(w, http.StatusInternalServerError, CodeSearchFailed, "search failed: "+se.Op)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("request failed", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
