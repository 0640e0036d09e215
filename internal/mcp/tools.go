package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeDocumentNotFound  = -32001 // No document with the given id
	ErrorCodeRefreshInProgress = -32002 // Another refresh is already running
	ErrorCodeNotIndexed        = -32003 // Document or corpus has no embeddings yet
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeSearchFailed      = -32005 // Search produced no result set
)

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filters", map[string]interface{}{
			"param":  "filters",
			"reason": err.Error(),
		})
	}

	results, err := s.searcher.Search(ctx, query, &searcher.Options{
		Limit:   s.searcher.EffectiveLimit(limitArg(args)),
		Filters: filters,
	})
	if err != nil {
		return nil, s.toolError("search_docs", err)
	}

	response := map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": formatResults(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchByConcept handles the search_by_concept tool invocation
func (s *Server) handleSearchByConcept(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	concept := strings.TrimSpace(getStringDefault(args, "concept", ""))
	if concept == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "concept parameter is required", map[string]interface{}{
			"param":  "concept",
			"reason": "missing or empty",
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filters", map[string]interface{}{
			"param":  "filters",
			"reason": err.Error(),
		})
	}

	results, err := s.searcher.SearchByConcept(ctx, concept, &searcher.Options{
		Limit:   s.searcher.EffectiveLimit(limitArg(args)),
		Filters: filters,
	})
	if err != nil {
		return nil, s.toolError("search_by_concept", err)
	}

	response := map[string]interface{}{
		"concept": concept,
		"count":   len(results),
		"results": formatResults(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSimilarDocs handles the similar_docs tool invocation
func (s *Server) handleSimilarDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id := strings.TrimSpace(getStringDefault(args, "id", ""))
	if id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]interface{}{
			"param":  "id",
			"reason": "missing or empty",
		})
	}

	limit := s.searcher.EffectiveLimit(limitArg(args))
	results, err := s.searcher.SimilarToDocument(ctx, id, limit)
	if err != nil {
		return nil, s.toolError("similar_docs", err)
	}

	response := map[string]interface{}{
		"id":      id,
		"count":   len(results),
		"results": formatResults(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRefreshDocs handles the refresh_docs tool invocation
func (s *Server) handleRefreshDocs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.indexer == nil {
		return nil, newMCPError(ErrorCodeInternalError, "refresh is not configured", map[string]interface{}{
			"reason": "no corpus source",
		})
	}

	stats, err := s.indexer.Refresh(ctx)
	if err != nil {
		return nil, s.toolError("refresh_docs", err)
	}

	response := map[string]interface{}{
		"refreshed":   true,
		"fetched":     stats.Fetched,
		"indexed":     stats.Indexed,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, s.toolError("get_status", err)
	}

	response := map[string]interface{}{
		"indexed": status.Documents > 0,
		"statistics": map[string]interface{}{
			"documents":     status.Documents,
			"embedded":      status.Embedded,
			"code_blocks":   status.CodeBlocks,
			"concepts":      status.Concepts,
			"index_size_mb": fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"storage": map[string]interface{}{
			"driver":         status.Driver,
			"schema_version": status.SchemaVersion,
			"vector_search":  status.VectorSearch,
		},
		"embedder": map[string]interface{}{
			"provider":  s.embedder.Provider(),
			"model":     s.embedder.Model(),
			"dimension": s.embedder.Dimension(),
		},
		"health": map[string]interface{}{
			"database_accessible": status.DatabaseHealthy,
			"refresh_running":     s.indexer != nil && s.indexer.Running(),
		},
	}

	if !status.LastUpdated.IsZero() {
		response["last_updated"] = status.LastUpdated.Format(time.RFC3339)
	}
	if run := status.LastRefresh; run != nil {
		response["last_refresh"] = map[string]interface{}{
			"started_at":  run.StartedAt.Format(time.RFC3339),
			"finished_at": run.FinishedAt.Format(time.RFC3339),
			"fetched":     run.Fetched,
			"indexed":     run.Indexed,
			"failed":      run.Failed,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// toolError maps domain errors onto MCP error codes
func (s *Server) toolError(tool string, err error) error {
	var searchErr *types.SearchError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeDocumentNotFound, "document not found", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, searcher.ErrNoEmbedding):
		return newMCPError(ErrorCodeNotIndexed, "document has no embedding", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, indexer.ErrRefreshInProgress):
		return newMCPError(ErrorCodeRefreshInProgress, "refresh already in progress", nil)
	case errors.As(err, &searchErr):
		s.logger.Warn("search failed", zap.String("tool", tool), zap.String("op", searchErr.Op), zap.Error(err))
		return newMCPError(ErrorCodeSearchFailed, err.Error(), map[string]interface{}{
			"op": searchErr.Op,
		})
	}

	s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
	return newMCPError(ErrorCodeInternalError, tool+" failed", map[string]interface{}{
		"error": err.Error(),
	})
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// limitArg reads the optional limit argument. An absent limit gives 0 so the
// searcher's configured default applies.
func limitArg(args map[string]interface{}) int {
	if v, ok := args["limit"]; !ok || v == nil {
		return 0
	}
	return clampLimit(getIntDefault(args, "limit", 1))
}

// clampLimit keeps limit within 1..MaxLimit
func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// parseFilters reads the optional filters object
func parseFilters(args map[string]interface{}) (*types.SearchFilters, error) {
	raw, ok := args["filters"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("filters must be an object")
	}

	f := &types.SearchFilters{}
	if d := getStringDefault(m, "difficulty", ""); d != "" {
		f.Difficulty = types.Difficulty(strings.ToLower(d))
		if !f.Difficulty.Valid() {
			return nil, fmt.Errorf("unknown difficulty %q", d)
		}
	}

	lists := []struct {
		key  string
		dest *[]string
	}{
		{"tags", &f.Tags},
		{"concepts", &f.Concepts},
		{"category", &f.Category},
		{"has_runes", &f.HasRunes},
		{"has_functions", &f.HasFunctions},
		{"has_components", &f.HasComponents},
	}
	for _, l := range lists {
		values, err := getStringSlice(m, l.key)
		if err != nil {
			return nil, err
		}
		*l.dest = values
	}

	if f.IsEmpty() {
		return nil, nil
	}
	return f, nil
}

// formatResults renders search results for the client
func formatResults(results []types.SearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		d := r.Document
		out = append(out, map[string]interface{}{
			"id":               d.ID,
			"path":             d.Path,
			"title":            d.Title,
			"concept":          d.Concept,
			"related_concepts": d.RelatedConcepts,
			"difficulty":       string(d.Difficulty),
			"tags":             d.Tags,
			"similarity":       r.Similarity,
			"source":           string(r.Source),
			"content":          d.Content,
			"code_examples":    d.CodeExamples,
		})
	}
	return out
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice accepts a JSON array of strings or a single comma-separated string
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case string:
		return splitList(v), nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain only strings", key)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
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
