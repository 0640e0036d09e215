package searcher

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/metrics"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// MalformedPolicy decides what happens to a stored row that cannot be decoded
type MalformedPolicy string

const (
	// MalformedSkip drops the row and logs a warning
	MalformedSkip MalformedPolicy = "skip"
	// MalformedFail fails the whole call
	MalformedFail MalformedPolicy = "fail"
)

// ParseMalformedPolicy accepts "skip", "fail" or "" (skip)
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch MalformedPolicy(s) {
	case "", MalformedSkip:
		return MalformedSkip, nil
	case MalformedFail:
		return MalformedFail, nil
	}
	return "", fmt.Errorf("unknown malformed row policy %q", s)
}

// decodeRows converts stored rows to results in store order.
// With fixed set, every result gets similarity 1.0.
func (s *Searcher) decodeRows(rows []storage.DocumentRow, source types.ResultSource, fixed bool) ([]types.SearchResult, error) {
	results := make([]types.SearchResult, 0, len(rows))
	for i := range rows {
		doc, err := s.decodeRow(&rows[i])
		if err != nil {
			metrics.MalformedRowsTotal.Inc()
			if s.malformed == MalformedFail {
				return nil, err
			}
			s.logger.Warn("skipping malformed row",
				zap.String("id", rows[i].ID),
				zap.Error(err))
			continue
		}

		similarity := rows[i].Similarity
		if fixed {
			similarity = 1.0
		}
		results = append(results, types.SearchResult{
			Document:   *doc,
			Similarity: similarity,
			Source:     source,
		})
	}
	return results, nil
}

func (s *Searcher) decodeRow(row *storage.DocumentRow) (*types.Document, error) {
	malformed := func(field string, err error) error {
		return fmt.Errorf("%w: document %s: %s: %v", types.ErrMalformedRow, row.ID, field, err)
	}

	doc := &types.Document{
		ID:          row.ID,
		Path:        row.Path,
		Title:       row.Title,
		Content:     row.Content,
		Concept:     row.Concept,
		Difficulty:  types.ParseDifficulty(row.Difficulty),
		LastUpdated: row.LastUpdated,
	}

	lists := []struct {
		field string
		raw   string
		dest  *[]string
	}{
		{"tags", row.Tags, &doc.Tags},
		{"related_concepts", row.RelatedConcepts, &doc.RelatedConcepts},
		{"code_examples", row.CodeExamples, &doc.CodeExamples},
	}
	for _, l := range lists {
		if l.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(l.raw), l.dest); err != nil {
			return nil, malformed(l.field, err)
		}
	}

	if row.CodeMetadata != "" {
		if err := json.Unmarshal([]byte(row.CodeMetadata), &doc.CodeMetadata); err != nil {
			return nil, malformed("code_metadata", err)
		}
	}

	if len(row.Embedding) > 0 {
		vector, err := storage.DecodeVector(row.Embedding)
		if err != nil {
			return nil, malformed("embedding", err)
		}
		if dim := s.embedder.Dimension(); dim > 0 && len(vector) != dim {
			return nil, malformed("embedding", fmt.Errorf("got %d components, want %d", len(vector), dim))
		}
		doc.Embedding = vector
	}

	return doc, nil
}
