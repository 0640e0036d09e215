package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Query builders shared by the SQLite and Postgres stores. Each returns SQL
// with ? placeholders; Postgres rebinds them before execution.

// vectorQuery ranks embedded documents by similarity. Rows whose stored
// vector cannot be scored come back last with a NULL similarity.
func vectorQuery(d Dialect, columns string, queryArg any, where Fragment, limit int) (string, []any) {
	sim := d.Similarity("d.embedding", queryArg)
	query := "SELECT " + columns + ", " + sim.SQL + ` AS similarity
		FROM documents d
		WHERE d.embedding IS NOT NULL` + where.And() + `
		ORDER BY similarity DESC NULLS LAST
		LIMIT ?`

	args := make([]any, 0, len(sim.Args)+len(where.Args)+1)
	args = append(args, sim.Args...)
	args = append(args, where.Args...)
	args = append(args, limit)
	return query, args
}

func keywordQuery(d Dialect, columns string, text string, where Fragment, limit int) (string, []any) {
	match := Join(keywordFragment(d, text), where)
	query := "SELECT " + columns + `
		FROM documents d
		WHERE ` + match.SQL + `
		ORDER BY d.path
		LIMIT ?`
	return query, append(match.Args, limit)
}

func conceptQuery(columns string, concept string, where Fragment, limit int) (string, []any) {
	match := Join(Fragment{SQL: "d.concept = ?", Args: []any{concept}}, where)
	query := "SELECT " + columns + `
		FROM documents d
		WHERE ` + match.SQL + `
		ORDER BY d.path
		LIMIT ?`
	return query, append(match.Args, limit)
}

// documentValues holds the serialized columns of a document
type documentValues struct {
	relatedConcepts string
	codeExamples    string
	tags            string
	difficulty      string
	lastUpdated     time.Time
}

// prepareDocument validates doc and serializes its list columns
func prepareDocument(doc *types.Document, dimension int) (*documentValues, error) {
	if err := doc.Validate(dimension); err != nil {
		if errors.Is(err, types.ErrEmbeddingDimension) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(doc.Embedding), dimension)
		}
		return nil, err
	}

	related, err := marshalList(doc.RelatedConcepts)
	if err != nil {
		return nil, err
	}
	examples, err := marshalList(doc.CodeExamples)
	if err != nil {
		return nil, err
	}
	tags, err := marshalList(doc.Tags)
	if err != nil {
		return nil, err
	}

	difficulty := doc.Difficulty
	if difficulty == "" {
		difficulty = types.DifficultyIntermediate
	}

	updated := doc.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}

	return &documentValues{
		relatedConcepts: related,
		codeExamples:    examples,
		tags:            tags,
		difficulty:      string(difficulty),
		lastUpdated:     updated.UTC(),
	}, nil
}

// marshalList encodes a string list as a JSON array, never null
func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
