package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentID(t *testing.T) {
	a := DocumentID("docs/svelte/02-runes/02-$state.md")
	b := DocumentID("/docs/svelte/02-runes/02-$state.md")
	c := DocumentID("docs/svelte/./02-runes/02-$state.md")
	d := DocumentID("docs/svelte/02-runes/03-$derived.md")

	assert.Len(t, a, 16)
	assert.Equal(t, a, b, "leading slash should not change the id")
	assert.Equal(t, a, c, "path should be cleaned before hashing")
	assert.NotEqual(t, a, d)
}

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		in   string
		want Difficulty
	}{
		{"beginner", DifficultyBeginner},
		{" Advanced ", DifficultyAdvanced},
		{"INTERMEDIATE", DifficultyIntermediate},
		{"", DifficultyIntermediate},
		{"expert", DifficultyIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDifficulty(tt.in))
		})
	}
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr error
	}{
		{
			name: "valid without embedding",
			doc:  Document{ID: "a", Content: "text", Difficulty: DifficultyBeginner},
		},
		{
			name: "valid with embedding",
			doc:  Document{ID: "a", Content: "text", Embedding: make([]float32, 4)},
		},
		{
			name:    "missing id",
			doc:     Document{Content: "text"},
			wantErr: ErrMissingID,
		},
		{
			name:    "empty content",
			doc:     Document{ID: "a"},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "unknown difficulty",
			doc:     Document{ID: "a", Content: "text", Difficulty: "expert"},
			wantErr: ErrInvalidDifficulty,
		},
		{
			name:    "wrong dimension",
			doc:     Document{ID: "a", Content: "text", Embedding: make([]float32, 3)},
			wantErr: ErrEmbeddingDimension,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate(4)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSearchFiltersIsEmpty(t *testing.T) {
	var nilFilters *SearchFilters
	assert.True(t, nilFilters.IsEmpty())
	assert.True(t, (&SearchFilters{}).IsEmpty())
	assert.False(t, (&SearchFilters{Tags: []string{"runes"}}).IsEmpty())
	assert.False(t, (&SearchFilters{Difficulty: DifficultyAdvanced}).IsEmpty())
	assert.False(t, (&SearchFilters{HasComponents: []string{"Button"}}).IsEmpty())
}

func TestSearchError(t *testing.T) {
	cause := errors.New("no such table: documents")
	err := fmt.Errorf("handler: %w", &SearchError{Op: "keyword", Err: cause})

	assert.ErrorIs(t, err, cause)

	var se *SearchError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "keyword", se.Op)
	assert.Equal(t, "search failed: no such table: documents", se.Error())
}

func TestSearchResultValidate(t *testing.T) {
	ok := SearchResult{Document: Document{ID: "a"}, Similarity: 1.0}
	assert.NoError(t, ok.Validate())

	missing := SearchResult{Similarity: 0.5}
	assert.ErrorIs(t, missing.Validate(), ErrMissingID)

	tooHigh := SearchResult{Document: Document{ID: "a"}, Similarity: 2}
	assert.ErrorIs(t, tooHigh.Validate(), ErrInvalidSimilarity)
}
