package storage_test

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/storage/storagetest"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

func paths(rows []storage.DocumentRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Path
	}
	sort.Strings(out)
	return out
}

func seeded(t *testing.T, opts ...storage.Option) *storage.SQLiteStorage {
	store := storagetest.NewSQLite(t, opts...)
	storagetest.Seed(t, store, storagetest.Corpus())
	return store
}

func TestNewSQLiteStorage(t *testing.T) {
	store := storagetest.NewSQLite(t)

	n, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "sqlite", store.Dialect().Name())
}

func TestUpsertAndGetDocument(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	docs := storagetest.Corpus()
	props := docs[2]

	row, err := store.GetDocument(ctx, props.ID)
	require.NoError(t, err)
	assert.Equal(t, props.Path, row.Path)
	assert.Equal(t, props.Content, row.Content)
	assert.Equal(t, "components", row.Concept)
	assert.Equal(t, "beginner", row.Difficulty)
	assert.JSONEq(t, `["props"]`, row.Tags)
	assert.JSONEq(t, `["reactivity"]`, row.RelatedConcepts)
	assert.Equal(t, props.LastUpdated.Unix(), row.LastUpdated.Unix())

	vec, err := storage.DecodeVector(row.Embedding)
	require.NoError(t, err)
	assert.Equal(t, props.Embedding, vec)

	var blocks []types.CodeMetadata
	require.NoError(t, json.Unmarshal([]byte(row.CodeMetadata), &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"$props"}, blocks[0].Runes)
	assert.Equal(t, []string{"Button"}, blocks[1].Components)
}

func TestUpsertDocument_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	doc := storagetest.Corpus()[0]

	doc.Content = "Rewritten content about state"
	doc.Tags = []string{"rewritten"}
	doc.CodeMetadata = nil
	require.NoError(t, store.UpsertDocument(ctx, doc))

	n, err := store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	row, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rewritten content about state", row.Content)
	assert.JSONEq(t, `["rewritten"]`, row.Tags)
	assert.JSONEq(t, `[]`, row.CodeMetadata)
}

func TestUpsertDocument_Validation(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewSQLite(t)

	err := store.UpsertDocument(ctx, &types.Document{ID: "x", Content: "c", Embedding: make([]float32, 3)})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	var se *storage.Error
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "upsert document", se.Op)

	err = store.UpsertDocument(ctx, &types.Document{ID: "x"})
	assert.ErrorIs(t, err, types.ErrEmptyContent)
}

func TestUpsertDocument_WithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewSQLite(t)

	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "plain", Path: "plain.md", Content: "no vector here"}))

	row, err := store.GetDocument(ctx, "plain")
	require.NoError(t, err)
	assert.Nil(t, row.Embedding)
	assert.Equal(t, "intermediate", row.Difficulty)
	assert.JSONEq(t, `[]`, row.Tags)

	// Documents without vectors never reach the similarity function
	rows, err := store.SearchVector(ctx, storage.NewQueryVector(embedder.Embed("vector", storagetest.Dimension)), storage.Fragment{}, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetDocument_NotFound(t *testing.T) {
	store := storagetest.NewSQLite(t)
	_, err := store.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewSQLite(t)
	docs := storagetest.Corpus()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertDocument(ctx, docs[0]))
	require.NoError(t, tx.Rollback())

	n, err := store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertDocument(ctx, docs[0]))
	require.NoError(t, tx.UpsertDocument(ctx, docs[1]))
	require.NoError(t, tx.Commit())

	n, err = store.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTransaction_FailedDocumentIsUndone(t *testing.T) {
	ctx := context.Background()
	store, path := storagetest.NewSQLiteFile(t)
	docs := storagetest.Corpus()
	storagetest.Seed(t, store, docs[:1])

	// Reject one code block after its document row has been written
	storagetest.Exec(t, path, `
		CREATE TRIGGER reject_broken BEFORE INSERT ON code_metadata
		WHEN NEW.language = 'broken'
		BEGIN SELECT RAISE(ABORT, 'rejected code block'); END`)

	broken := *docs[0]
	broken.Title = "half written"
	broken.CodeMetadata = []types.CodeMetadata{{Category: types.CategoryOther, Language: "broken"}}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	assert.Error(t, tx.UpsertDocument(ctx, &broken))
	require.NoError(t, tx.UpsertDocument(ctx, docs[1]))
	require.NoError(t, tx.Commit())

	row, err := store.GetDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "$state", row.Title)
	assert.Contains(t, row.CodeMetadata, "$state")

	_, err = store.GetDocument(ctx, docs[1].ID)
	require.NoError(t, err)
}

func TestSearchVector_OrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)
	docs := storagetest.Corpus()

	// Querying with a stored vector puts that document first with similarity 1
	qv := storage.NewQueryVector(docs[4].Embedding)
	rows, err := store.SearchVector(ctx, qv, storage.Fragment{}, 5)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, docs[4].ID, rows[0].ID)
	assert.InDelta(t, 1.0, rows[0].Similarity, 1e-5)

	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Similarity, rows[i].Similarity)
	}

	rows, err = store.SearchVector(ctx, qv, storage.Fragment{}, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSearchVector_Disabled(t *testing.T) {
	store := seeded(t, storage.WithoutVectorSearch())
	_, err := store.SearchVector(context.Background(), storage.NewQueryVector(make([]float32, storagetest.Dimension)), storage.Fragment{}, 5)
	assert.ErrorIs(t, err, storage.ErrVectorUnsupported)
}

func TestSearchVector_DimensionMismatchFails(t *testing.T) {
	store := seeded(t)
	_, err := store.SearchVector(context.Background(), storage.NewQueryVector([]float32{1, 0, 0}), storage.Fragment{}, 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestSearchVector_UnscorableRowsSortLast(t *testing.T) {
	ctx := context.Background()
	store, path := storagetest.NewSQLiteFile(t)
	docs := storagetest.Corpus()
	storagetest.Seed(t, store, docs)

	// A truncated blob and a valid vector of the wrong dimension
	storagetest.OverwriteEmbedding(t, path, docs[4].ID, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	storagetest.OverwriteEmbedding(t, path, docs[3].ID, storage.EncodeVector([]float32{1, 0, 0}))

	rows, err := store.SearchVector(ctx, storage.NewQueryVector(docs[4].Embedding), storage.Fragment{}, 5)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	for _, r := range rows[:3] {
		assert.NotEqual(t, docs[4].ID, r.ID)
		assert.NotEqual(t, docs[3].ID, r.ID)
		assert.NotZero(t, r.Similarity)
	}
	assert.ElementsMatch(t, []string{docs[3].ID, docs[4].ID}, []string{rows[3].ID, rows[4].ID})
	assert.Zero(t, rows[3].Similarity)
	assert.Zero(t, rows[4].Similarity)
}

func TestSearchKeyword(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	rows, err := store.SearchKeyword(ctx, "state", storage.Fragment{}, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	rows, err = store.SearchKeyword(ctx, "state", storage.Fragment{}, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Case-insensitive, and code facets are searched too
	rows, err = store.SearchKeyword(ctx, "BUTTON", storage.Fragment{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"svelte/02-runes/05-props.md"}, paths(rows))

	rows, err = store.SearchKeyword(ctx, "goto", storage.Fragment{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"kit/20-core-concepts/10-routing.md"}, paths(rows))

	// Wildcards are literal
	rows, err = store.SearchKeyword(ctx, "%", storage.Fragment{}, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSearchConcept(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	rows, err := store.SearchConcept(ctx, "reactivity", storage.Fragment{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"svelte/02-runes/02-state.md", "svelte/02-runes/03-derived.md"}, paths(rows))

	where := storage.CompileFilters(store.Dialect(), &types.SearchFilters{Difficulty: types.DifficultyBeginner})
	rows, err = store.SearchConcept(ctx, "reactivity", where, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"svelte/02-runes/02-state.md"}, paths(rows))
}

// Each filter field must exclude at least one document of the corpus
func TestCompiledFilters_AgainstCorpus(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	tests := []struct {
		name    string
		filters *types.SearchFilters
		want    []string
	}{
		{
			name:    "no filters match everything",
			filters: nil,
			want: []string{
				"kit/20-core-concepts/10-routing.md",
				"svelte/02-runes/02-state.md",
				"svelte/02-runes/03-derived.md",
				"svelte/02-runes/05-props.md",
				"svelte/03-template-syntax/06-snippet.md",
			},
		},
		{
			name:    "difficulty",
			filters: &types.SearchFilters{Difficulty: types.DifficultyAdvanced},
			want:    []string{"kit/20-core-concepts/10-routing.md", "svelte/03-template-syntax/06-snippet.md"},
		},
		{
			name:    "tags are OR-ed",
			filters: &types.SearchFilters{Tags: []string{"runes", "props"}},
			want:    []string{"svelte/02-runes/02-state.md", "svelte/02-runes/03-derived.md", "svelte/02-runes/05-props.md"},
		},
		{
			name:    "concept matches primary concept",
			filters: &types.SearchFilters{Concepts: []string{"routing"}},
			want:    []string{"kit/20-core-concepts/10-routing.md"},
		},
		{
			name:    "concept matches related concepts",
			filters: &types.SearchFilters{Concepts: []string{"reactivity"}},
			want:    []string{"svelte/02-runes/02-state.md", "svelte/02-runes/03-derived.md", "svelte/02-runes/05-props.md"},
		},
		{
			name:    "category",
			filters: &types.SearchFilters{Category: []string{types.CategoryConfig, types.CategoryMarkup}},
			want:    []string{"kit/20-core-concepts/10-routing.md", "svelte/03-template-syntax/06-snippet.md"},
		},
		{
			name:    "runes",
			filters: &types.SearchFilters{HasRunes: []string{"$derived", "$props"}},
			want:    []string{"svelte/02-runes/03-derived.md", "svelte/02-runes/05-props.md"},
		},
		{
			name:    "functions",
			filters: &types.SearchFilters{HasFunctions: []string{"goto"}},
			want:    []string{"kit/20-core-concepts/10-routing.md"},
		},
		{
			name:    "components",
			filters: &types.SearchFilters{HasComponents: []string{"Button"}},
			want:    []string{"svelte/02-runes/05-props.md"},
		},
		{
			name:    "fields are AND-ed",
			filters: &types.SearchFilters{Tags: []string{"runes"}, Difficulty: types.DifficultyIntermediate},
			want:    []string{"svelte/02-runes/03-derived.md"},
		},
		{
			name:    "no match",
			filters: &types.SearchFilters{Tags: []string{"nonexistent"}},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where := storage.CompileFilters(store.Dialect(), tt.filters)

			rows, err := store.SearchKeyword(ctx, "state", where, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(rows))

			// The vector path honours the same fragment
			qv := storage.NewQueryVector(embedder.Embed("reactive state", storagetest.Dimension))
			rows, err = store.SearchVector(ctx, qv, where, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(rows))
		})
	}
}

func TestRecordRefreshAndStatus(t *testing.T) {
	ctx := context.Background()
	store := seeded(t)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, status.Documents)
	assert.Equal(t, 5, status.Embedded)
	assert.Equal(t, 6, status.CodeBlocks)
	assert.Equal(t, 4, status.Concepts)
	assert.Equal(t, storage.CurrentSchemaVersion, status.SchemaVersion)
	assert.True(t, status.VectorSearch)
	assert.True(t, status.DatabaseHealthy)
	assert.Nil(t, status.LastRefresh)
	assert.False(t, status.LastUpdated.IsZero())

	started := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRefresh(ctx, &storage.RefreshRun{
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Fetched:    5,
		Indexed:    4,
		Failed:     1,
	}))

	status, err = store.GetStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastRefresh)
	assert.Equal(t, 4, status.LastRefresh.Indexed)
	assert.Equal(t, 1, status.LastRefresh.Failed)
	assert.True(t, status.LastRefresh.StartedAt.Equal(started))
}
