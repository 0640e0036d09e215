// Package storagetest provides a small documentation corpus and store
// helpers shared by package tests.
package storagetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Dimension keeps test vectors small
const Dimension = 64

// Corpus returns five documents that all mention "state".
// Two have concept "reactivity" and one has concept "routing".
func Corpus() []*types.Document {
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	docs := []*types.Document{
		{
			Path:            "svelte/02-runes/02-state.md",
			Title:           "$state",
			Content:         "The $state rune declares reactive state. When state changes the UI updates.",
			Concept:         "reactivity",
			RelatedConcepts: []string{"signals"},
			Difficulty:      types.DifficultyBeginner,
			Tags:            []string{"runes", "state"},
			CodeExamples:    []string{"let count = $state(0);"},
			CodeMetadata: []types.CodeMetadata{
				{Category: types.CategoryRune, Language: "svelte", Runes: []string{"$state"}},
			},
		},
		{
			Path:            "svelte/02-runes/03-derived.md",
			Title:           "$derived",
			Content:         "Use $derived to compute values from other state. Derived state is recalculated lazily.",
			Concept:         "reactivity",
			RelatedConcepts: []string{"state"},
			Difficulty:      types.DifficultyIntermediate,
			Tags:            []string{"runes"},
			CodeExamples:    []string{"let doubled = $derived(count * 2);"},
			CodeMetadata: []types.CodeMetadata{
				{Category: types.CategoryRune, Language: "svelte", Runes: []string{"$derived"}},
			},
		},
		{
			Path:            "svelte/02-runes/05-props.md",
			Title:           "$props",
			Content:         "Components receive props with the $props rune. Props are read-only state passed from the parent.",
			Concept:         "components",
			RelatedConcepts: []string{"reactivity"},
			Difficulty:      types.DifficultyBeginner,
			Tags:            []string{"props"},
			CodeExamples:    []string{"let { label } = $props();", "<Button {label} />"},
			CodeMetadata: []types.CodeMetadata{
				{Category: types.CategoryRune, Language: "svelte", Runes: []string{"$props"}},
				{Category: types.CategoryComponent, Language: "svelte", Components: []string{"Button"}},
			},
		},
		{
			Path:         "svelte/03-template-syntax/06-snippet.md",
			Title:        "{#snippet ...}",
			Content:      "Snippets replace slots. A snippet can render markup that depends on local state.",
			Concept:      "snippets",
			Difficulty:   types.DifficultyAdvanced,
			Tags:         []string{"slots"},
			CodeExamples: []string{"{#snippet row(item)}<td>{item}</td>{/snippet}"},
			CodeMetadata: []types.CodeMetadata{
				{Category: types.CategoryMarkup, Language: "svelte"},
			},
		},
		{
			Path:         "kit/20-core-concepts/10-routing.md",
			Title:        "Routing",
			Content:      "SvelteKit routing maps files to pages. Navigation with goto preserves client state.",
			Concept:      "routing",
			Difficulty:   types.DifficultyAdvanced,
			Tags:         []string{"kit"},
			CodeExamples: []string{"goto('/about');"},
			CodeMetadata: []types.CodeMetadata{
				{Category: types.CategoryConfig, Language: "js", Functions: []string{"goto"}},
			},
		},
	}

	for _, d := range docs {
		d.ID = types.DocumentID(d.Path)
		d.LastUpdated = updated
		d.Embedding = embedder.Embed(d.Title+" "+d.Content, Dimension)
	}
	return docs
}

// NewSQLite returns an empty in-memory store closed at test cleanup
func NewSQLite(t testing.TB, opts ...storage.Option) *storage.SQLiteStorage {
	t.Helper()

	opts = append([]storage.Option{storage.WithDimension(Dimension)}, opts...)
	store, err := storage.NewSQLiteStorage(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteFile returns an empty store backed by a file in a temp dir,
// along with the file path so tests can reach the rows directly
func NewSQLiteFile(t testing.TB, opts ...storage.Option) (*storage.SQLiteStorage, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "index.db")
	opts = append([]storage.Option{storage.WithDimension(Dimension)}, opts...)
	store, err := storage.NewSQLiteStorage(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

// Exec runs query against the database file at path on its own connection,
// bypassing the store
func Exec(t testing.TB, path, query string, args ...any) sql.Result {
	t.Helper()

	db, err := sql.Open(storage.DriverName, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	res, err := db.Exec(query, args...)
	require.NoError(t, err)
	return res
}

// OverwriteEmbedding replaces the stored embedding blob of one document
// without validating it
func OverwriteEmbedding(t testing.TB, path, id string, blob []byte) {
	t.Helper()

	res := Exec(t, path, "UPDATE documents SET embedding = ? WHERE id = ?", blob, id)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

// Seed upserts docs into store
func Seed(t testing.TB, store storage.Store, docs []*types.Document) {
	t.Helper()

	ctx := context.Background()
	for _, d := range docs {
		require.NoError(t, store.UpsertDocument(ctx, d))
	}
}

// IDsByPath maps corpus paths to document ids
func IDsByPath(docs []*types.Document) map[string]string {
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Path] = d.ID
	}
	return out
}
