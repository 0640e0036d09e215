// Package searcher answers documentation queries.
//
// Search runs in two steps. The query is embedded and matched against stored
// vectors with the compiled filters applied. If that step fails, or returns
// no rows, the same filters and limit are applied to a case-insensitive
// substring match over content, title, concept, tags and code facets. Keyword
// matches carry similarity 1.0.
//
// # Basic Usage
//
//	s := searcher.New(store, embedder.NewHashProvider(1536),
//	    searcher.WithLogger(log),
//	    searcher.WithMalformedPolicy(searcher.MalformedSkip),
//	)
//
//	results, err := s.Search(ctx, "reactive state", &searcher.Options{
//	    Limit:   10,
//	    Filters: &types.SearchFilters{Tags: []string{"runes"}},
//	})
//
//	for _, r := range results {
//	    fmt.Printf("%s (%s %.2f)\n", r.Document.Path, r.Source, r.Similarity)
//	}
//
// # Errors
//
// Vector failures are logged and counted, never returned. A keyword failure is
// returned as *types.SearchError. SimilarDocs returns store errors unmodified.
//
// # Malformed Rows
//
// A row whose JSON columns or embedding blob cannot be decoded is skipped with
// a warning (MalformedSkip, the default) or fails the call (MalformedFail).
package searcher
