// Package types provides shared type definitions for the docsearch MCP server.
//
// This package defines the domain types used across storage, search, indexing and
// the transports: documents, their code metadata, search filters and search results.
//
// # Core Types
//
// Document is one logical page of the documentation corpus:
//
//	doc := &types.Document{
//	    ID:         types.DocumentID("docs/svelte/02-runes/02-$state.md"),
//	    Content:    markdown,
//	    Concept:    "reactivity",
//	    Difficulty: types.DifficultyBeginner,
//	    Tags:       []string{"runes", "state"},
//	}
//
// CodeMetadata describes one fenced code block of a document and backs the
// category and has_* search facets.
//
// # Filters
//
// SearchFilters fields are combined with AND; the values inside one field are
// combined with OR:
//
//	filters := &types.SearchFilters{
//	    Difficulty: types.DifficultyIntermediate,
//	    Tags:       []string{"runes", "props"},
//	}
//
// # Results
//
// SearchResult pairs a Document with a similarity where higher is always more
// relevant, whichever path (vector, keyword, concept) produced it.
package types
