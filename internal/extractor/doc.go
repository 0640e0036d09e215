// Package extractor turns markdown documentation pages into Documents.
//
// A page may start with a YAML frontmatter block:
//
//	---
//	title: $state
//	concept: reactivity
//	related_concepts: [signals]
//	difficulty: beginner
//	tags: [runes]
//	---
//
// Missing fields are derived from the page. The title falls back to the first
// "# " heading and then the file name. The concept falls back to the parent
// directory. Directory names are added as tags unless WithoutPathTags is set.
//
// Every fenced code block becomes a code example plus a CodeMetadata record
// with its category and the runes, called functions and components it uses.
package extractor
