// Package fetcher acquires the raw markdown corpus.
//
// HTTPFetcher reads a manifest of relative paths from a base URL and
// downloads each page, caching bodies in a RawCache. DirFetcher walks a local
// directory. Both return Sources in manifest or lexical order; a Source that
// could not be read carries its error instead of failing the whole fetch.
package fetcher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrManifest is returned when the manifest cannot be read
	ErrManifest = errors.New("failed to read manifest")

	// ErrInvalidPath is set on sources whose path escapes the corpus root
	ErrInvalidPath = errors.New("invalid source path")
)

// Source is one raw page of the corpus
type Source struct {
	Path    string // Slash-separated, relative to the corpus root
	Content []byte
	ModTime time.Time // Zero when unknown
	Err     error     // Set when this page could not be read
}

// Fetcher returns the current corpus
type Fetcher interface {
	Fetch(ctx context.Context) ([]Source, error)
}
