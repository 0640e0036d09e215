package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"strings"
	"time"
)

// Difficulty is the closed set of audience levels a document can target
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the known difficulty levels
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// ParseDifficulty maps free text onto a Difficulty, defaulting to intermediate
func ParseDifficulty(s string) Difficulty {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if d.Valid() {
		return d
	}
	return DifficultyIntermediate
}

// Code block categories
const (
	CategoryComponent = "component"
	CategoryRune      = "rune"
	CategoryFunction  = "function"
	CategoryMarkup    = "markup"
	CategoryConfig    = "config"
	CategoryShell     = "shell"
	CategoryOther     = "other"
)

// Document is one page of the documentation corpus
type Document struct {
	// Identification
	ID    string // Stable across refreshes, derived from Path
	Path  string // Source path relative to the corpus root
	Title string

	// Content
	Content      string
	CodeExamples []string

	// Metadata
	Concept         string   // Primary topic, may be empty
	RelatedConcepts []string // Ordered, duplicates allowed
	Difficulty      Difficulty
	Tags            []string // Insertion order kept for display
	CodeMetadata    []CodeMetadata

	// Embedding is nil when it was never computed
	Embedding []float32

	LastUpdated time.Time
}

// CodeMetadata describes a single fenced code block inside a document
type CodeMetadata struct {
	Category   string   `json:"category"`
	Language   string   `json:"language"`
	Runes      []string `json:"runes"`
	Functions  []string `json:"functions"`
	Components []string `json:"components"`
}

// DocumentID derives the stable document identifier from its source path
func DocumentID(sourcePath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+sourcePath), "/")
	sum := sha256.Sum256([]byte(clean))
	return hex.EncodeToString(sum[:8])
}

// Validate checks the invariants a document must satisfy before it is persisted
func (d *Document) Validate(dimension int) error {
	if d.ID == "" {
		return ErrMissingID
	}
	if d.Content == "" {
		return ErrEmptyContent
	}
	if d.Difficulty != "" && !d.Difficulty.Valid() {
		return ErrInvalidDifficulty
	}
	if len(d.Embedding) > 0 && len(d.Embedding) != dimension {
		return ErrEmbeddingDimension
	}
	return nil
}

// HasEmbedding reports whether the document carries a computed vector
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Validation errors
var (
	ErrMissingID          = errors.New("document id is required")
	ErrInvalidDifficulty  = errors.New("difficulty must be beginner, intermediate or advanced")
	ErrEmbeddingDimension = errors.New("embedding length does not match configured dimension")
)
