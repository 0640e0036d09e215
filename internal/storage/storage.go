package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested document doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrVectorUnsupported is returned by SearchVector when the store has no similarity function
	ErrVectorUnsupported = errors.New("vector similarity not supported by store")

	// ErrDimensionMismatch is returned when a document embedding has the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Error wraps a failed store operation with the operation name
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Store defines the persistence operations used by search and refresh
type Store interface {
	// Dialect renders driver-specific SQL for the filter compiler
	Dialect() Dialect

	// Search operations. Rows come back in descending relevance order.
	SearchVector(ctx context.Context, query QueryVector, where Fragment, limit int) ([]DocumentRow, error)
	SearchKeyword(ctx context.Context, query string, where Fragment, limit int) ([]DocumentRow, error)
	SearchConcept(ctx context.Context, concept string, where Fragment, limit int) ([]DocumentRow, error)

	// Document operations
	GetDocument(ctx context.Context, id string) (*DocumentRow, error)
	UpsertDocument(ctx context.Context, doc *types.Document) error
	CountDocuments(ctx context.Context) (int, error)

	// Refresh bookkeeping
	RecordRefresh(ctx context.Context, run *RefreshRun) error

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a write transaction used by the refresh pipeline
type Tx interface {
	UpsertDocument(ctx context.Context, doc *types.Document) error
	Commit() error
	Rollback() error
}

// DocumentRow is a documents row in its stored form.
// List fields hold JSON arrays and Embedding holds little-endian float32s;
// decoding is left to the caller so malformed rows can be handled by policy.
type DocumentRow struct {
	ID              string
	Path            string
	Title           string
	Content         string
	Concept         string
	RelatedConcepts string
	CodeExamples    string
	Difficulty      string
	Tags            string
	CodeMetadata    string // JSON array of code_metadata objects
	Embedding       []byte // nil when never computed
	LastUpdated     time.Time

	// Similarity is set by SearchVector only. It is 0 when the stored
	// embedding could not be scored against the query.
	Similarity float64
}

// QueryVector carries a query embedding in the forms stores bind.
// SQLite binds Blob; Postgres binds Values as a pgvector.Vector.
type QueryVector struct {
	Values []float32
	Blob   []byte // EncodeVector(Values)
}

// NewQueryVector encodes v for use as a similarity query argument
func NewQueryVector(v []float32) QueryVector {
	return QueryVector{
		Values: v,
		Blob:   EncodeVector(v),
	}
}

// RefreshRun records one completed refresh
type RefreshRun struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Indexed    int
	Failed     int
}

// Status contains statistics about the stored corpus
type Status struct {
	Driver          string
	SchemaVersion   string
	Documents       int
	Embedded        int
	CodeBlocks      int
	Concepts        int
	IndexSizeMB     float64
	VectorSearch    bool
	LastUpdated     time.Time
	LastRefresh     *RefreshRun
	DatabaseHealthy bool
}
