package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// vecDistanceFunc is the SQL name of the cosine distance function
const vecDistanceFunc = "vec_distance_cosine"

// DefaultDimension is the embedding length stores accept unless configured otherwise
const DefaultDimension = 1536

// sqliteDocumentColumns selects a documents row plus its code blocks as a JSON array
const sqliteDocumentColumns = `d.id, d.path, d.title, d.content, d.concept,
		d.related_concepts, d.code_examples, d.difficulty, d.tags,
		(SELECT json_group_array(json_object(
			'category', cm.category,
			'language', cm.language,
			'runes', json(cm.runes),
			'functions', json(cm.functions),
			'components', json(cm.components)))
		 FROM code_metadata cm WHERE cm.document_id = d.id),
		d.embedding, d.last_updated`

// Option configures a store
type Option func(*options)

type options struct {
	dimension    int
	vectorSearch bool
}

func defaultOptions() options {
	return options{dimension: DefaultDimension, vectorSearch: true}
}

// WithDimension sets the embedding length the store accepts
func WithDimension(dim int) Option {
	return func(o *options) {
		if dim > 0 {
			o.dimension = dim
		}
	}
}

// WithoutVectorSearch makes SearchVector report ErrVectorUnsupported
func WithoutVectorSearch() Option {
	return func(o *options) { o.vectorSearch = false }
}

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	opts options
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) a SQLite database and migrates it
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, opts: o}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Dialect returns the SQLite SQL dialect
func (s *SQLiteStorage) Dialect() Dialect {
	return SQLiteDialect{}
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &Error{Op: "begin transaction", Err: err}
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// UpsertDocument writes doc under a savepoint. A failure part way through
// undoes only this document and the transaction stays usable.
func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT upsert_document"); err != nil {
		return &Error{Op: "savepoint", Err: err}
	}
	if err := t.storage.upsertDocumentWithQuerier(ctx, t.tx, doc); err != nil {
		rctx := context.WithoutCancel(ctx)
		if _, rbErr := t.tx.ExecContext(rctx, "ROLLBACK TO SAVEPOINT upsert_document"); rbErr != nil {
			return errors.Join(err, &Error{Op: "rollback savepoint", Err: rbErr})
		}
		if _, rbErr := t.tx.ExecContext(rctx, "RELEASE SAVEPOINT upsert_document"); rbErr != nil {
			return errors.Join(err, &Error{Op: "release savepoint", Err: rbErr})
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT upsert_document"); err != nil {
		return &Error{Op: "release savepoint", Err: err}
	}
	return nil
}

// Document operations

// upsertDocumentWithQuerier replaces a document row and its code blocks
func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *types.Document) error {
	v, err := prepareDocument(doc, s.opts.dimension)
	if err != nil {
		return &Error{Op: "upsert document", Err: err}
	}

	var embedding []byte
	if doc.HasEmbedding() {
		embedding = EncodeVector(doc.Embedding)
	}

	query := `
		INSERT INTO documents (id, path, title, content, concept, related_concepts,
		                       code_examples, difficulty, tags, embedding, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			title = excluded.title,
			content = excluded.content,
			concept = excluded.concept,
			related_concepts = excluded.related_concepts,
			code_examples = excluded.code_examples,
			difficulty = excluded.difficulty,
			tags = excluded.tags,
			embedding = excluded.embedding,
			last_updated = excluded.last_updated
	`
	_, err = q.ExecContext(ctx, query,
		doc.ID, doc.Path, doc.Title, doc.Content, doc.Concept, v.relatedConcepts,
		v.codeExamples, v.difficulty, v.tags, embedding, v.lastUpdated)
	if err != nil {
		return &Error{Op: "upsert document", Err: err}
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM code_metadata WHERE document_id = ?", doc.ID); err != nil {
		return &Error{Op: "replace code metadata", Err: err}
	}

	for i, cm := range doc.CodeMetadata {
		runes, err := marshalList(cm.Runes)
		if err != nil {
			return &Error{Op: "replace code metadata", Err: err}
		}
		functions, err := marshalList(cm.Functions)
		if err != nil {
			return &Error{Op: "replace code metadata", Err: err}
		}
		components, err := marshalList(cm.Components)
		if err != nil {
			return &Error{Op: "replace code metadata", Err: err}
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO code_metadata (document_id, position, category, language, runes, functions, components)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, i, cm.Category, cm.Language, runes, functions, components)
		if err != nil {
			return &Error{Op: "replace code metadata", Err: err}
		}
	}

	return nil
}

// UpsertDocument inserts or replaces a document in its own transaction
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *types.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "begin transaction", Err: err}
	}
	if err := s.upsertDocumentWithQuerier(ctx, tx, doc); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*DocumentRow, error) {
	query := "SELECT " + sqliteDocumentColumns + " FROM documents d WHERE d.id = ?"
	row, err := scanSQLiteRow(s.db.QueryRowContext(ctx, query, id), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get document", Err: err}
	}
	return &row, nil
}

func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, &Error{Op: "count documents", Err: err}
	}
	return n, nil
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, qv QueryVector, where Fragment, limit int) ([]DocumentRow, error) {
	if !s.opts.vectorSearch {
		return nil, ErrVectorUnsupported
	}
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	if len(qv.Values) != s.opts.dimension {
		return nil, &Error{Op: "vector search", Err: fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(qv.Values), s.opts.dimension)}
	}

	query, args := vectorQuery(s.Dialect(), sqliteDocumentColumns, qv.Blob, where, limit)
	return s.queryRows(ctx, "vector search", query, args, true)
}

func (s *SQLiteStorage) SearchKeyword(ctx context.Context, text string, where Fragment, limit int) ([]DocumentRow, error) {
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	query, args := keywordQuery(s.Dialect(), sqliteDocumentColumns, text, where, limit)
	return s.queryRows(ctx, "keyword search", query, args, false)
}

func (s *SQLiteStorage) SearchConcept(ctx context.Context, concept string, where Fragment, limit int) ([]DocumentRow, error) {
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	query, args := conceptQuery(sqliteDocumentColumns, concept, where, limit)
	return s.queryRows(ctx, "concept search", query, args, false)
}

func (s *SQLiteStorage) queryRows(ctx context.Context, op, query string, args []any, withSimilarity bool) ([]DocumentRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer func() { _ = rows.Close() }()

	results := make([]DocumentRow, 0)
	for rows.Next() {
		row, err := scanSQLiteRow(rows, withSimilarity)
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	return results, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow(sc rowScanner, withSimilarity bool) (DocumentRow, error) {
	var row DocumentRow
	var codeMetadata sql.NullString
	var similarity sql.NullFloat64
	dest := []any{
		&row.ID, &row.Path, &row.Title, &row.Content, &row.Concept,
		&row.RelatedConcepts, &row.CodeExamples, &row.Difficulty, &row.Tags,
		&codeMetadata, &row.Embedding, &row.LastUpdated,
	}
	if withSimilarity {
		dest = append(dest, &similarity)
	}
	if err := sc.Scan(dest...); err != nil {
		return DocumentRow{}, err
	}
	row.CodeMetadata = codeMetadata.String
	row.Similarity = similarity.Float64
	return row, nil
}

// Refresh bookkeeping

func (s *SQLiteStorage) RecordRefresh(ctx context.Context, run *RefreshRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_runs (started_at, finished_at, fetched, indexed, failed)
		VALUES (?, ?, ?, ?, ?)
	`, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Fetched, run.Indexed, run.Failed)
	if err != nil {
		return &Error{Op: "record refresh", Err: err}
	}
	return nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:       "sqlite/" + BuildMode,
		VectorSearch: s.opts.vectorSearch,
	}

	version, err := schemaVersion(ctx, s.db)
	if err != nil {
		return nil, &Error{Op: "status", Err: err}
	}
	status.SchemaVersion = version

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &status.Documents},
		{"SELECT COUNT(*) FROM documents WHERE embedding IS NOT NULL", &status.Embedded},
		{"SELECT COUNT(*) FROM code_metadata", &status.CodeBlocks},
		{"SELECT COUNT(DISTINCT concept) FROM documents WHERE concept != ''", &status.Concepts},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, &Error{Op: "status", Err: err}
		}
	}

	var lastUpdated time.Time
	err = s.db.QueryRowContext(ctx, "SELECT last_updated FROM documents ORDER BY last_updated DESC LIMIT 1").Scan(&lastUpdated)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "status", Err: err}
	}
	status.LastUpdated = lastUpdated

	var run RefreshRun
	err = s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, fetched, indexed, failed
		FROM refresh_runs ORDER BY id DESC LIMIT 1
	`).Scan(&run.StartedAt, &run.FinishedAt, &run.Fetched, &run.Indexed, &run.Failed)
	switch {
	case err == nil:
		status.LastRefresh = &run
	case !errors.Is(err, sql.ErrNoRows):
		return nil, &Error{Op: "status", Err: err}
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.DatabaseHealthy = true
	return status, nil
}
