package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// postgresDocumentColumns mirrors sqliteDocumentColumns for jsonb and vector columns
const postgresDocumentColumns = `d.id, d.path, d.title, d.content, d.concept,
		d.related_concepts::text, d.code_examples::text, d.difficulty, d.tags::text,
		COALESCE((SELECT jsonb_agg(jsonb_build_object(
			'category', cm.category,
			'language', cm.language,
			'runes', cm.runes,
			'functions', cm.functions,
			'components', cm.components) ORDER BY cm.position)
		 FROM code_metadata cm WHERE cm.document_id = d.id), '[]'::jsonb)::text,
		d.embedding, d.last_updated`

// PostgresMigrations contains the Postgres schema migrations in order.
// {{dimension}} is replaced with the configured embedding dimension.
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    concept TEXT NOT NULL DEFAULT '',
    related_concepts JSONB NOT NULL DEFAULT '[]',
    code_examples JSONB NOT NULL DEFAULT '[]',
    difficulty TEXT NOT NULL DEFAULT 'intermediate',
    tags JSONB NOT NULL DEFAULT '[]',
    embedding vector({{dimension}}),
    last_updated TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_concept ON documents(concept);
CREATE INDEX IF NOT EXISTS idx_documents_difficulty ON documents(difficulty);

CREATE TABLE IF NOT EXISTS code_metadata (
    id BIGSERIAL PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    category TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    runes JSONB NOT NULL DEFAULT '[]',
    functions JSONB NOT NULL DEFAULT '[]',
    components JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_code_metadata_document ON code_metadata(document_id);
`,
		Down: `
DROP TABLE IF EXISTS code_metadata;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS schema_version;
`,
	},
	{
		Version: "1.1.0",
		Up: `
CREATE TABLE IF NOT EXISTS refresh_runs (
    id BIGSERIAL PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    indexed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);
`,
		Down: `DROP TABLE IF EXISTS refresh_runs;`,
	},
}

// PostgresStorage implements the Store interface on PostgreSQL with pgvector
type PostgresStorage struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStorage connects to dsn, checks for pgvector and migrates the schema
func NewPostgresStorage(ctx context.Context, dsn string, opts ...Option) (*PostgresStorage, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStorage{pool: pool, opts: o}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	// The vector type exists only after the first migration, so register
	// it on a fresh pool
	pool.Close()
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s.pool = pool

	return s, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, PostgresMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		up := strings.ReplaceAll(migration.Up, "{{dimension}}", strconv.Itoa(s.opts.dimension))
		if _, err := s.pool.Exec(ctx, up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

func (s *PostgresStorage) schemaVersion(ctx context.Context) (string, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version')",
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if !exists {
		return "", nil
	}

	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}

	var newest *semver.Version
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if newest == nil || v.GreaterThan(newest) {
			newest = v
		}
	}
	if newest == nil {
		return "", nil
	}
	return newest.Original(), nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStorage) Dialect() Dialect {
	return PostgresDialect{}
}

// BeginTx starts a new transaction
func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &Error{Op: "begin transaction", Err: err}
	}
	return &postgresTx{tx: tx, ctx: ctx, storage: s}, nil
}

// postgresTx adapts pgx.Tx to the context-free Commit/Rollback of Tx
type postgresTx struct {
	tx      pgx.Tx
	ctx     context.Context
	storage *PostgresStorage
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit(t.ctx)
}

func (t *postgresTx) Rollback() error {
	return t.tx.Rollback(context.WithoutCancel(t.ctx))
}

// UpsertDocument writes doc in a nested transaction, which pgx runs as a
// savepoint. A failed statement would otherwise abort the whole batch.
func (t *postgresTx) UpsertDocument(ctx context.Context, doc *types.Document) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return &Error{Op: "savepoint", Err: err}
	}
	if err := t.storage.upsertDocument(ctx, sp, doc); err != nil {
		if rbErr := sp.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, &Error{Op: "rollback savepoint", Err: rbErr})
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return &Error{Op: "release savepoint", Err: err}
	}
	return nil
}

func (s *PostgresStorage) UpsertDocument(ctx context.Context, doc *types.Document) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &Error{Op: "begin transaction", Err: err}
	}
	if err := s.upsertDocument(ctx, tx, doc); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) upsertDocument(ctx context.Context, tx pgx.Tx, doc *types.Document) error {
	v, err := prepareDocument(doc, s.opts.dimension)
	if err != nil {
		return &Error{Op: "upsert document", Err: err}
	}

	var embedding *pgvector.Vector
	if doc.HasEmbedding() {
		vec := pgvector.NewVector(doc.Embedding)
		embedding = &vec
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, path, title, content, concept, related_concepts,
		                       code_examples, difficulty, tags, embedding, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9::jsonb, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			concept = EXCLUDED.concept,
			related_concepts = EXCLUDED.related_concepts,
			code_examples = EXCLUDED.code_examples,
			difficulty = EXCLUDED.difficulty,
			tags = EXCLUDED.tags,
			embedding = EXCLUDED.embedding,
			last_updated = EXCLUDED.last_updated
	`, doc.ID, doc.Path, doc.Title, doc.Content, doc.Concept, v.relatedConcepts,
		v.codeExamples, v.difficulty, v.tags, embedding, v.lastUpdated)
	if err != nil {
		return &Error{Op: "upsert document", Err: err}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM code_metadata WHERE document_id = $1", doc.ID); err != nil {
		return &Error{Op: "replace code metadata", Err: err}
	}

	batch := &pgx.Batch{}
	for i, cm := range doc.CodeMetadata {
		runes, _ := marshalList(cm.Runes)
		functions, _ := marshalList(cm.Functions)
		components, _ := marshalList(cm.Components)
		batch.Queue(`
			INSERT INTO code_metadata (document_id, position, category, language, runes, functions, components)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb)
		`, doc.ID, i, cm.Category, cm.Language, runes, functions, components)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return &Error{Op: "replace code metadata", Err: err}
		}
	}

	return nil
}

func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*DocumentRow, error) {
	query := "SELECT " + postgresDocumentColumns + " FROM documents d WHERE d.id = $1"
	row, err := scanPostgresRow(s.pool.QueryRow(ctx, query, id), false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get document", Err: err}
	}
	return &row, nil
}

func (s *PostgresStorage) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, &Error{Op: "count documents", Err: err}
	}
	return n, nil
}

func (s *PostgresStorage) SearchVector(ctx context.Context, qv QueryVector, where Fragment, limit int) ([]DocumentRow, error) {
	if !s.opts.vectorSearch {
		return nil, ErrVectorUnsupported
	}
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	if len(qv.Values) != s.opts.dimension {
		return nil, &Error{Op: "vector search", Err: fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(qv.Values), s.opts.dimension)}
	}

	query, args := vectorQuery(s.Dialect(), postgresDocumentColumns, pgvector.NewVector(qv.Values), where, limit)
	return s.queryRows(ctx, "vector search", query, args, true)
}

func (s *PostgresStorage) SearchKeyword(ctx context.Context, text string, where Fragment, limit int) ([]DocumentRow, error) {
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	query, args := keywordQuery(s.Dialect(), postgresDocumentColumns, text, where, limit)
	return s.queryRows(ctx, "keyword search", query, args, false)
}

func (s *PostgresStorage) SearchConcept(ctx context.Context, concept string, where Fragment, limit int) ([]DocumentRow, error) {
	if limit <= 0 {
		return []DocumentRow{}, nil
	}

	query, args := conceptQuery(postgresDocumentColumns, concept, where, limit)
	return s.queryRows(ctx, "concept search", query, args, false)
}

func (s *PostgresStorage) queryRows(ctx context.Context, op, query string, args []any, withSimilarity bool) ([]DocumentRow, error) {
	rows, err := s.pool.Query(ctx, Rebind(query), args...)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer rows.Close()

	results := make([]DocumentRow, 0)
	for rows.Next() {
		row, err := scanPostgresRow(rows, withSimilarity)
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

func scanPostgresRow(sc rowScanner, withSimilarity bool) (DocumentRow, error) {
	var row DocumentRow
	var embedding *pgvector.Vector
	dest := []any{
		&row.ID, &row.Path, &row.Title, &row.Content, &row.Concept,
		&row.RelatedConcepts, &row.CodeExamples, &row.Difficulty, &row.Tags,
		&row.CodeMetadata, &embedding, &row.LastUpdated,
	}
	if withSimilarity {
		dest = append(dest, &row.Similarity)
	}
	if err := sc.Scan(dest...); err != nil {
		return DocumentRow{}, err
	}
	if embedding != nil {
		row.Embedding = EncodeVector(embedding.Slice())
	}
	return row, nil
}

func (s *PostgresStorage) RecordRefresh(ctx context.Context, run *RefreshRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_runs (started_at, finished_at, fetched, indexed, failed)
		VALUES ($1, $2, $3, $4, $5)
	`, run.StartedAt, run.FinishedAt, run.Fetched, run.Indexed, run.Failed)
	if err != nil {
		return &Error{Op: "record refresh", Err: err}
	}
	return nil
}

func (s *PostgresStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:       "postgres",
		VectorSearch: s.opts.vectorSearch,
	}

	version, err := s.schemaVersion(ctx)
	if err != nil {
		return nil, &Error{Op: "status", Err: err}
	}
	status.SchemaVersion = version

	var lastUpdated *time.Time
	var sizeBytes int64
	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM documents WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM code_metadata),
			(SELECT COUNT(DISTINCT concept) FROM documents WHERE concept <> ''),
			(SELECT MAX(last_updated) FROM documents),
			pg_total_relation_size('documents') + pg_total_relation_size('code_metadata')
	`).Scan(&status.Documents, &status.Embedded, &status.CodeBlocks, &status.Concepts, &lastUpdated, &sizeBytes)
	if err != nil {
		return nil, &Error{Op: "status", Err: err}
	}
	if lastUpdated != nil {
		status.LastUpdated = *lastUpdated
	}
	status.IndexSizeMB = float64(sizeBytes) / (1024 * 1024)

	var run RefreshRun
	err = s.pool.QueryRow(ctx, `
		SELECT started_at, finished_at, fetched, indexed, failed
		FROM refresh_runs ORDER BY id DESC LIMIT 1
	`).Scan(&run.StartedAt, &run.FinishedAt, &run.Fetched, &run.Indexed, &run.Failed)
	switch {
	case err == nil:
		status.LastRefresh = &run
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, &Error{Op: "status", Err: err}
	}

	status.DatabaseHealthy = true
	return status, nil
}

// Rebind rewrites ? placeholders as $1..$n, leaving quoted text untouched
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
