// Package storage persists the documentation corpus and answers the three
// retrieval queries used by search: vector similarity, keyword substring and
// exact concept match.
//
// Two stores implement Store:
//   - SQLiteStorage: a single-file database, the default
//   - PostgresStorage: PostgreSQL with the pgvector extension
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations, compared with semver
//   - documents: one row per page; list columns hold JSON arrays
//   - code_metadata: one row per fenced code block, cascades with its document
//   - refresh_runs: one row per completed corpus refresh
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("docs.db", storage.WithDimension(1536))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	where := storage.CompileFilters(store.Dialect(), &types.SearchFilters{
//	    Tags: []string{"runes"},
//	})
//	rows, err := store.SearchVector(ctx, storage.NewQueryVector(vec), where, 10)
//
// Rows are returned in their stored form. Decoding the JSON columns and the
// embedding blob is left to the caller.
//
// # Filters
//
// CompileFilters turns SearchFilters into a Fragment with ? placeholders.
// Every filter value is bound as an argument, never interpolated. Postgres
// rewrites the placeholders with Rebind before execution.
//
// # Transactions
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, doc := range batch {
//	    if err := tx.UpsertDocument(ctx, doc); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite
//
//     CGO_ENABLED=0 go build -tags "purego"
//
// Both register vec_distance_cosine as a Go scalar function over
// little-endian float32 blobs.
package storage
