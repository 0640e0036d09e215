package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestPendingMigrations(t *testing.T) {
	tests := []struct {
		current string
		want    []string
	}{
		{"", []string{"1.0.0", "1.1.0"}},
		{"1.0.0", []string{"1.1.0"}},
		{"1.1.0", nil},
		{"2.0.0", nil},
	}

	for _, tt := range tests {
		t.Run("from "+tt.current, func(t *testing.T) {
			pending, err := pendingMigrations(tt.current, SQLiteMigrations)
			require.NoError(t, err)

			var got []string
			for _, m := range pending {
				got = append(got, m.Version)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPendingMigrations_InvalidVersion(t *testing.T) {
	_, err := pendingMigrations("not-a-version", SQLiteMigrations)
	assert.Error(t, err)

	_, err = pendingMigrations("", []Migration{{Version: "bogus"}})
	assert.Error(t, err)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	version, err := schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "", version)

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db))

	version, err = schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(SQLiteMigrations), n)

	for _, table := range []string{"documents", "code_metadata", "refresh_runs"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestRollbackMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(ctx, db))

	require.NoError(t, RollbackMigration(ctx, db))
	assert.False(t, tableExists(t, db, "refresh_runs"))
	assert.True(t, tableExists(t, db, "documents"))

	version, err := schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	// Reapplying brings the schema back to current
	require.NoError(t, ApplyMigrations(ctx, db))
	version, err = schemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestRollbackMigration_Empty(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, RollbackMigration(context.Background(), db))
}
