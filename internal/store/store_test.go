package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowkit/internal/ir"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open #%d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"flow_states", "flow_events", "store_meta"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/flows.db")
	assert.Error(t, err)
}

func TestOpen_UpgradesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// a database that only ever saw the base tables
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Contains(t, tableIndexes(t, s.db, "flow_events"), "idx_flow_events_run")
}

func TestEngineVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v, err := s.EngineVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.EngineVersion, v)

	require.NoError(t, s.setMeta(ctx, "engine_version", "0.0.1"))
	v, err = s.EngineVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", v)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestDB(t *testing.T) {
	s := createTestStore(t)
	require.NotNil(t, s.DB())
	assert.NoError(t, s.DB().Ping())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"foreign_keys": "1",
		"user_version": "2",
	} {
		assert.NoError(t, s.verifyPragma(name, want))
	}
}

func TestSchema(t *testing.T) {
	s := createTestStore(t)

	columns := map[string][]string{
		"flow_states": {"id", "snapshot", "version"},
		"flow_events": {"rowid_seq", "run_id", "seq", "kind", "flow_name", "flow_id", "method_name", "result"},
		"store_meta":  {"key", "value"},
	}
	for table, want := range columns {
		got := tableColumns(t, s.db, table)
		for _, col := range want {
			assert.Contains(t, got, col, "%s.%s", table, col)
		}
	}

	indexes := tableIndexes(t, s.db, "flow_events")
	assert.Contains(t, indexes, "idx_flow_events_flow")
	assert.Contains(t, indexes, "idx_flow_events_run")
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
