package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	conn, err := Open()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(context.Background(), conn,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
	))
	_, err = conn.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, conn.Get(&v, `SELECT v FROM kv WHERE k = 'a'`))
	assert.Equal(t, "b", v)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	conn, err := Open(WithPath(path), WithMaxOpenConns(2))
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), conn,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
	))
	_, err = conn.Exec(`INSERT INTO kv (k, v) VALUES ('x', 'y')`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn, err = Open(WithPath(path))
	require.NoError(t, err)
	defer conn.Close()

	// migrations are idempotent
	require.NoError(t, Migrate(context.Background(), conn,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
	))
	var v string
	require.NoError(t, conn.Get(&v, `SELECT v FROM kv WHERE k = 'x'`))
	assert.Equal(t, "y", v)
}

func TestMigrateFailureRollsBack(t *testing.T) {
	conn, err := Open()
	require.NoError(t, err)
	defer conn.Close()

	err = Migrate(context.Background(), conn,
		`CREATE TABLE t1 (id INTEGER)`,
		`NOT VALID SQL`,
	)
	require.Error(t, err)

	var n int
	require.NoError(t, conn.Get(&n, `SELECT count(*) FROM sqlite_master WHERE name = 't1'`))
	assert.Equal(t, 0, n)
}
