package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"":           DriverSQLite,
		"sqlite":     DriverSQLite,
		"postgres":   DriverPostgres,
		"PostgreSQL": DriverPostgres,
	} {
		got, err := NormalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizeDriver("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM requests WHERE kind = ? AND id = ?"
	assert.Equal(t, q, Wrap(nil, DriverSQLite, zap.NewNop()).Rebind(q))
	assert.Equal(t, "SELECT * FROM requests WHERE kind = $1 AND id = $2", Wrap(nil, DriverPostgres, zap.NewNop()).Rebind(q))
}

func TestNew_PostgresRequiresDSN(t *testing.T) {
	_, err := New(Config{Driver: "postgres"}, zap.NewNop())
	assert.Error(t, err)
}

func TestMigrator_RunIsIdempotent(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	m := NewMigrator(db, zap.NewNop())

	require.NoError(t, m.Run(ctx))
	require.NoError(t, m.Run(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	for _, table := range []string{"employees", "requests", "approval_history"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrator_HistoryIsAppendOnly(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	require.NoError(t, NewMigrator(db, zap.NewNop()).Run(ctx))

	_, err := db.Exec(`INSERT INTO requests (kind, employee_id, amount, description, status, created_at, updated_at)
		VALUES ('advance', 'e1', '10', 'x', 'PENDING', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO approval_history (request_kind, request_id, actor_id, action, new_status, timestamp)
		VALUES ('advance', 1, 'e1', 'submitted', 'PENDING', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Exec("UPDATE approval_history SET comment = 'edited'")
	assert.Error(t, err)
	_, err = db.Exec("DELETE FROM approval_history")
	assert.Error(t, err)
}
