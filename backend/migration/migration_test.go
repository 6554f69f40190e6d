package migration

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "augenblick.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestRunIfNeeded_FreshDatabase(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()

	applied, err := RunIfNeeded(ctx, db, path)
	require.NoError(t, err)
	assert.True(t, applied)

	v, err := userVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)

	for _, table := range []string{"notes", "app_state", "settings"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// 新規DBではスナップショットを作らない
	_, err = os.Stat(filepath.Join(filepath.Dir(path), snapshotDir))
	assert.True(t, os.IsNotExist(err))
}

func TestRunIfNeeded_Idempotent(t *testing.T) {
	db, path := openTestDB(t)
	ctx := context.Background()

	_, err := RunIfNeeded(ctx, db, path)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO settings(key, value) VALUES ('theme', 'light')")
	require.NoError(t, err)

	applied, err := RunIfNeeded(ctx, db, path)
	require.NoError(t, err)
	assert.False(t, applied)

	var theme string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = 'theme'").Scan(&theme))
	assert.Equal(t, "light", theme)
}

func TestSaveSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "augenblick.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("db-bytes"), 0o644))

	require.NoError(t, saveSnapshot(dbPath, 1))

	entries, err := os.ReadDir(filepath.Join(dir, snapshotDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, snapshotDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "db-bytes", string(data))

	// 存在しないファイルは何もしない
	assert.NoError(t, saveSnapshot(filepath.Join(dir, "missing.db"), 1))
}
