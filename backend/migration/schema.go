package migration

import (
	"context"
	"database/sql"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS notes (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  preview TEXT NOT NULL,
  file_path TEXT NOT NULL,
  storage TEXT NOT NULL,
  is_pinned INTEGER NOT NULL DEFAULT 0,
  is_trashed INTEGER NOT NULL DEFAULT 0,
  sort_order INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  last_interaction INTEGER NOT NULL,
  trashed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_notes_last_interaction ON notes(last_interaction);
CREATE INDEX IF NOT EXISTS idx_notes_trashed_at ON notes(trashed_at);
CREATE INDEX IF NOT EXISTS idx_notes_file_path ON notes(file_path);

CREATE TABLE IF NOT EXISTS app_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

func applyV1(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, schemaV1)
	return err
}
