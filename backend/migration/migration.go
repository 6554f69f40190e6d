package migration

import (
	"context"
	"database/sql"
	"fmt"
)

// step は user_version を from から from+1 に上げるスキーマ変更
type step struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var steps = []step{
	{version: 1, apply: applyV1},
}

// LatestVersion はこのビルドが扱うスキーマのバージョン
func LatestVersion() int {
	return steps[len(steps)-1].version
}

// RunIfNeeded はDBの user_version を確認し、未適用のスキーマ変更を順に適用する
// 既存のDBを変更する前にはスナップショットを保存する。
// 何か適用した場合はtrueを返す
func RunIfNeeded(ctx context.Context, db *sql.DB, dbPath string) (bool, error) {
	current, err := userVersion(ctx, db)
	if err != nil {
		return false, err
	}
	if current >= LatestVersion() {
		return false, nil
	}

	if current > 0 && dbPath != "" {
		if err := saveSnapshot(dbPath, current); err != nil {
			return false, fmt.Errorf("failed to snapshot database before migration: %w", err)
		}
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := runStep(ctx, db, s); err != nil {
			return false, fmt.Errorf("migration to v%d failed: %w", s.version, err)
		}
	}
	return true, nil
}

func runStep(ctx context.Context, db *sql.DB, s step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.apply(ctx, tx); err != nil {
		return err
	}
	// PRAGMA はプレースホルダを受け付けない
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.version)); err != nil {
		return err
	}
	return tx.Commit()
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
