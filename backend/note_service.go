package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"augenblick/backend/migration"
)

const metaColumns = `id, title, preview, file_path, storage, is_pinned, is_trashed, sort_order,
  created_at, last_interaction, trashed_at`

// noteService はSQLiteとファイルでノートを永続化するGatewayの実装です
//
// 接続は1本に絞り、複数の文にまたがる操作は mu で直列化する。
type noteService struct {
	db     *sql.DB
	paths  AppPaths
	logger AppLogger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

var _ Gateway = (*noteService)(nil)

// NewNoteService はDBを開いてスキーマを最新にし、noteServiceを作成します
func NewNoteService(ctx context.Context, paths AppPaths, logger AppLogger) (*noteService, error) {
	dsn := paths.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	migrated, err := migration.RunIfNeeded(ctx, db, paths.DBPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if migrated {
		logger.Info("Database schema migrated to v%d", migration.LatestVersion())
	}

	return &noteService{
		db:     db,
		paths:  paths,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// Close はDB接続を閉じます
func (s *noteService) Close() error {
	return s.db.Close()
}

func (s *noteService) nowMs() int64 {
	return s.now().UnixMilli()
}

// ------------------------------------------------------------
// 行の読み込み
// ------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (NoteMeta, error) {
	var (
		meta      NoteMeta
		storage   string
		pinned    int64
		trashed   int64
		trashedAt sql.NullInt64
	)
	err := row.Scan(
		&meta.ID, &meta.Title, &meta.Preview, &meta.FilePath, &storage,
		&pinned, &trashed, &meta.SortOrder,
		&meta.CreatedAt, &meta.LastInteraction, &trashedAt,
	)
	if err != nil {
		return NoteMeta{}, err
	}
	meta.Storage = storageFromDB(storage)
	meta.IsPinned = pinned != 0
	meta.IsTrashed = trashed != 0
	if trashedAt.Valid {
		v := trashedAt.Int64
		meta.TrashedAt = &v
	}
	return meta, nil
}

func storageFromDB(raw string) NoteStorage {
	if raw == string(StorageSaved) {
		return StorageSaved
	}
	return StorageDraft
}

// getMeta はIDのメタデータを読む。無ければ ErrNoteNotFound
func (s *noteService) getMeta(ctx context.Context, id string) (NoteMeta, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+metaColumns+" FROM notes WHERE id = ? LIMIT 1", id)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteMeta{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if err != nil {
		return NoteMeta{}, fmt.Errorf("failed to load note %s: %w", id, err)
	}
	return meta, nil
}

func (s *noteService) queryMetas(ctx context.Context, query string, args ...any) ([]NoteMeta, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := []NoteMeta{}
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func (s *noteService) maxSortOrder(ctx context.Context, pinned bool) (int64, error) {
	var maxOrder int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sort_order), 0) FROM notes WHERE is_trashed = 0 AND is_pinned = ?",
		boolToInt(pinned),
	).Scan(&maxOrder)
	return maxOrder, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ------------------------------------------------------------
// NoteGateway
// ------------------------------------------------------------

// ListNotes はアクティブとゴミ箱のノートを表示順で返します
func (s *noteService) ListNotes(ctx context.Context) (NotesList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.queryMetas(ctx,
		"SELECT "+metaColumns+" FROM notes WHERE is_trashed = 0 ORDER BY is_pinned DESC, sort_order ASC")
	if err != nil {
		return NotesList{}, fmt.Errorf("failed to list active notes: %w", err)
	}
	trashed, err := s.queryMetas(ctx,
		"SELECT "+metaColumns+" FROM notes WHERE is_trashed = 1 ORDER BY trashed_at DESC, sort_order ASC")
	if err != nil {
		return NotesList{}, fmt.Errorf("failed to list trashed notes: %w", err)
	}
	return NotesList{Active: active, Trashed: trashed}, nil
}

// CreateNote は空の下書きを作成し、ピン留めされていない区分の末尾に置きます
func (s *noteService) CreateNote(ctx context.Context) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	path := s.paths.draftPath(id)
	if err := writeNoteFile(path, ""); err != nil {
		return NoteMeta{}, err
	}

	maxOrder, err := s.maxSortOrder(ctx, false)
	if err != nil {
		removeDraftFile(path)
		return NoteMeta{}, fmt.Errorf("failed to compute sort order: %w", err)
	}

	now := s.nowMs()
	meta := NoteMeta{
		ID:              id,
		Title:           defaultNoteTitle,
		Preview:         "",
		FilePath:        path,
		Storage:         StorageDraft,
		SortOrder:       maxOrder + 1,
		CreatedAt:       now,
		LastInteraction: now,
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO notes (
  id, title, preview, file_path, storage, is_pinned, is_trashed,
  sort_order, created_at, last_interaction, trashed_at
) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, NULL)`,
		meta.ID, meta.Title, meta.Preview, meta.FilePath, string(meta.Storage),
		meta.SortOrder, meta.CreatedAt, meta.LastInteraction,
	)
	if err != nil {
		removeDraftFile(path)
		return NoteMeta{}, fmt.Errorf("failed to insert note: %w", err)
	}

	s.logger.Console("Created draft %s", id)
	return meta, nil
}

// GetNote はメタデータと本文を返します
func (s *noteService) GetNote(ctx context.Context, id string) (NoteWithContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteWithContent{}, err
	}
	content, err := readNoteFile(meta.FilePath)
	if err != nil {
		s.logger.Error(err, "Failed to read note %s at %s", id, meta.FilePath)
		return NoteWithContent{}, err
	}
	return NoteWithContent{Meta: meta, Content: content}, nil
}

// SetNoteActive は最終操作日時を現在時刻にします。存在しないIDは無視します
func (s *noteService) SetNoteActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(ctx, id)
}

func (s *noteService) touch(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notes SET last_interaction = ? WHERE id = ?", s.nowMs(), id); err != nil {
		return fmt.Errorf("failed to mark note %s active: %w", id, err)
	}
	return nil
}

// WriteDraft は下書きの本文を書き込み、タイトルとプレビューを更新します
func (s *noteService) WriteDraft(ctx context.Context, id, content string) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	if meta.Storage != StorageDraft {
		return NoteMeta{}, ErrNotDraft
	}
	if err := writeNoteFile(meta.FilePath, content); err != nil {
		return NoteMeta{}, err
	}
	return s.updateDerived(ctx, id, content)
}

// SaveNote は保存済みノートをそのパスに上書き保存します
func (s *noteService) SaveNote(ctx context.Context, id, content string) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	if meta.Storage != StorageSaved {
		return NoteMeta{}, ErrNotSaved
	}
	if err := writeNoteFile(meta.FilePath, content); err != nil {
		return NoteMeta{}, err
	}
	return s.updateDerived(ctx, id, content)
}

func (s *noteService) updateDerived(ctx context.Context, id, content string) (NoteMeta, error) {
	title, preview := deriveTitlePreview(content)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notes SET title = ?, preview = ?, last_interaction = ? WHERE id = ?",
		title, preview, s.nowMs(), id,
	); err != nil {
		return NoteMeta{}, fmt.Errorf("failed to update note %s: %w", id, err)
	}
	return s.getMeta(ctx, id)
}

// SaveNoteAs は本文を path に書き込み、ノートを保存済みに切り替えます
// 下書きだった場合は下書きファイルを削除します
func (s *noteService) SaveNoteAs(ctx context.Context, id, path, content string) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return NoteMeta{}, fmt.Errorf("invalid path %s: %w", path, err)
	}
	if err := writeNoteFile(target, content); err != nil {
		return NoteMeta{}, err
	}
	if meta.Storage == StorageDraft && meta.FilePath != target {
		if err := removeDraftFile(meta.FilePath); err != nil {
			s.logger.Error(err, "Failed to remove draft file %s", meta.FilePath)
		}
	}

	title, preview := deriveTitlePreview(content)
	if _, err := s.db.ExecContext(ctx, `
UPDATE notes
SET title = ?, preview = ?, file_path = ?, storage = ?, last_interaction = ?
WHERE id = ?`,
		title, preview, target, string(StorageSaved), s.nowMs(), id,
	); err != nil {
		return NoteMeta{}, fmt.Errorf("failed to update note %s: %w", id, err)
	}
	s.logger.Info("Saved note as %s", target)
	return s.getMeta(ctx, id)
}

// ImportFile はファイルを保存済みノートとして取り込みます
// 同じパスのノートが既にあれば、新規作成せずにそれを復活・更新します
func (s *noteService) ImportFile(ctx context.Context, path string) (NoteWithContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	abs, err := filepath.Abs(path)
	if err != nil {
		return NoteWithContent{}, fmt.Errorf("invalid path %s: %w", path, err)
	}
	content, err := readNoteFile(abs)
	if err != nil {
		s.logger.Error(err, "Failed to import %s", abs)
		return NoteWithContent{}, err
	}

	var existingID string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM notes WHERE file_path = ? LIMIT 1", abs).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertImported(ctx, abs, content)
	case err != nil:
		return NoteWithContent{}, fmt.Errorf("failed to look up %s: %w", abs, err)
	}

	meta, err := s.getMeta(ctx, existingID)
	if err != nil {
		return NoteWithContent{}, err
	}
	if meta.IsTrashed {
		if _, err := s.restore(ctx, meta); err != nil {
			return NoteWithContent{}, err
		}
	}
	updated, err := s.updateDerived(ctx, existingID, content)
	if err != nil {
		return NoteWithContent{}, err
	}
	s.logger.Console("Re-imported %s as existing note %s", abs, existingID)
	return NoteWithContent{Meta: updated, Content: content}, nil
}

func (s *noteService) insertImported(ctx context.Context, path, content string) (NoteWithContent, error) {
	maxOrder, err := s.maxSortOrder(ctx, false)
	if err != nil {
		return NoteWithContent{}, fmt.Errorf("failed to compute sort order: %w", err)
	}

	title, preview := deriveTitlePreview(content)
	now := s.nowMs()
	meta := NoteMeta{
		ID:              s.newID(),
		Title:           title,
		Preview:         preview,
		FilePath:        path,
		Storage:         StorageSaved,
		SortOrder:       maxOrder + 1,
		CreatedAt:       now,
		LastInteraction: now,
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO notes (
  id, title, preview, file_path, storage, is_pinned, is_trashed,
  sort_order, created_at, last_interaction, trashed_at
) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, NULL)`,
		meta.ID, meta.Title, meta.Preview, meta.FilePath, string(meta.Storage),
		meta.SortOrder, meta.CreatedAt, meta.LastInteraction,
	)
	if err != nil {
		return NoteWithContent{}, fmt.Errorf("failed to insert note: %w", err)
	}
	s.logger.Info("Imported %s", path)
	return NoteWithContent{Meta: meta, Content: content}, nil
}

// TrashNote はノートをゴミ箱に移します。下書きはファイルもゴミ箱ディレクトリへ移動します
func (s *noteService) TrashNote(ctx context.Context, id string) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	return s.trash(ctx, meta)
}

func (s *noteService) trash(ctx context.Context, meta NoteMeta) (NoteMeta, error) {
	if meta.IsTrashed {
		return meta, nil
	}

	path := meta.FilePath
	if meta.Storage == StorageDraft {
		target := filepath.Join(s.paths.TrashDir, filepath.Base(meta.FilePath))
		if err := moveNoteFile(meta.FilePath, target); err != nil {
			return NoteMeta{}, fmt.Errorf("move to trash failed: %w", err)
		}
		path = target
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE notes
SET is_trashed = 1, trashed_at = ?, is_pinned = 0, file_path = ?
WHERE id = ?`,
		s.nowMs(), path, meta.ID,
	); err != nil {
		return NoteMeta{}, fmt.Errorf("failed to trash note %s: %w", meta.ID, err)
	}
	return s.getMeta(ctx, meta.ID)
}

// RestoreNote はゴミ箱からノートを戻します
func (s *noteService) RestoreNote(ctx context.Context, id string) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	return s.restore(ctx, meta)
}

func (s *noteService) restore(ctx context.Context, meta NoteMeta) (NoteMeta, error) {
	if !meta.IsTrashed {
		return meta, nil
	}

	path := meta.FilePath
	if meta.Storage == StorageDraft {
		target := filepath.Join(s.paths.DraftsDir, filepath.Base(meta.FilePath))
		if err := moveNoteFile(meta.FilePath, target); err != nil {
			return NoteMeta{}, fmt.Errorf("restore failed: %w", err)
		}
		path = target
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE notes SET is_trashed = 0, trashed_at = NULL, file_path = ? WHERE id = ?",
		path, meta.ID,
	); err != nil {
		return NoteMeta{}, fmt.Errorf("failed to restore note %s: %w", meta.ID, err)
	}
	return s.getMeta(ctx, meta.ID)
}

// DeleteNoteForever はノートを完全に削除します
// 保存済みノートのファイルはユーザーのものなので残します
func (s *noteService) DeleteNoteForever(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteForever(ctx, meta)
}

func (s *noteService) deleteForever(ctx context.Context, meta NoteMeta) error {
	if meta.Storage == StorageDraft {
		if err := removeDraftFile(meta.FilePath); err != nil {
			s.logger.Error(err, "Failed to remove draft file %s", meta.FilePath)
		}
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", meta.ID); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", meta.ID, err)
	}
	return nil
}

// SetPinned はピン留めを変更します
// ピン留めは区分の末尾に追加し、上限を超える場合は ErrPinLimitReached を返します。
// 解除したノートは通常区分の末尾に移り、期限切れまでの時間が最初から数え直されます
func (s *noteService) SetPinned(ctx context.Context, id string, pinned bool) (NoteMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(ctx, id)
	if err != nil {
		return NoteMeta{}, err
	}
	if meta.IsPinned == pinned {
		return meta, nil
	}

	if pinned {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM notes WHERE is_pinned = 1 AND is_trashed = 0").Scan(&count); err != nil {
			return NoteMeta{}, fmt.Errorf("failed to count pinned notes: %w", err)
		}
		if count >= MaxPinnedNotes {
			return NoteMeta{}, ErrPinLimitReached
		}
		maxOrder, err := s.maxSortOrder(ctx, true)
		if err != nil {
			return NoteMeta{}, fmt.Errorf("failed to compute sort order: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			"UPDATE notes SET is_pinned = 1, sort_order = ? WHERE id = ?", maxOrder+1, id); err != nil {
			return NoteMeta{}, fmt.Errorf("failed to pin note %s: %w", id, err)
		}
		return s.getMeta(ctx, id)
	}

	maxOrder, err := s.maxSortOrder(ctx, false)
	if err != nil {
		return NoteMeta{}, fmt.Errorf("failed to compute sort order: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notes SET is_pinned = 0, sort_order = ?, last_interaction = ? WHERE id = ?",
		maxOrder+1, s.nowMs(), id); err != nil {
		return NoteMeta{}, fmt.Errorf("failed to unpin note %s: %w", id, err)
	}
	return s.getMeta(ctx, id)
}

// ReorderNotes は ids の順に sort_order を振り直します
// ゴミ箱のノートと存在しないIDは無視します
func (s *noteService) ReorderNotes(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reorder: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE notes SET sort_order = ? WHERE id = ? AND is_trashed = 0")
	if err != nil {
		return fmt.Errorf("failed to prepare reorder: %w", err)
	}
	defer stmt.Close()

	for idx, id := range ids {
		if _, err := stmt.ExecContext(ctx, idx, id); err != nil {
			return fmt.Errorf("failed to reorder note %s: %w", id, err)
		}
	}
	return tx.Commit()
}
