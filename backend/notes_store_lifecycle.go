package backend

import (
	"context"
	"fmt"
)

// ------------------------------------------------------------
// ゴミ箱・削除・ピン留め・期限切れ
// ------------------------------------------------------------

// Trash はノートをゴミ箱に移す
// 現在キャッシュしている本文をベースラインとして記録する
func (s *NotesStore) Trash(ctx context.Context, id string) error {
	updated, err := s.gateway.TrashNote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to trash note %s: %w", id, err)
	}

	s.update(func(st *NotesState) {
		if st.SelectedID == id {
			st.SelectedID = ""
		}
		s.mergeMeta(st, updated)
		if content, ok := st.ContentByID[id]; ok {
			st.LastSavedContentByID[id] = content
		}
	})
	return nil
}

// Restore はゴミ箱からノートを戻し、ノート一覧の表示に切り替える
func (s *NotesStore) Restore(ctx context.Context, id string) error {
	updated, err := s.gateway.RestoreNote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to restore note %s: %w", id, err)
	}

	s.update(func(st *NotesState) {
		s.mergeMeta(st, updated)
		st.ViewMode = ViewNotes
	})
	return nil
}

// DeleteForever はノートを完全に削除し、キャッシュからも取り除く
func (s *NotesStore) DeleteForever(ctx context.Context, id string) error {
	s.timers.clearDraftSaveTimer(id)
	if err := s.gateway.DeleteNoteForever(ctx, id); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}

	s.update(func(st *NotesState) {
		s.purgeLocked(st, []string{id})
	})
	return nil
}

// ClearTrash はゴミ箱のノートを順番に完全削除する。ゴミ箱が空なら何もしない
func (s *NotesStore) ClearTrash(ctx context.Context) error {
	var ids []string
	s.view(func(st *NotesState) {
		for _, n := range st.List.Trashed {
			ids = append(ids, n.ID)
		}
	})
	if len(ids) == 0 {
		return nil
	}

	var (
		deleted   []string
		deleteErr error
	)
	for _, id := range ids {
		s.timers.clearDraftSaveTimer(id)
		if err := s.gateway.DeleteNoteForever(ctx, id); err != nil {
			deleteErr = fmt.Errorf("failed to delete note %s: %w", id, err)
			break
		}
		deleted = append(deleted, id)
	}

	if len(deleted) > 0 {
		s.update(func(st *NotesState) {
			s.purgeLocked(st, deleted)
		})
	}
	s.logger.Console("Cleared %d of %d trashed notes", len(deleted), len(ids))
	return deleteErr
}

// purgeLocked は完全削除したIDをリスト・本文・ベースライン・選択から取り除く
func (s *NotesStore) purgeLocked(st *NotesState, ids []string) {
	for _, id := range ids {
		s.deleted[id] = struct{}{}
		st.List = removeMeta(st.List, id)
		delete(st.ContentByID, id)
		delete(st.LastSavedContentByID, id)
		if st.SelectedID == id {
			st.SelectedID = ""
		}
	}
}

// TogglePin はピン留めを切り替える
// 上限超過などで拒否された場合はローカルの状態を変更しない
func (s *NotesStore) TogglePin(ctx context.Context, id string) error {
	var (
		meta  NoteMeta
		found bool
	)
	s.view(func(st *NotesState) { meta, found = findActiveByID(st.List, id) })
	if !found {
		return nil
	}

	updated, err := s.gateway.SetPinned(ctx, id, !meta.IsPinned)
	if err != nil {
		return fmt.Errorf("failed to toggle pin for note %s: %w", id, err)
	}
	s.update(func(st *NotesState) { s.mergeMeta(st, updated) })
	return nil
}

// HeartbeatSelected は選択中のノートを操作中としてサーバーに記録する
// 失敗はログに残すだけ
func (s *NotesStore) HeartbeatSelected(ctx context.Context) {
	var id string
	s.view(func(st *NotesState) { id = st.SelectedID })
	if id == "" {
		return
	}
	if err := s.gateway.SetNoteActive(ctx, id); err != nil {
		s.logger.Error(err, "Heartbeat failed")
	}
}

// RunExpirySweep は期限切れスイープを実行し、一覧を取り直して整合させる
//
// スイープ開始以降に作成されたローカルのノートが取得結果に無い場合は、
// 作成との競合とみなして残す。
func (s *NotesStore) RunExpirySweep(ctx context.Context) error {
	sweepStartedAt := s.nowMs()

	if err := s.gateway.RunExpiry(ctx); err != nil {
		s.logger.Error(err, "Expiry sweep failed")
	}

	fetched, err := s.gateway.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notes after expiry sweep: %w", err)
	}

	s.update(func(st *NotesState) {
		fetchedIDs := listIDs(fetched)
		extraActive := racedCreations(st.List.Active, fetchedIDs, sweepStartedAt)
		extraTrashed := racedCreations(st.List.Trashed, fetchedIDs, sweepStartedAt)

		list := fetched
		if len(extraActive) > 0 || len(extraTrashed) > 0 {
			list = NotesList{
				Active:  sortActive(append(append([]NoteMeta(nil), fetched.Active...), extraActive...)),
				Trashed: sortTrashed(append(append([]NoteMeta(nil), fetched.Trashed...), extraTrashed...)),
			}
		}

		allowed := listIDs(list)
		st.List = list
		st.ContentByID = pruneByIDs(st.ContentByID, allowed)
		st.LastSavedContentByID = pruneByIDs(st.LastSavedContentByID, allowed)
		if _, ok := allowed[st.SelectedID]; !ok {
			st.SelectedID = ""
		}
		if st.SelectedID != "" {
			for _, n := range list.Trashed {
				if n.ID == st.SelectedID {
					st.ViewMode = ViewTrash
					break
				}
			}
		}
	})
	return nil
}

func racedCreations(notes []NoteMeta, fetchedIDs map[string]struct{}, since int64) []NoteMeta {
	var extra []NoteMeta
	for _, n := range notes {
		if _, ok := fetchedIDs[n.ID]; ok {
			continue
		}
		if n.CreatedAt >= since {
			extra = append(extra, n)
		}
	}
	return extra
}
