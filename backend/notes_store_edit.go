package backend

import (
	"context"
	"fmt"
)

// ------------------------------------------------------------
// 作成・編集・保存
// ------------------------------------------------------------

// CreateNote は空の下書きを作成して選択し、エディタにフォーカスを要求する
func (s *NotesStore) CreateNote(ctx context.Context) error {
	meta, err := s.gateway.CreateNote(ctx)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	s.update(func(st *NotesState) {
		st.List = replaceOrAppendActive(st.List, meta)
		st.SelectedID = meta.ID
		st.ViewMode = ViewNotes
		st.ContentByID[meta.ID] = ""
		st.LastSavedContentByID[meta.ID] = ""
	})
	s.scheduleAppStateWrite()

	if err := s.gateway.SetNoteActive(ctx, meta.ID); err != nil {
		return fmt.Errorf("failed to mark note %s active: %w", meta.ID, err)
	}

	s.requestEditorFocus()
	return nil
}

// UpdateContent はエディタの入力を反映する
//
// 保存済みノートでベースラインが未確立の場合は、変更前の本文をベースラインにしてから
// 更新する。これで開いた直後の最初の編集も未保存として扱われる。
// 下書きは自動保存を予約する。
func (s *NotesStore) UpdateContent(id, content string) {
	scheduleDraft := false
	s.mutate(func(st *NotesState) bool {
		prev, cached := st.ContentByID[id]
		if cached && prev == content {
			return false
		}
		meta, ok := findMetaByID(st.List, id)
		if !ok {
			return false
		}

		if meta.Storage == StorageSaved && !meta.IsTrashed {
			if _, established := st.LastSavedContentByID[id]; !established {
				st.LastSavedContentByID[id] = prev
			}
		}
		st.ContentByID[id] = content
		scheduleDraft = meta.Storage == StorageDraft && !meta.IsTrashed
		return true
	})

	if scheduleDraft {
		s.timers.scheduleDraftSave(id, func() {
			s.autosaveDraft(context.Background(), id, content)
		}, s.draftSaveDelay)
	}
}

// autosaveDraft は下書きを書き込み、サーバーで再計算されたタイトル等を反映する
func (s *NotesStore) autosaveDraft(ctx context.Context, id, content string) {
	updated, err := s.gateway.WriteDraft(ctx, id, content)
	if err != nil {
		s.logger.Error(err, "Draft auto-save failed for %s", id)
		return
	}
	s.update(func(st *NotesState) { s.mergeMeta(st, updated) })
}

// Save は保存済みノートを上書き保存する
func (s *NotesStore) Save(ctx context.Context, id string) error {
	var (
		content string
		found   bool
	)
	s.view(func(st *NotesState) {
		_, found = findActiveByID(st.List, id)
		content = st.ContentByID[id]
	})
	if !found {
		return nil
	}

	updated, err := s.gateway.SaveNote(ctx, id, content)
	if err != nil {
		return fmt.Errorf("failed to save note %s: %w", id, err)
	}
	s.update(func(st *NotesState) {
		s.mergeMeta(st, updated)
		st.LastSavedContentByID[id] = content
	})
	return nil
}

// SaveAs はノートを指定パスに保存し、保存済みノートに切り替える
// 下書きからの変換中に自動保存が走らないよう、先にタイマーを止める
func (s *NotesStore) SaveAs(ctx context.Context, id, path string) error {
	s.timers.clearDraftSaveTimer(id)

	var content string
	s.view(func(st *NotesState) { content = st.ContentByID[id] })

	updated, err := s.gateway.SaveNoteAs(ctx, id, path, content)
	if err != nil {
		return fmt.Errorf("failed to save note %s as %s: %w", id, path, err)
	}
	s.update(func(st *NotesState) {
		s.mergeMeta(st, updated)
		st.LastSavedContentByID[id] = content
	})
	return nil
}

// SaveAllDirty は未保存変更のあるノートを順番に保存する
// 途中で失敗した場合は、それまでに保存できた分だけ反映してエラーを返す
func (s *NotesStore) SaveAllDirty(ctx context.Context) error {
	type pending struct {
		id      string
		content string
	}
	var targets []pending
	s.view(func(st *NotesState) {
		for _, id := range DirtySavedIDs(st) {
			targets = append(targets, pending{id: id, content: st.ContentByID[id]})
		}
	})
	if len(targets) == 0 {
		return nil
	}

	type saved struct {
		meta    NoteMeta
		content string
	}
	var results []saved
	var saveErr error
	for _, target := range targets {
		updated, err := s.gateway.SaveNote(ctx, target.id, target.content)
		if err != nil {
			saveErr = fmt.Errorf("failed to save note %s: %w", target.id, err)
			break
		}
		results = append(results, saved{meta: updated, content: target.content})
	}

	if len(results) > 0 {
		s.update(func(st *NotesState) {
			for _, r := range results {
				s.mergeMeta(st, r.meta)
				st.LastSavedContentByID[r.meta.ID] = r.content
			}
		})
	}
	s.logger.Console("Saved %d of %d dirty notes", len(results), len(targets))
	return saveErr
}

// ImportFile はファイルを保存済みノートとして取り込み、選択する
func (s *NotesStore) ImportFile(ctx context.Context, path string) error {
	note, err := s.gateway.ImportFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", path, err)
	}

	id := note.Meta.ID
	s.update(func(st *NotesState) {
		s.mergeMeta(st, note.Meta)
		st.SelectedID = id
		st.ViewMode = ViewNotes
		st.ContentByID[id] = note.Content
		st.LastSavedContentByID[id] = note.Content
	})
	s.scheduleAppStateWrite()

	if err := s.gateway.SetNoteActive(ctx, id); err != nil {
		return fmt.Errorf("failed to mark note %s active: %w", id, err)
	}
	return nil
}
