package backend

import (
	"context"
	"fmt"
)

// ------------------------------------------------------------
// 手動並び替えとアンドゥ/リドゥ
// ------------------------------------------------------------

// Reorder は区分内の並び順を ids の順に変更する
// 変更前の並びを履歴に積み、楽観的に反映してから保存し、一覧を取り直す
func (s *NotesStore) Reorder(ctx context.Context, section ReorderSection, ids []string) error {
	var prev []string
	s.view(func(st *NotesState) { prev = sectionIDs(st.List, section) })
	s.history.pushUndo(section, prev)
	return s.applyAndPersistReorder(ctx, section, ids)
}

// UndoReorder は直前の並び替えを取り消す。履歴が無ければ何もしない
func (s *NotesStore) UndoReorder(ctx context.Context) error {
	entry, ok := s.history.popUndo()
	if !ok {
		return nil
	}

	var current []string
	s.view(func(st *NotesState) { current = sectionIDs(st.List, entry.Section) })
	s.history.pushRedo(entry.Section, current)
	return s.applyAndPersistReorder(ctx, entry.Section, entry.IDs)
}

// RedoReorder は取り消した並び替えをやり直す。履歴が無ければ何もしない
func (s *NotesStore) RedoReorder(ctx context.Context) error {
	entry, ok := s.history.popRedo()
	if !ok {
		return nil
	}

	var current []string
	s.view(func(st *NotesState) { current = sectionIDs(st.List, entry.Section) })
	s.history.pushUndoFromRedo(entry.Section, current)
	return s.applyAndPersistReorder(ctx, entry.Section, entry.IDs)
}

// applyAndPersistReorder は並び替えをローカルに反映し、区分全体の並びを保存する
// ids に含まれなかったノートも末尾に並ぶので、保存するのは反映後の区分の並び
func (s *NotesStore) applyAndPersistReorder(ctx context.Context, section ReorderSection, ids []string) error {
	var ordered []string
	s.update(func(st *NotesState) {
		st.List = applyReorder(st.List, section, ids)
		ordered = sectionIDs(st.List, section)
	})

	if err := s.gateway.ReorderNotes(ctx, ordered); err != nil {
		return fmt.Errorf("failed to reorder notes: %w", err)
	}
	return s.Refresh(ctx)
}

// ReorderHistorySizes はアンドゥ/リドゥ履歴の件数を返す（メニューの有効/無効表示用）
func (s *NotesStore) ReorderHistorySizes() (undo, redo int) {
	return s.history.sizes()
}
