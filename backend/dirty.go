package backend

// ------------------------------------------------------------
// 保存済みノートの未保存変更（dirty）判定
// 読み取り専用。ベースラインの確立はNotesStoreが行う
// ------------------------------------------------------------

// IsNoteDirty は保存済み・非ゴミ箱のノートで、ベースラインが確立しており、
// キャッシュ中の本文がベースラインと異なる場合にtrueを返す
func IsNoteDirty(state *NotesState, id string) bool {
	meta, ok := findActiveByID(state.List, id)
	if !ok {
		return false
	}
	return isDirtyMeta(state, meta)
}

func isDirtyMeta(state *NotesState, meta NoteMeta) bool {
	if meta.Storage != StorageSaved || meta.IsTrashed {
		return false
	}
	saved, ok := state.LastSavedContentByID[meta.ID]
	if !ok {
		return false
	}
	return state.ContentByID[meta.ID] != saved
}

// DirtySavedIDs は未保存変更のあるノートIDをアクティブ区分の順で返す
func DirtySavedIDs(state *NotesState) []string {
	ids := []string{}
	for _, meta := range state.List.Active {
		if isDirtyMeta(state, meta) {
			ids = append(ids, meta.ID)
		}
	}
	return ids
}

func DirtySavedMap(state *NotesState) map[string]bool {
	dirty := make(map[string]bool)
	for _, id := range DirtySavedIDs(state) {
		dirty[id] = true
	}
	return dirty
}

func DirtySavedCount(state *NotesState) int {
	return len(DirtySavedIDs(state))
}
