package backend

import "sort"

// ------------------------------------------------------------
// ノートリストの集合・順序ヘルパー
// いずれも入力スライスを書き換えず、新しいスライスを返す
// ------------------------------------------------------------

// upsertMeta はメタデータを isTrashed に対応する区分へ挿入または置換し、
// もう一方の区分からは取り除く
func upsertMeta(list NotesList, meta NoteMeta) NotesList {
	target, other := list.Active, list.Trashed
	if meta.IsTrashed {
		target, other = list.Trashed, list.Active
	}

	found := false
	nextTarget := make([]NoteMeta, 0, len(target)+1)
	for _, n := range target {
		if n.ID == meta.ID {
			nextTarget = append(nextTarget, meta)
			found = true
			continue
		}
		nextTarget = append(nextTarget, n)
	}
	if !found {
		nextTarget = append(nextTarget, meta)
	}
	nextOther := filterOut(other, meta.ID)

	if meta.IsTrashed {
		return NotesList{Active: nextOther, Trashed: nextTarget}
	}
	return NotesList{Active: nextTarget, Trashed: nextOther}
}

// removeMeta は両方の区分から指定IDを取り除く
func removeMeta(list NotesList, id string) NotesList {
	return NotesList{
		Active:  filterOut(list.Active, id),
		Trashed: filterOut(list.Trashed, id),
	}
}

// replaceOrAppendActive はアクティブ区分の同一IDを置換し、無ければ末尾に追加する
func replaceOrAppendActive(list NotesList, meta NoteMeta) NotesList {
	next := make([]NoteMeta, 0, len(list.Active)+1)
	replaced := false
	for _, n := range list.Active {
		if n.ID == meta.ID {
			next = append(next, meta)
			replaced = true
			continue
		}
		next = append(next, n)
	}
	if !replaced {
		next = append(next, meta)
	}
	return NotesList{Active: next, Trashed: list.Trashed}
}

func filterOut(notes []NoteMeta, id string) []NoteMeta {
	out := make([]NoteMeta, 0, len(notes))
	for _, n := range notes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// sortActive はピン留めを先頭にし、各グループ内は sortOrder 昇順に並べる
func sortActive(notes []NoteMeta) []NoteMeta {
	out := append([]NoteMeta(nil), notes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

// sortTrashed は trashedAt の降順（nil は0扱い）、同値なら sortOrder 昇順に並べる
func sortTrashed(notes []NoteMeta) []NoteMeta {
	out := append([]NoteMeta(nil), notes...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := trashedAtOrZero(out[i]), trashedAtOrZero(out[j])
		if a != b {
			return a > b
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

func trashedAtOrZero(n NoteMeta) int64 {
	if n.TrashedAt == nil {
		return 0
	}
	return *n.TrashedAt
}

// findMetaByID は両区分からノートを探す。空のIDは検索せずに見つからない扱い
func findMetaByID(list NotesList, id string) (NoteMeta, bool) {
	if id == "" {
		return NoteMeta{}, false
	}
	for _, n := range list.Active {
		if n.ID == id {
			return n, true
		}
	}
	for _, n := range list.Trashed {
		if n.ID == id {
			return n, true
		}
	}
	return NoteMeta{}, false
}

func findActiveByID(list NotesList, id string) (NoteMeta, bool) {
	for _, n := range list.Active {
		if n.ID == id {
			return n, true
		}
	}
	return NoteMeta{}, false
}

// bumpLastInteraction は該当ノートの lastInteraction を更新する。
// 変化が無い場合は同じリスト（同じスライス）をそのまま返すので、
// 呼び出し側は sameList で変更の有無を判定できる
func bumpLastInteraction(list NotesList, id string, now int64) NotesList {
	active, activeChanged := bumpIn(list.Active, id, now)
	trashed, trashedChanged := bumpIn(list.Trashed, id, now)
	if !activeChanged && !trashedChanged {
		return list
	}
	return NotesList{Active: active, Trashed: trashed}
}

func bumpIn(notes []NoteMeta, id string, now int64) ([]NoteMeta, bool) {
	for i, n := range notes {
		if n.ID != id {
			continue
		}
		if n.LastInteraction == now {
			return notes, false
		}
		out := append([]NoteMeta(nil), notes...)
		out[i].LastInteraction = now
		return out, true
	}
	return notes, false
}

// sameList は2つのリストが同じスライスを指しているかを返す
func sameList(a, b NotesList) bool {
	return sameSlice(a.Active, b.Active) && sameSlice(a.Trashed, b.Trashed)
}

func sameSlice(a, b []NoteMeta) bool {
	if len(a) != len(b) || cap(a) != cap(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

// sectionIDs は指定区分（ピン留め/通常）のアクティブノートIDを表示順で返す
func sectionIDs(list NotesList, section ReorderSection) []string {
	wantPinned := section == SectionPinned
	ids := make([]string, 0, len(list.Active))
	for _, n := range list.Active {
		if n.IsPinned == wantPinned {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// listIDs は両区分のID集合を返す
func listIDs(list NotesList) map[string]struct{} {
	ids := make(map[string]struct{}, len(list.Active)+len(list.Trashed))
	for _, n := range list.Active {
		ids[n.ID] = struct{}{}
	}
	for _, n := range list.Trashed {
		ids[n.ID] = struct{}{}
	}
	return ids
}

// pruneByIDs は ids に含まれるキーだけを残したコピーを返す
func pruneByIDs(m map[string]string, ids map[string]struct{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if _, ok := ids[k]; ok {
			out[k] = v
		}
	}
	return out
}

// applyReorder は指定区分を ids の順に並べ替え、もう一方の区分と結合する。
// 未知のIDは無視し、ids に含まれないノートは元の相対順で末尾に残す
func applyReorder(list NotesList, section ReorderSection, ids []string) NotesList {
	var pinned, unpinned []NoteMeta
	for _, n := range list.Active {
		if n.IsPinned {
			pinned = append(pinned, n)
		} else {
			unpinned = append(unpinned, n)
		}
	}

	target := unpinned
	if section == SectionPinned {
		target = pinned
	}

	byID := make(map[string]NoteMeta, len(target))
	for _, n := range target {
		byID[n.ID] = n
	}
	reordered := make([]NoteMeta, 0, len(target))
	seen := make(map[string]bool, len(target))
	for _, id := range ids {
		n, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		reordered = append(reordered, n)
		seen[id] = true
	}
	for _, n := range target {
		if !seen[n.ID] {
			reordered = append(reordered, n)
		}
	}

	if section == SectionPinned {
		pinned = reordered
	} else {
		unpinned = reordered
	}
	active := make([]NoteMeta, 0, len(list.Active))
	active = append(active, pinned...)
	active = append(active, unpinned...)
	return NotesList{Active: active, Trashed: list.Trashed}
}
