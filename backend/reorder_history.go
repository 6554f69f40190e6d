package backend

import "sync"

const maxReorderHistory = 20

// reorderEntry は手動並び替え直前の区分の並び順
type reorderEntry struct {
	Section ReorderSection
	IDs     []string
}

// reorderHistory は並び替えのアンドゥ/リドゥ履歴を管理する
// 各スタックは maxReorderHistory 件を超えると古いものから捨てる
type reorderHistory struct {
	mu   sync.Mutex
	undo []reorderEntry
	redo []reorderEntry
}

func newReorderHistory() *reorderHistory {
	return &reorderHistory{}
}

// pushUndo は新しい並び替えの履歴を積む。新しい分岐になるのでリドゥは破棄する
func (h *reorderHistory) pushUndo(section ReorderSection, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = pushTrimmed(h.undo, reorderEntry{Section: section, IDs: ids})
	h.redo = nil
}

func (h *reorderHistory) popUndo() (reorderEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var entry reorderEntry
	var ok bool
	h.undo, entry, ok = pop(h.undo)
	return entry, ok
}

// pushRedo はアンドゥ実行直前の並び順を積む
func (h *reorderHistory) pushRedo(section ReorderSection, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo = pushTrimmed(h.redo, reorderEntry{Section: section, IDs: ids})
}

func (h *reorderHistory) popRedo() (reorderEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var entry reorderEntry
	var ok bool
	h.redo, entry, ok = pop(h.redo)
	return entry, ok
}

// pushUndoFromRedo はリドゥ実行直前の並び順を積む。リドゥ履歴には触れない
func (h *reorderHistory) pushUndoFromRedo(section ReorderSection, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = pushTrimmed(h.undo, reorderEntry{Section: section, IDs: ids})
}

func (h *reorderHistory) sizes() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}

func pushTrimmed(stack []reorderEntry, entry reorderEntry) []reorderEntry {
	entry.IDs = append([]string(nil), entry.IDs...)
	stack = append(stack, entry)
	if len(stack) > maxReorderHistory {
		stack = append([]reorderEntry(nil), stack[len(stack)-maxReorderHistory:]...)
	}
	return stack
}

func pop(stack []reorderEntry) ([]reorderEntry, reorderEntry, bool) {
	if len(stack) == 0 {
		return stack, reorderEntry{}, false
	}
	last := stack[len(stack)-1]
	return stack[:len(stack)-1], last, true
}
