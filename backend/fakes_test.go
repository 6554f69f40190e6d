package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// ------------------------------------------------------------
// テスト用の時計
// ------------------------------------------------------------

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Ms() int64 {
	return c.Now().UnixMilli()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ------------------------------------------------------------
// 手動で発火させるScheduler
// ------------------------------------------------------------

type manualTask struct {
	delay time.Duration
	task  func()
}

type manualScheduler struct {
	mu      sync.Mutex
	tasks   map[string]manualTask
	stopped bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]manualTask)}
}

func (s *manualScheduler) Schedule(key string, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.tasks[key] = manualTask{delay: delay, task: task}
}

func (s *manualScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
}

func (s *manualScheduler) Flush() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	for _, key := range keys {
		s.Fire(key)
	}
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]manualTask)
	s.stopped = true
}

// Fire は key のタスクを取り出して実行する。無ければfalse
func (s *manualScheduler) Fire(key string) bool {
	s.mu.Lock()
	t, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if ok {
		t.task()
	}
	return ok
}

// Pending は key のタスクが予約されていれば遅延時間を返す
func (s *manualScheduler) Pending(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	return t.delay, ok
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ------------------------------------------------------------
// メモリ上のGateway
// ------------------------------------------------------------

type fakeCall struct {
	Method string
	Args   []string
}

// fakeGateway は永続化層のインメモリ実装
// ピン留め上限と保存方式の検査は本物と同じく行い、呼び出しを記録する
type fakeGateway struct {
	mu       sync.Mutex
	clock    *testClock
	notes    map[string]NoteMeta
	content  map[string]string
	files    map[string]string
	appState map[string]string
	settings Settings
	nextID   int
	calls    []fakeCall
	failOn   map[string]error

	// ListNotes の直前に呼ばれる（作成との競合の再現用）
	beforeList func(g *fakeGateway)
}

func newFakeGateway(clock *testClock) *fakeGateway {
	return &fakeGateway{
		clock:    clock,
		notes:    make(map[string]NoteMeta),
		content:  make(map[string]string),
		files:    make(map[string]string),
		appState: make(map[string]string),
		settings: defaultSettings(),
		failOn:   make(map[string]error),
	}
}

var _ Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) record(method string, args ...string) error {
	g.calls = append(g.calls, fakeCall{Method: method, Args: args})
	if err := g.failOn[method]; err != nil {
		return err
	}
	if len(args) > 0 {
		return g.failOn[method+":"+args[0]]
	}
	return nil
}

// Fail は method の呼び出しを err で失敗させる。nil で解除
// "SaveNote:id" のように書くと最初の引数が一致した場合だけ失敗する
func (g *fakeGateway) Fail(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failOn, method)
		return
	}
	g.failOn[method] = err
}

// Calls は method の呼び出し引数を順に返す
func (g *fakeGateway) Calls(method string) [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out [][]string
	for _, c := range g.calls {
		if c.Method == method {
			out = append(out, c.Args)
		}
	}
	return out
}

func (g *fakeGateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// seed はノートを直接登録する
func (g *fakeGateway) seed(meta NoteMeta, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes[meta.ID] = meta
	g.content[meta.ID] = content
}

func (g *fakeGateway) get(id string) (NoteMeta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.notes[id]
	return n, ok
}

func (g *fakeGateway) lookup(id string) (NoteMeta, error) {
	n, ok := g.notes[id]
	if !ok {
		return NoteMeta{}, fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	return n, nil
}

func (g *fakeGateway) listLocked() NotesList {
	list := NotesList{Active: []NoteMeta{}, Trashed: []NoteMeta{}}
	for _, n := range g.notes {
		if n.IsTrashed {
			list.Trashed = append(list.Trashed, n)
		} else {
			list.Active = append(list.Active, n)
		}
	}
	sort.Slice(list.Active, func(i, j int) bool { return list.Active[i].ID < list.Active[j].ID })
	sort.Slice(list.Trashed, func(i, j int) bool { return list.Trashed[i].ID < list.Trashed[j].ID })
	list.Active = sortActive(list.Active)
	list.Trashed = sortTrashed(list.Trashed)
	return list
}

func (g *fakeGateway) maxSortOrder(pinned bool) int64 {
	var m int64
	for _, n := range g.notes {
		if !n.IsTrashed && n.IsPinned == pinned && n.SortOrder > m {
			m = n.SortOrder
		}
	}
	return m
}

func (g *fakeGateway) ListNotes(ctx context.Context) (NotesList, error) {
	if g.beforeList != nil {
		g.beforeList(g)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("ListNotes"); err != nil {
		return NotesList{}, err
	}
	return g.listLocked(), nil
}

func (g *fakeGateway) CreateNote(ctx context.Context) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("CreateNote"); err != nil {
		return NoteMeta{}, err
	}
	g.nextID++
	now := g.clock.Ms()
	meta := NoteMeta{
		ID:              fmt.Sprintf("new-%d", g.nextID),
		Title:           defaultNoteTitle,
		FilePath:        fmt.Sprintf("/drafts/new-%d.md", g.nextID),
		Storage:         StorageDraft,
		SortOrder:       g.maxSortOrder(false) + 1,
		CreatedAt:       now,
		LastInteraction: now,
	}
	g.notes[meta.ID] = meta
	g.content[meta.ID] = ""
	return meta, nil
}

func (g *fakeGateway) GetNote(ctx context.Context, id string) (NoteWithContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("GetNote", id); err != nil {
		return NoteWithContent{}, err
	}
	meta, err := g.lookup(id)
	if err != nil {
		return NoteWithContent{}, err
	}
	return NoteWithContent{Meta: meta, Content: g.content[id]}, nil
}

func (g *fakeGateway) SetNoteActive(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SetNoteActive", id); err != nil {
		return err
	}
	if n, ok := g.notes[id]; ok {
		n.LastInteraction = g.clock.Ms()
		g.notes[id] = n
	}
	return nil
}

func (g *fakeGateway) updateContent(id, content string) NoteMeta {
	n := g.notes[id]
	n.Title, n.Preview = deriveTitlePreview(content)
	n.LastInteraction = g.clock.Ms()
	g.notes[id] = n
	g.content[id] = content
	return n
}

func (g *fakeGateway) WriteDraft(ctx context.Context, id, content string) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("WriteDraft", id, content); err != nil {
		return NoteMeta{}, err
	}
	meta, err := g.lookup(id)
	if err != nil {
		return NoteMeta{}, err
	}
	if meta.Storage != StorageDraft {
		return NoteMeta{}, ErrNotDraft
	}
	return g.updateContent(id, content), nil
}

func (g *fakeGateway) SaveNote(ctx context.Context, id, content string) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SaveNote", id, content); err != nil {
		return NoteMeta{}, err
	}
	meta, err := g.lookup(id)
	if err != nil {
		return NoteMeta{}, err
	}
	if meta.Storage != StorageSaved {
		return NoteMeta{}, ErrNotSaved
	}
	g.files[meta.FilePath] = content
	return g.updateContent(id, content), nil
}

func (g *fakeGateway) SaveNoteAs(ctx context.Context, id, path, content string) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SaveNoteAs", id, path, content); err != nil {
		return NoteMeta{}, err
	}
	meta, err := g.lookup(id)
	if err != nil {
		return NoteMeta{}, err
	}
	meta.Storage = StorageSaved
	meta.FilePath = path
	g.notes[id] = meta
	g.files[path] = content
	return g.updateContent(id, content), nil
}

func (g *fakeGateway) ImportFile(ctx context.Context, path string) (NoteWithContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("ImportFile", path); err != nil {
		return NoteWithContent{}, err
	}
	content, ok := g.files[path]
	if !ok {
		return NoteWithContent{}, fmt.Errorf("read failed: %s", path)
	}
	for id, n := range g.notes {
		if n.FilePath == path {
			n.IsTrashed = false
			n.TrashedAt = nil
			g.notes[id] = n
			return NoteWithContent{Meta: g.updateContent(id, content), Content: content}, nil
		}
	}
	g.nextID++
	now := g.clock.Ms()
	meta := NoteMeta{
		ID:              fmt.Sprintf("imported-%d", g.nextID),
		FilePath:        path,
		Storage:         StorageSaved,
		SortOrder:       g.maxSortOrder(false) + 1,
		CreatedAt:       now,
		LastInteraction: now,
	}
	meta.Title, meta.Preview = deriveTitlePreview(content)
	g.notes[meta.ID] = meta
	g.content[meta.ID] = content
	return NoteWithContent{Meta: meta, Content: content}, nil
}

func (g *fakeGateway) trashLocked(id string) NoteMeta {
	n := g.notes[id]
	if n.IsTrashed {
		return n
	}
	at := g.clock.Ms()
	n.IsTrashed = true
	n.IsPinned = false
	n.TrashedAt = &at
	g.notes[id] = n
	return n
}

func (g *fakeGateway) TrashNote(ctx context.Context, id string) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("TrashNote", id); err != nil {
		return NoteMeta{}, err
	}
	if _, err := g.lookup(id); err != nil {
		return NoteMeta{}, err
	}
	return g.trashLocked(id), nil
}

func (g *fakeGateway) RestoreNote(ctx context.Context, id string) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("RestoreNote", id); err != nil {
		return NoteMeta{}, err
	}
	n, err := g.lookup(id)
	if err != nil {
		return NoteMeta{}, err
	}
	n.IsTrashed = false
	n.TrashedAt = nil
	g.notes[id] = n
	return n, nil
}

func (g *fakeGateway) DeleteNoteForever(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("DeleteNoteForever", id); err != nil {
		return err
	}
	if _, err := g.lookup(id); err != nil {
		return err
	}
	delete(g.notes, id)
	delete(g.content, id)
	return nil
}

func (g *fakeGateway) SetPinned(ctx context.Context, id string, pinned bool) (NoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SetPinned", id, fmt.Sprint(pinned)); err != nil {
		return NoteMeta{}, err
	}
	n, err := g.lookup(id)
	if err != nil {
		return NoteMeta{}, err
	}
	if n.IsPinned == pinned {
		return n, nil
	}
	if pinned {
		count := 0
		for _, other := range g.notes {
			if other.IsPinned && !other.IsTrashed {
				count++
			}
		}
		if count >= MaxPinnedNotes {
			return NoteMeta{}, ErrPinLimitReached
		}
		n.SortOrder = g.maxSortOrder(true) + 1
	} else {
		n.SortOrder = g.maxSortOrder(false) + 1
		n.LastInteraction = g.clock.Ms()
	}
	n.IsPinned = pinned
	g.notes[id] = n
	return n, nil
}

func (g *fakeGateway) ReorderNotes(ctx context.Context, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("ReorderNotes", ids...); err != nil {
		return err
	}
	for idx, id := range ids {
		if n, ok := g.notes[id]; ok && !n.IsTrashed {
			n.SortOrder = int64(idx)
			g.notes[id] = n
		}
	}
	return nil
}

func (g *fakeGateway) GetAppState(ctx context.Context) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("GetAppState"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(g.appState))
	for k, v := range g.appState {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGateway) SetAppState(ctx context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SetAppState", key, value); err != nil {
		return err
	}
	g.appState[key] = value
	return nil
}

func (g *fakeGateway) GetSettings(ctx context.Context) (Settings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("GetSettings"); err != nil {
		return Settings{}, err
	}
	return g.settings, nil
}

func (g *fakeGateway) SetSetting(ctx context.Context, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("SetSetting", key, value); err != nil {
		return err
	}
	switch key {
	case settingTheme:
		g.settings.Theme = value
	case settingExpiryMinutes:
		fmt.Sscan(value, &g.settings.ExpiryMinutes)
	case settingTrashRetentionDays:
		fmt.Sscan(value, &g.settings.TrashRetentionDays)
	}
	return nil
}

func (g *fakeGateway) RunExpiry(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record("RunExpiry"); err != nil {
		return err
	}
	cutoff := g.clock.Ms() - g.settings.ExpiryMinutes*minuteMs
	for id, n := range g.notes {
		if !n.IsTrashed && !n.IsPinned && n.LastInteraction <= cutoff {
			g.trashLocked(id)
		}
	}
	return nil
}

// ------------------------------------------------------------
// ストアのセットアップ
// ------------------------------------------------------------

type storeFixture struct {
	store     *NotesStore
	gateway   *fakeGateway
	scheduler *manualScheduler
	clock     *testClock
	emits     *int
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	clock := newTestClock()
	gateway := newFakeGateway(clock)
	scheduler := newManualScheduler()
	logger := NewAppLogger(context.Background(), true, t.TempDir())
	store := NewNotesStore(gateway, logger, WithScheduler(scheduler), WithClock(clock.Now))

	emits := 0
	store.Subscribe(func(NotesState) { emits++ })
	t.Cleanup(store.Close)

	return &storeFixture{store: store, gateway: gateway, scheduler: scheduler, clock: clock, emits: &emits}
}

// seedNote はテスト用ノートを作る。idの接頭辞で種類を決める
//   - "p" で始まるとピン留め
//   - "s" で始まると保存済み
func seedMeta(id string, sortOrder int64, lastInteraction int64) NoteMeta {
	meta := NoteMeta{
		ID:              id,
		Title:           id,
		FilePath:        "/drafts/" + id + ".md",
		Storage:         StorageDraft,
		SortOrder:       sortOrder,
		CreatedAt:       lastInteraction,
		LastInteraction: lastInteraction,
	}
	if strings.HasPrefix(id, "p") {
		meta.IsPinned = true
	}
	if strings.HasPrefix(id, "s") {
		meta.Storage = StorageSaved
		meta.FilePath = "/notes/" + id + ".md"
	}
	return meta
}

func activeIDs(st NotesState) []string {
	ids := []string{}
	for _, n := range st.List.Active {
		ids = append(ids, n.ID)
	}
	return ids
}

func trashedIDs(st NotesState) []string {
	ids := []string{}
	for _, n := range st.List.Trashed {
		ids = append(ids, n.ID)
	}
	return ids
}
