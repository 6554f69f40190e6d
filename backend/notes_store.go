package backend

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// NotesStore はクライアント側のノート状態を保持し、ライフサイクルの遷移を担当する
//
// 状態の変更はすべて mu の下で同期的に行い、永続化層の呼び出し中は
// ロックを保持しない。変更のたびに購読者へスナップショットを通知する。
type NotesStore struct {
	gateway        Gateway
	logger         AppLogger
	scheduler      Scheduler
	timers         *persistenceTimers
	history        *reorderHistory
	now            func() time.Time
	draftSaveDelay time.Duration

	mu      sync.Mutex
	state   NotesState
	deleted map[string]struct{} // 完全削除したID。遅れて届いたレスポンスで復活させない

	listenersMu    sync.Mutex
	nextListenerID int
	listeners      []stateListener
	focusListeners []focusListener
}

type stateListener struct {
	id int
	fn func(NotesState)
}

type focusListener struct {
	id int
	fn func()
}

// StoreOption はNotesStoreの生成オプション
type StoreOption func(*NotesStore)

// WithScheduler はタイマーの実装を差し替える（テスト用）
func WithScheduler(scheduler Scheduler) StoreOption {
	return func(s *NotesStore) { s.scheduler = scheduler }
}

// WithClock は現在時刻の取得関数を差し替える
func WithClock(now func() time.Time) StoreOption {
	return func(s *NotesStore) { s.now = now }
}

// WithDraftSaveDelay は下書き自動保存のデバウンス時間を変更する
func WithDraftSaveDelay(delay time.Duration) StoreOption {
	return func(s *NotesStore) { s.draftSaveDelay = delay }
}

// NewNotesStore は新しいNotesStoreを作成します
func NewNotesStore(gateway Gateway, logger AppLogger, opts ...StoreOption) *NotesStore {
	s := &NotesStore{
		gateway:        gateway,
		logger:         logger,
		history:        newReorderHistory(),
		now:            time.Now,
		draftSaveDelay: defaultDraftSaveDelay,
		state:          newNotesState(),
		deleted:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = NewTimerScheduler()
	}
	s.timers = newPersistenceTimers(s.scheduler, gateway, logger)
	return s
}

// Close は保留中の下書き保存とUI状態の書き込みを済ませてから、タイマーを止める
func (s *NotesStore) Close() {
	s.scheduler.Flush()
	s.scheduler.Stop()
}

// ------------------------------------------------------------
// 購読
// ------------------------------------------------------------

// Subscribe は状態変更の通知を受け取る関数を登録し、解除関数を返す
func (s *NotesStore) Subscribe(fn func(NotesState)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListenerID++
	id := s.nextListenerID
	s.listeners = append(s.listeners, stateListener{id: id, fn: fn})
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnFocusEditor はノート作成後のエディタフォーカス要求を受け取る関数を登録する
func (s *NotesStore) OnFocusEditor(fn func()) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListenerID++
	id := s.nextListenerID
	s.focusListeners = append(s.focusListeners, focusListener{id: id, fn: fn})
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, l := range s.focusListeners {
			if l.id == id {
				s.focusListeners = append(s.focusListeners[:i:i], s.focusListeners[i+1:]...)
				return
			}
		}
	}
}

func (s *NotesStore) emit(snapshot NotesState) {
	s.listenersMu.Lock()
	listeners := append([]stateListener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l.fn(snapshot)
	}
}

func (s *NotesStore) requestEditorFocus() {
	s.listenersMu.Lock()
	listeners := append([]focusListener(nil), s.focusListeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l.fn()
	}
}

// ------------------------------------------------------------
// 状態アクセス
// ------------------------------------------------------------

// State は現在の状態のコピーを返す
func (s *NotesStore) State() NotesState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// view はロックを取って状態を読む
func (s *NotesStore) view(fn func(st *NotesState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// update は状態を変更し、購読者に通知する
func (s *NotesStore) update(fn func(st *NotesState)) {
	s.mutate(func(st *NotesState) bool {
		fn(st)
		return true
	})
}

// mutate は fn がtrueを返した場合のみ購読者に通知する
func (s *NotesStore) mutate(fn func(st *NotesState) bool) bool {
	s.mu.Lock()
	changed := fn(&s.state)
	var snapshot NotesState
	if changed {
		snapshot = s.state.clone()
	}
	s.mu.Unlock()

	if changed {
		s.emit(snapshot)
	}
	return changed
}

// mergeMeta はサーバーから返ったメタデータをリストに反映する。ロック保持中に呼ぶこと
func (s *NotesStore) mergeMeta(st *NotesState, meta NoteMeta) {
	if _, gone := s.deleted[meta.ID]; gone {
		s.logger.Console("Ignoring stale metadata for deleted note %s", meta.ID)
		return
	}
	st.List = upsertMeta(st.List, meta)
}

func (s *NotesStore) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *NotesStore) appStateSnapshot() appStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appStateSnapshot{
		SidebarWidth: s.state.SidebarWidth,
		SelectedID:   s.state.SelectedID,
		ViewMode:     s.state.ViewMode,
	}
}

func (s *NotesStore) scheduleAppStateWrite() {
	s.timers.scheduleAppStateWrite(s.appStateSnapshot)
}

// ------------------------------------------------------------
// 初期化と一覧
// ------------------------------------------------------------

// Init は期限切れスイープの後に一覧とUI状態を読み込み、前回選択していたノートを開く
func (s *NotesStore) Init(ctx context.Context) error {
	s.update(func(st *NotesState) { st.Loading = true })

	// 起動時のスイープは失敗しても続行する
	if err := s.gateway.RunExpiry(ctx); err != nil {
		s.logger.Error(err, "Expiry sweep failed during init")
	}

	var (
		list     NotesList
		appState map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = s.gateway.ListNotes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		appState, err = s.gateway.GetAppState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.update(func(st *NotesState) { st.Loading = false })
		return fmt.Errorf("failed to load notes: %w", err)
	}

	var selected string
	s.update(func(st *NotesState) {
		st.List = list
		if raw, ok := appState[appStateSidebarWidth]; ok {
			if width, err := strconv.ParseFloat(raw, 64); err == nil {
				st.SidebarWidth = clampSidebarWidth(int(width))
			}
		}
		if mode := ViewMode(appState[appStateViewMode]); mode == ViewNotes || mode == ViewTrash {
			st.ViewMode = mode
		}
		st.SelectedID = appState[appStateSelectedNoteID]
		if _, ok := findMetaByID(st.List, st.SelectedID); !ok {
			st.SelectedID = ""
		}
		st.Loading = false
		selected = st.SelectedID
	})

	s.logger.Console("Notes loaded: %d active, %d trashed", len(list.Active), len(list.Trashed))

	if selected != "" {
		return s.Select(ctx, selected)
	}
	return nil
}

// Refresh は一覧のみを取り直す。選択・本文・dirty状態には触れない
func (s *NotesStore) Refresh(ctx context.Context) error {
	list, err := s.gateway.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}
	s.update(func(st *NotesState) { st.List = list })
	return nil
}

// ------------------------------------------------------------
// 選択とUI状態
// ------------------------------------------------------------

// Select はノートを選択する
// 直前の選択と新しい選択の最終操作日時を更新し、本文が未取得なら読み込む。
// 同じノートの再選択も新しい操作として扱う
func (s *NotesStore) Select(ctx context.Context, id string) error {
	now := s.nowMs()
	var (
		prevID   string
		bumpPrev bool
		bumpNext bool
	)
	s.update(func(st *NotesState) {
		prevID = st.SelectedID
		prevMeta, prevOK := findMetaByID(st.List, prevID)
		nextMeta, nextOK := findMetaByID(st.List, id)
		bumpPrev = prevID != "" && prevID != id && prevOK && !prevMeta.IsTrashed
		bumpNext = nextOK && !nextMeta.IsTrashed

		list := st.List
		if bumpPrev {
			list = bumpLastInteraction(list, prevID, now)
		}
		if bumpNext {
			list = bumpLastInteraction(list, id, now)
		}
		if !sameList(list, st.List) {
			st.List = list
		}
		st.SelectedID = id
		if nextOK && nextMeta.IsTrashed {
			st.ViewMode = ViewTrash
		}
	})
	s.scheduleAppStateWrite()

	if bumpPrev {
		if err := s.gateway.SetNoteActive(ctx, prevID); err != nil {
			return fmt.Errorf("failed to mark note %s active: %w", prevID, err)
		}
	}
	if bumpNext {
		if err := s.gateway.SetNoteActive(ctx, id); err != nil {
			return fmt.Errorf("failed to mark note %s active: %w", id, err)
		}
	}

	cached := false
	s.view(func(st *NotesState) { _, cached = st.ContentByID[id] })
	if cached {
		return nil
	}

	note, err := s.gateway.GetNote(ctx, id)
	if err != nil {
		// 一覧に無いIDは選択したままにしない
		reverted := s.mutate(func(st *NotesState) bool {
			if st.SelectedID != id {
				return false
			}
			if _, ok := findMetaByID(st.List, id); ok {
				return false
			}
			st.SelectedID = ""
			if _, ok := findMetaByID(st.List, prevID); ok {
				st.SelectedID = prevID
			}
			return true
		})
		if reverted {
			s.scheduleAppStateWrite()
		}
		return fmt.Errorf("failed to load note %s: %w", id, err)
	}
	s.update(func(st *NotesState) {
		if _, gone := s.deleted[id]; gone {
			return
		}
		s.mergeMeta(st, note.Meta)
		st.ContentByID[id] = note.Content
		st.LastSavedContentByID[id] = note.Content
		if note.Meta.IsTrashed && st.ViewMode != ViewTrash {
			st.ViewMode = ViewTrash
		}
	})
	return nil
}

// SetViewMode はサイドバーの表示区分を切り替える
func (s *NotesStore) SetViewMode(mode ViewMode) {
	if mode != ViewNotes && mode != ViewTrash {
		s.logger.Console("Ignoring unknown view mode %q", mode)
		return
	}
	s.update(func(st *NotesState) { st.ViewMode = mode })
	s.scheduleAppStateWrite()
}

// SetSidebarWidth はサイドバー幅を [MinSidebarWidth, MaxSidebarWidth] に収めて設定する
func (s *NotesStore) SetSidebarWidth(width int) {
	clamped := clampSidebarWidth(width)
	s.update(func(st *NotesState) { st.SidebarWidth = clamped })
	s.scheduleAppStateWrite()
}
