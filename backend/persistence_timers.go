package backend

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	defaultDraftSaveDelay = 500 * time.Millisecond
	appStateWriteDelay    = 250 * time.Millisecond

	appStateTimerKey = "app-state"
	draftTimerPrefix = "draft:"
)

// Scheduler はキーごとに1つだけ保留タスクを持つタイマーです
// 同じキーで Schedule すると前のタスクは取り消されます
type Scheduler interface {
	Schedule(key string, delay time.Duration, task func())
	Cancel(key string)
	Flush()
	Stop()
}

type pendingTask struct {
	timer *time.Timer
	task  func()
}

// timerScheduler は time.AfterFunc によるSchedulerの実装
type timerScheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingTask
	stopped bool
}

// NewTimerScheduler は新しいtimerSchedulerを作成します
func NewTimerScheduler() *timerScheduler {
	return &timerScheduler{pending: make(map[string]*pendingTask)}
}

func (s *timerScheduler) Schedule(key string, delay time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if p, exists := s.pending[key]; exists {
		p.timer.Stop()
	}

	p := &pendingTask{task: task}
	p.timer = time.AfterFunc(delay, func() {
		if s.take(key, p) {
			task()
		}
	})
	s.pending[key] = p
}

// take は p がまだ key の保留タスクなら取り出してtrueを返す
// 取り消し後や Flush 後に発火した古いタイマーはfalse
func (s *timerScheduler) take(key string, p *pendingTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] != p {
		return false
	}
	delete(s.pending, key)
	return true
}

func (s *timerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.pending[key]; exists {
		p.timer.Stop()
		delete(s.pending, key)
	}
}

// Flush は保留中のタスクを待たずに呼び出し元で実行する
func (s *timerScheduler) Flush() {
	s.mu.Lock()
	tasks := make([]func(), 0, len(s.pending))
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
		tasks = append(tasks, p.task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// Stop は保留中のタスクをすべて破棄し、以後のScheduleを無視する
func (s *timerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.stopped = true
}

// appStateSnapshot はapp_stateに書き出すUI状態
type appStateSnapshot struct {
	SidebarWidth int
	SelectedID   string
	ViewMode     ViewMode
}

// persistenceTimers は下書き自動保存とapp_state書き込みのデバウンスを担当する
type persistenceTimers struct {
	scheduler Scheduler
	appState  AppStateGateway
	logger    AppLogger
}

func newPersistenceTimers(scheduler Scheduler, appState AppStateGateway, logger AppLogger) *persistenceTimers {
	return &persistenceTimers{
		scheduler: scheduler,
		appState:  appState,
		logger:    logger,
	}
}

// scheduleDraftSave はノートごとの下書き保存タスクを予約する
// 連続した編集は最後の1回にまとめられる
func (t *persistenceTimers) scheduleDraftSave(id string, task func(), delay time.Duration) {
	if delay <= 0 {
		delay = defaultDraftSaveDelay
	}
	t.scheduler.Schedule(draftTimerPrefix+id, delay, task)
}

func (t *persistenceTimers) clearDraftSaveTimer(id string) {
	t.scheduler.Cancel(draftTimerPrefix + id)
}

// scheduleAppStateWrite はUI状態の書き込みを予約する
// snapshotFn は発火時に評価されるため、最新の状態が書き込まれる
func (t *persistenceTimers) scheduleAppStateWrite(snapshotFn func() appStateSnapshot) {
	t.scheduler.Schedule(appStateTimerKey, appStateWriteDelay, func() {
		t.writeAppState(context.Background(), snapshotFn())
	})
}

// writeAppState は順番に書き込み、失敗してもログに残すだけにする
func (t *persistenceTimers) writeAppState(ctx context.Context, s appStateSnapshot) {
	if err := t.appState.SetAppState(ctx, appStateSidebarWidth, strconv.Itoa(s.SidebarWidth)); err != nil {
		t.logger.Error(err, "App state write failed")
		return
	}
	if s.SelectedID != "" {
		if err := t.appState.SetAppState(ctx, appStateSelectedNoteID, s.SelectedID); err != nil {
			t.logger.Error(err, "App state write failed")
			return
		}
	}
	if err := t.appState.SetAppState(ctx, appStateViewMode, string(s.ViewMode)); err != nil {
		t.logger.Error(err, "App state write failed")
	}
}
