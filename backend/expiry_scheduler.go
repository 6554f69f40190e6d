package backend

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bep/debounce"
)

const (
	expiryTimerKey           = "expiry-sweep"
	expiryRecomputeDebounce  = 200 * time.Millisecond
	defaultHeartbeatInterval = 30 * time.Second
)

// ExpiryStatus はサイドバーのリング表示に使う期限までの残り具合
type ExpiryStatus string

const (
	ExpiryFresh   ExpiryStatus = "fresh"
	ExpiryAging   ExpiryStatus = "aging"
	ExpiryWarning ExpiryStatus = "warning"
	ExpiryDanger  ExpiryStatus = "danger"
)

// NextExpiryDeadline はピン留めされていないノートのうち、最も早く期限切れになる時刻（Unixミリ秒）を返す
// 対象が無ければ ok=false
func NextExpiryDeadline(notes []NoteMeta, expiryMinutes int64) (deadline int64, ok bool) {
	for _, n := range notes {
		if n.IsPinned || n.IsTrashed {
			continue
		}
		at := n.LastInteraction + expiryMinutes*minuteMs
		if !ok || at < deadline {
			deadline = at
			ok = true
		}
	}
	return deadline, ok
}

// ExpiryProgress は期限までの残りを [0, 1] で返す。1が操作直後、0が期限切れ
func ExpiryProgress(lastInteraction, expiryMinutes, now int64) float64 {
	total := float64(max(1, expiryMinutes) * minuteMs)
	elapsed := float64(max(0, now-lastInteraction))
	return clamp01(1 - elapsed/total)
}

// ExpiryStatusFor は残りの割合を表示区分に変換する
func ExpiryStatusFor(progress float64) ExpiryStatus {
	pct := clamp01(progress) * 100
	switch {
	case pct >= 50:
		return ExpiryFresh
	case pct >= 25:
		return ExpiryAging
	case pct >= 10:
		return ExpiryWarning
	default:
		return ExpiryDanger
	}
}

func clamp01(n float64) float64 {
	if math.IsNaN(n) {
		return 0
	}
	return math.Min(1, math.Max(0, n))
}

// NoteExpiry はノート1件の期限表示
type NoteExpiry struct {
	ID       string       `json:"id"`
	Progress float64      `json:"progress"`
	Status   ExpiryStatus `json:"status"`
}

// expiryStatuses はピン留めされていないアクティブなノートの期限表示を一覧の順で返す
func expiryStatuses(notes []NoteMeta, expiryMinutes, now int64) []NoteExpiry {
	out := []NoteExpiry{}
	for _, n := range notes {
		if n.IsPinned || n.IsTrashed {
			continue
		}
		p := ExpiryProgress(n.LastInteraction, expiryMinutes, now)
		out = append(out, NoteExpiry{ID: n.ID, Progress: p, Status: ExpiryStatusFor(p)})
	}
	return out
}

// expiryScheduler は次の期限にスイープを予約し、選択中ノートのハートビートを送る
//
// 一覧か期限設定が変わるたびに予約を計算し直す。変更が続いた場合はまとめて1回計算する。
type expiryScheduler struct {
	store     *NotesStore
	scheduler Scheduler
	logger    AppLogger
	now       func() time.Time
	debounced func(f func())
	heartbeat time.Duration

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	expiryMinutes int64
	lastSweep     time.Time
	unsubscribe   []func()
}

type expiryOption func(*expiryScheduler)

func withExpiryDebounce(debounced func(f func())) expiryOption {
	return func(e *expiryScheduler) { e.debounced = debounced }
}

func withExpiryClock(now func() time.Time) expiryOption {
	return func(e *expiryScheduler) { e.now = now }
}

func withHeartbeatInterval(d time.Duration) expiryOption {
	return func(e *expiryScheduler) { e.heartbeat = d }
}

func newExpiryScheduler(store *NotesStore, scheduler Scheduler, logger AppLogger, opts ...expiryOption) *expiryScheduler {
	e := &expiryScheduler{
		store:         store,
		scheduler:     scheduler,
		logger:        logger,
		now:           time.Now,
		debounced:     debounce.New(expiryRecomputeDebounce),
		heartbeat:     defaultHeartbeatInterval,
		expiryMinutes: defaultExpiryMinutes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start は購読とハートビートを開始し、最初の予約を行う
func (e *expiryScheduler) Start(ctx context.Context, settings SettingsService) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.unsubscribe = append(e.unsubscribe, e.store.Subscribe(func(NotesState) {
		e.debounced(e.recompute)
	}))
	if settings != nil {
		e.unsubscribe = append(e.unsubscribe, settings.OnChange(func(s Settings) {
			e.SetExpiryMinutes(s.ExpiryMinutes)
		}))
	}
	e.mu.Unlock()

	e.recompute()
	if e.heartbeat > 0 {
		go e.heartbeatLoop(runCtx)
	}
}

// Stop は購読を解除し、予約中のスイープとハートビートを止める
func (e *expiryScheduler) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	if cancel != nil {
		cancel()
	}
	e.scheduler.Cancel(expiryTimerKey)
}

// SetExpiryMinutes は期限設定を変更し、予約を計算し直す
func (e *expiryScheduler) SetExpiryMinutes(minutes int64) {
	e.mu.Lock()
	changed := e.expiryMinutes != minutes
	e.expiryMinutes = minutes
	e.mu.Unlock()
	if changed {
		e.recompute()
	}
}

// Statuses は現在の一覧に対する期限表示を返す
func (e *expiryScheduler) Statuses() []NoteExpiry {
	e.mu.Lock()
	minutes := e.expiryMinutes
	e.mu.Unlock()
	return expiryStatuses(e.store.State().List.Active, minutes, e.now().UnixMilli())
}

func (e *expiryScheduler) recompute() {
	e.mu.Lock()
	ctx := e.ctx
	minutes := e.expiryMinutes
	lastSweep := e.lastSweep
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	deadline, ok := NextExpiryDeadline(e.store.State().List.Active, minutes)
	if !ok {
		e.scheduler.Cancel(expiryTimerKey)
		return
	}

	now := e.now()
	delay := time.Duration(max(0, deadline-now.UnixMilli())) * time.Millisecond
	// 期限切れのまま残るノートがあっても、直前のスイープから間隔を空ける
	if !lastSweep.IsZero() {
		delay = max(delay, lastSweep.Add(backgroundSweepInterval).Sub(now))
	}
	e.scheduler.Schedule(expiryTimerKey, delay, func() {
		e.mu.Lock()
		e.lastSweep = e.now()
		e.mu.Unlock()
		if err := e.store.RunExpirySweep(ctx); err != nil {
			e.logger.Error(err, "Scheduled expiry sweep failed")
		}
	})
}

func (e *expiryScheduler) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.store.HeartbeatSelected(ctx)
		}
	}
}
