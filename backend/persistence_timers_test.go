package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_ReplacesPendingTask(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	done := make(chan struct{})
	s.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("k", 20*time.Millisecond, func() {
		second.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("タスクが実行されなかった")
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestTimerScheduler_Cancel(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var ran atomic.Bool
	s.Schedule("k", 10*time.Millisecond, func() { ran.Store(true) })
	s.Cancel("k")

	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestTimerScheduler_FlushRunsPendingTasks(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var count atomic.Int32
	s.Schedule("a", time.Hour, func() { count.Add(1) })
	s.Schedule("b", time.Hour, func() { count.Add(1) })

	s.Flush()
	assert.Equal(t, int32(2), count.Load())

	// 2回目は何も残っていない
	s.Flush()
	assert.Equal(t, int32(2), count.Load())
}

func TestTimerScheduler_StopIgnoresLaterSchedules(t *testing.T) {
	s := NewTimerScheduler()

	var ran atomic.Bool
	s.Schedule("a", 10*time.Millisecond, func() { ran.Store(true) })
	s.Stop()
	s.Schedule("b", 0, func() { ran.Store(true) })
	s.Flush()

	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPersistenceTimers_DraftDelayDefault(t *testing.T) {
	scheduler := newManualScheduler()
	logger := NewAppLogger(context.Background(), true, t.TempDir())
	timers := newPersistenceTimers(scheduler, newFakeGateway(newTestClock()), logger)

	timers.scheduleDraftSave("n1", func() {}, 0)
	delay, ok := scheduler.Pending(draftTimerPrefix + "n1")
	require.True(t, ok)
	assert.Equal(t, defaultDraftSaveDelay, delay)

	timers.clearDraftSaveTimer("n1")
	_, ok = scheduler.Pending(draftTimerPrefix + "n1")
	assert.False(t, ok)
}

func TestPersistenceTimers_WriteAppState(t *testing.T) {
	tests := []struct {
		name     string
		snapshot appStateSnapshot
		want     map[string]string
	}{
		{
			name:     "選択中のノートも書き込む",
			snapshot: appStateSnapshot{SidebarWidth: 280, SelectedID: "n1", ViewMode: ViewTrash},
			want: map[string]string{
				appStateSidebarWidth:   "280",
				appStateSelectedNoteID: "n1",
				appStateViewMode:       "trash",
			},
		},
		{
			name:     "未選択なら選択は書き込まない",
			snapshot: appStateSnapshot{SidebarWidth: 200, ViewMode: ViewNotes},
			want: map[string]string{
				appStateSidebarWidth: "200",
				appStateViewMode:     "notes",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := newFakeGateway(newTestClock())
			logger := NewAppLogger(context.Background(), true, t.TempDir())
			timers := newPersistenceTimers(newManualScheduler(), gateway, logger)

			timers.writeAppState(context.Background(), tt.snapshot)
			assert.Equal(t, tt.want, gateway.appState)
		})
	}
}

func TestPersistenceTimers_WriteAppStateStopsOnError(t *testing.T) {
	gateway := newFakeGateway(newTestClock())
	gateway.Fail("SetAppState", errors.New("db locked"))
	logger := NewAppLogger(context.Background(), true, t.TempDir())
	timers := newPersistenceTimers(newManualScheduler(), gateway, logger)

	timers.writeAppState(context.Background(), appStateSnapshot{SidebarWidth: 300, SelectedID: "n1", ViewMode: ViewNotes})

	assert.Len(t, gateway.Calls("SetAppState"), 1)
}

func TestPersistenceTimers_AppStateUsesLatestSnapshot(t *testing.T) {
	scheduler := newManualScheduler()
	gateway := newFakeGateway(newTestClock())
	logger := NewAppLogger(context.Background(), true, t.TempDir())
	timers := newPersistenceTimers(scheduler, gateway, logger)

	width := 210
	snapshot := func() appStateSnapshot { return appStateSnapshot{SidebarWidth: width, ViewMode: ViewNotes} }
	timers.scheduleAppStateWrite(snapshot)
	width = 390

	require.True(t, scheduler.Fire(appStateTimerKey))
	assert.Equal(t, "390", gateway.appState[appStateSidebarWidth])
}
