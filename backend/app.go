package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const appDirName = "augenblick"

// NewContext は新しいContextインスタンスを作成します
func NewContext(ctx context.Context) *Context {
	return &Context{
		ctx:             ctx,
		skipBeforeClose: false,
	}
}

// SkipBeforeClose はBeforeClose処理のスキップフラグを設定します
func (c *Context) SkipBeforeClose(skip bool) {
	c.skipBeforeClose = skip
}

// ShouldSkipBeforeClose はBeforeClose処理をスキップすべきかどうかを返します
func (c *Context) ShouldSkipBeforeClose() bool {
	return c.skipBeforeClose
}

// NewApp は新しいAppインスタンスを作成します
func NewApp() *App {
	return &App{
		ctx: NewContext(context.Background()),
	}
}

// NotesView はフロントエンドに送るノートストアの表示用スナップショット
// 本文は選択中のノートのものだけを含める
type NotesView struct {
	List            NotesList       `json:"list"`
	SelectedID      string          `json:"selectedId"`
	SelectedContent string          `json:"selectedContent"`
	ViewMode        ViewMode        `json:"viewMode"`
	SidebarWidth    int             `json:"sidebarWidth"`
	Loading         bool            `json:"loading"`
	DirtyIDs        map[string]bool `json:"dirtyIds"`
	CanUndoReorder  bool            `json:"canUndoReorder"`
	CanRedoReorder  bool            `json:"canRedoReorder"`
}

func (a *App) buildView(st NotesState) NotesView {
	undo, redo := a.notesStore.ReorderHistorySizes()
	return NotesView{
		List:            st.List,
		SelectedID:      st.SelectedID,
		SelectedContent: st.ContentByID[st.SelectedID],
		ViewMode:        st.ViewMode,
		SidebarWidth:    st.SidebarWidth,
		Loading:         st.Loading,
		DirtyIDs:        DirtySavedMap(&st),
		CanUndoReorder:  undo > 0,
		CanRedoReorder:  redo > 0,
	}
}

// resolveAppDataDir はユーザー設定ディレクトリ配下のアプリ用ディレクトリを返す
func resolveAppDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base, err = os.UserHomeDir()
		if err != nil {
			base = "."
		}
	}
	return filepath.Join(base, appDirName)
}

// ------------------------------------------------------------
// アプリケーション関連の操作
// ------------------------------------------------------------

// アプリケーション起動時に呼び出される初期化関数
func (a *App) Startup(ctx context.Context) {
	a.ctx.ctx = ctx
	a.appDataDir = resolveAppDataDir()
	a.logger = NewAppLogger(ctx, false, a.appDataDir)
	a.logger.Console("appDataDir %s", a.appDataDir)

	paths, err := ResolveAppPaths(a.appDataDir)
	if err != nil {
		a.logger.Error(err, "Error preparing app data dir")
		return
	}
	a.paths = paths

	a.fileService = NewFileService(a.ctx)

	noteService, err := NewNoteService(ctx, paths, a.logger)
	if err != nil {
		a.logger.Error(err, "Error initializing note service")
		return
	}
	a.noteService = noteService
	a.settingsService = NewSettingsService(noteService, a.logger)

	a.notesStore = NewNotesStore(noteService, a.logger)
	a.notesStore.Subscribe(func(st NotesState) {
		wailsRuntime.EventsEmit(ctx, "notes:state", a.buildView(st))
	})
	a.notesStore.OnFocusEditor(func() {
		wailsRuntime.EventsEmit(ctx, "editor:focus")
	})
	a.expiryTimers = NewTimerScheduler()
	a.expiry = newExpiryScheduler(a.notesStore, a.expiryTimers, a.logger)
}

// DomReady は設定とノート一覧を読み込み、期限切れの監視を始めます
func (a *App) DomReady(ctx context.Context) {
	if a.notesStore == nil {
		a.logger.ErrorWithNotify(errors.New("note service unavailable"), "Startup failed")
		return
	}

	settings, err := a.settingsService.LoadSettings(ctx)
	if err != nil {
		a.logger.ErrorWithNotify(err, "Failed to load settings")
	} else {
		a.expiry.SetExpiryMinutes(settings.ExpiryMinutes)
	}

	if err := a.notesStore.Init(ctx); err != nil {
		a.logger.ErrorWithNotify(err, "Failed to load notes")
	}

	a.expiry.Start(ctx, a.settingsService)

	sweepCtx, cancel := context.WithCancel(ctx)
	a.stopSweeper = cancel
	a.noteService.StartBackgroundSweeper(sweepCtx, backgroundSweepInterval, func() {
		if err := a.notesStore.RunExpirySweep(sweepCtx); err != nil {
			a.logger.Error(err, "Failed to refresh notes after background sweep")
		}
	})

	// フロントエンドに初期化完了を通知
	wailsRuntime.EventsEmit(ctx, "backend:ready")
}

// アプリケーション終了前に呼び出される処理
// 未保存の保存済みノートがあれば終了を止め、フロントエンドに確認を求める
func (a *App) BeforeClose(ctx context.Context) (prevent bool) {
	if a.ctx.ShouldSkipBeforeClose() || a.notesStore == nil {
		return false
	}

	st := a.notesStore.State()
	dirty := DirtySavedIDs(&st)
	if len(dirty) == 0 {
		return false
	}

	wailsRuntime.EventsEmit(ctx, "app:beforeclose", dirty)
	return true
}

// アプリケーションを強制終了する
func (a *App) DestroyApp() {
	a.logger.Console("DestroyApp")
	// BeforeCloseイベントをスキップしてアプリケーションを終了
	a.ctx.SkipBeforeClose(true)
	wailsRuntime.Quit(a.ctx.ctx)
}

// Shutdown はタイマーを止め、保留中の書き込みを済ませてからDBを閉じます
func (a *App) Shutdown(ctx context.Context) {
	if a.expiry != nil {
		a.expiry.Stop()
	}
	if a.expiryTimers != nil {
		a.expiryTimers.Stop()
	}
	if a.stopSweeper != nil {
		a.stopSweeper()
	}
	if a.notesStore != nil {
		a.notesStore.Close()
	}
	if a.noteService != nil {
		if err := a.noteService.Close(); err != nil {
			a.logger.Error(err, "Failed to close database")
		}
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// BringToFront はウィンドウを前面に出します
func (a *App) BringToFront() {
	wailsRuntime.WindowUnminimise(a.ctx.ctx)
	wailsRuntime.Show(a.ctx.ctx)
}

// OpenFileFromExternal は外部から渡されたファイルを取り込んで開きます
func (a *App) OpenFileFromExternal(filePath string) error {
	if a.notesStore == nil || filePath == "" {
		return nil
	}
	if err := a.notesStore.ImportFile(a.ctx.ctx, filePath); err != nil {
		return a.logger.ErrorWithNotify(err, "Failed to open %s", filePath)
	}
	return nil
}

// ------------------------------------------------------------
// ノート関連の操作
// ------------------------------------------------------------

// GetNotesView は現在の表示用スナップショットを返す
func (a *App) GetNotesView() NotesView {
	return a.buildView(a.notesStore.State())
}

// GetNoteContent はキャッシュ済みの本文を返す
func (a *App) GetNoteContent(id string) string {
	return a.notesStore.State().ContentByID[id]
}

func (a *App) CreateNote() error {
	return a.notesStore.CreateNote(a.ctx.ctx)
}

func (a *App) SelectNote(id string) error {
	return a.notesStore.Select(a.ctx.ctx, id)
}

func (a *App) UpdateContent(id, content string) {
	a.notesStore.UpdateContent(id, content)
}

func (a *App) SaveNote(id string) error {
	return a.notesStore.Save(a.ctx.ctx, id)
}

// SaveNoteAs はノートを保存する。path が空なら保存ダイアログを開き、
// キャンセルされた場合は何もしない
func (a *App) SaveNoteAs(id, path string) error {
	if path == "" {
		title := ""
		st := a.notesStore.State()
		if meta, ok := findMetaByID(st.List, id); ok {
			title = meta.Title
		}
		selected, err := a.fileService.SelectSaveAsPath(title)
		if err != nil {
			return err
		}
		if selected == "" {
			return nil
		}
		path = selected
	}
	return a.notesStore.SaveAs(a.ctx.ctx, id, path)
}

func (a *App) SaveAllDirty() error {
	return a.notesStore.SaveAllDirty(a.ctx.ctx)
}

// ImportFile はファイルを取り込む。path が空ならファイル選択ダイアログを開く
func (a *App) ImportFile(path string) error {
	if path == "" {
		selected, err := a.fileService.SelectImportFile()
		if err != nil {
			return err
		}
		if selected == "" {
			return nil
		}
		path = selected
	}
	return a.notesStore.ImportFile(a.ctx.ctx, path)
}

func (a *App) TrashNote(id string) error {
	return a.notesStore.Trash(a.ctx.ctx, id)
}

func (a *App) RestoreNote(id string) error {
	return a.notesStore.Restore(a.ctx.ctx, id)
}

func (a *App) DeleteNoteForever(id string) error {
	return a.notesStore.DeleteForever(a.ctx.ctx, id)
}

func (a *App) ClearTrash() error {
	return a.notesStore.ClearTrash(a.ctx.ctx)
}

func (a *App) TogglePin(id string) error {
	err := a.notesStore.TogglePin(a.ctx.ctx, id)
	if errors.Is(err, ErrPinLimitReached) {
		a.logger.Info("Pin limit reached")
	}
	return err
}

func (a *App) ReorderNotes(section string, ids []string) error {
	return a.notesStore.Reorder(a.ctx.ctx, ReorderSection(section), ids)
}

func (a *App) UndoReorder() error {
	return a.notesStore.UndoReorder(a.ctx.ctx)
}

func (a *App) RedoReorder() error {
	return a.notesStore.RedoReorder(a.ctx.ctx)
}

func (a *App) SetViewMode(mode string) {
	a.notesStore.SetViewMode(ViewMode(mode))
}

func (a *App) SetSidebarWidth(width int) {
	a.notesStore.SetSidebarWidth(width)
}

func (a *App) RunExpirySweep() error {
	return a.notesStore.RunExpirySweep(a.ctx.ctx)
}

// ExpiryStatuses はサイドバーのリング表示用に、ノートごとの期限までの残りを返す
func (a *App) ExpiryStatuses() []NoteExpiry {
	return a.expiry.Statuses()
}

// RevealNoteInFolder は保存済みノートのフォルダを開く
func (a *App) RevealNoteInFolder(id string) error {
	st := a.notesStore.State()
	meta, ok := findMetaByID(st.List, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, id)
	}
	if meta.Storage != StorageSaved {
		return ErrNotSaved
	}
	return a.fileService.RevealInFolder(meta.FilePath)
}

// ------------------------------------------------------------
// 設定関連の操作
// ------------------------------------------------------------

func (a *App) LoadSettings() (*Settings, error) {
	return a.settingsService.LoadSettings(a.ctx.ctx)
}

func (a *App) SetTheme(theme string) error {
	return a.settingsService.SetTheme(a.ctx.ctx, theme)
}

func (a *App) SetExpiryMinutes(minutes int64) error {
	return a.settingsService.SetExpiryMinutes(a.ctx.ctx, minutes)
}

func (a *App) SetTrashRetentionDays(days int64) error {
	return a.settingsService.SetTrashRetentionDays(a.ctx.ctx, days)
}
