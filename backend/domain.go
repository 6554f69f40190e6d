package backend

import (
	"context"
)

// アプリケーションのメインの構造体
type App struct {
	ctx             *Context         // アプリケーションのコンテキスト
	appDataDir      string           // アプリケーションデータディレクトリのパス
	paths           AppPaths         // 下書き・ゴミ箱・DBのパス
	noteService     *noteService     // ローカル永続化（SQLite + ファイル）
	notesStore      *NotesStore      // クライアント側のノート状態
	settingsService *settingsService // 設定操作サービス
	fileService     FileService      // ファイルダイアログ操作
	expiry          *expiryScheduler // 期限切れスイープのスケジューラ
	expiryTimers    Scheduler        // 期限切れスイープ用のタイマー
	stopSweeper     context.CancelFunc
	logger          AppLogger // アプリケーションのロガー
}

// アプリケーションのコンテキストを管理
type Context struct {
	ctx             context.Context
	skipBeforeClose bool // アプリケーション終了前の確認処理をスキップするかどうか
}

// AppPaths はアプリケーションデータ配下のパスをまとめたもの
type AppPaths struct {
	AppDataDir string
	DraftsDir  string
	TrashDir   string
	LogsDir    string
	DBPath     string
}

// NoteStorage はノートの保存方式
type NoteStorage string

const (
	StorageDraft NoteStorage = "draft" // 編集のたびに自動保存される
	StorageSaved NoteStorage = "saved" // 明示的な保存が必要
)

// ViewMode はサイドバーが表示している区分
type ViewMode string

const (
	ViewNotes ViewMode = "notes"
	ViewTrash ViewMode = "trash"
)

// ReorderSection は手動並び替えの対象区分
type ReorderSection string

const (
	SectionPinned ReorderSection = "pinned"
	SectionNotes  ReorderSection = "notes"
)

const (
	MaxPinnedNotes      = 5
	MinSidebarWidth     = 200
	MaxSidebarWidth     = 400
	DefaultSidebarWidth = 260
)

// ノートのメタデータ
// タイムスタンプはすべてUnixミリ秒
type NoteMeta struct {
	ID              string      `json:"id"`              // ノートの一意識別子
	Title           string      `json:"title"`           // 本文から導出したタイトル
	Preview         string      `json:"preview"`         // 本文から導出したプレビュー
	FilePath        string      `json:"filePath"`        // 本文ファイルのパス
	Storage         NoteStorage `json:"storage"`         // draft / saved
	IsPinned        bool        `json:"isPinned"`        // ピン留め
	IsTrashed       bool        `json:"isTrashed"`       // ゴミ箱に入っているか
	SortOrder       int64       `json:"sortOrder"`       // 区分内の手動並び順
	CreatedAt       int64       `json:"createdAt"`       // 作成日時
	LastInteraction int64       `json:"lastInteraction"` // 最終操作日時（期限切れ判定に使用）
	TrashedAt       *int64      `json:"trashedAt"`       // ゴミ箱に入れた日時
}

// ノートのリスト（アクティブとゴミ箱の2区分）
type NotesList struct {
	Active  []NoteMeta `json:"active"`
	Trashed []NoteMeta `json:"trashed"`
}

// 本文付きのノート
type NoteWithContent struct {
	Meta    NoteMeta `json:"meta"`
	Content string   `json:"content"`
}

// アプリケーションの設定を管理
type Settings struct {
	Theme              string `json:"theme"`              // dark / light / system
	ExpiryMinutes      int64  `json:"expiryMinutes"`      // 未操作ノートを自動でゴミ箱に移すまでの分数
	TrashRetentionDays int64  `json:"trashRetentionDays"` // ゴミ箱の保持日数
}

// NotesState はノートストアのスナップショット
type NotesState struct {
	List                 NotesList         `json:"list"`
	SelectedID           string            `json:"selectedId"` // 空文字は未選択
	ViewMode             ViewMode          `json:"viewMode"`
	SidebarWidth         int               `json:"sidebarWidth"`
	ContentByID          map[string]string `json:"contentById"`
	LastSavedContentByID map[string]string `json:"-"`
	Loading              bool              `json:"loading"`
}

// clone はマップとスライスを複製したスナップショットを返す
func (s *NotesState) clone() NotesState {
	out := *s
	out.List = NotesList{
		Active:  copyMetas(s.List.Active),
		Trashed: copyMetas(s.List.Trashed),
	}
	out.ContentByID = copyStringMap(s.ContentByID)
	out.LastSavedContentByID = copyStringMap(s.LastSavedContentByID)
	return out
}

func copyMetas(metas []NoteMeta) []NoteMeta {
	out := make([]NoteMeta, len(metas))
	copy(out, metas)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func newNotesState() NotesState {
	return NotesState{
		List:                 NotesList{Active: []NoteMeta{}, Trashed: []NoteMeta{}},
		ViewMode:             ViewNotes,
		SidebarWidth:         DefaultSidebarWidth,
		ContentByID:          map[string]string{},
		LastSavedContentByID: map[string]string{},
	}
}

func clampSidebarWidth(width int) int {
	if width < MinSidebarWidth {
		return MinSidebarWidth
	}
	if width > MaxSidebarWidth {
		return MaxSidebarWidth
	}
	return width
}
