package backend

import "context"

// NoteGateway はノートの永続化操作を提供するインターフェースです
type NoteGateway interface {
	ListNotes(ctx context.Context) (NotesList, error)                                  // アクティブ/ゴミ箱のノート一覧
	CreateNote(ctx context.Context) (NoteMeta, error)                                  // 空の下書きを作成
	GetNote(ctx context.Context, id string) (NoteWithContent, error)                   // 本文付きで取得
	SetNoteActive(ctx context.Context, id string) error                                // 最終操作日時を更新
	WriteDraft(ctx context.Context, id, content string) (NoteMeta, error)              // 下書きの自動保存
	SaveNote(ctx context.Context, id, content string) (NoteMeta, error)                // 保存済みノートの上書き保存
	SaveNoteAs(ctx context.Context, id, path, content string) (NoteMeta, error)        // 名前を付けて保存
	ImportFile(ctx context.Context, path string) (NoteWithContent, error)              // ファイルを保存済みノートとして取り込む
	TrashNote(ctx context.Context, id string) (NoteMeta, error)                        // ゴミ箱へ移動
	RestoreNote(ctx context.Context, id string) (NoteMeta, error)                      // ゴミ箱から復元
	DeleteNoteForever(ctx context.Context, id string) error                            // 完全に削除
	SetPinned(ctx context.Context, id string, pinned bool) (NoteMeta, error)           // ピン留めの切り替え
	ReorderNotes(ctx context.Context, ids []string) error                              // 並び順を保存
}

// AppStateGateway はUI状態（サイドバー幅・選択中ノートなど）のキー値ストアです
type AppStateGateway interface {
	GetAppState(ctx context.Context) (map[string]string, error)
	SetAppState(ctx context.Context, key, value string) error
}

// SettingsGateway はユーザー設定のキー値ストアです
type SettingsGateway interface {
	GetSettings(ctx context.Context) (Settings, error)
	SetSetting(ctx context.Context, key, value string) error
}

// ExpiryGateway は期限切れスイープを即時実行します
type ExpiryGateway interface {
	RunExpiry(ctx context.Context) error
}

// Gateway はノートストアが依存する永続化層の全体です
type Gateway interface {
	NoteGateway
	AppStateGateway
	SettingsGateway
	ExpiryGateway
}

// app_state のキー
const (
	appStateSidebarWidth   = "sidebarWidth"
	appStateSelectedNoteID = "selectedNoteId"
	appStateViewMode       = "viewMode"
)

// settings のキー
const (
	settingTheme              = "theme"
	settingExpiryMinutes      = "expiry_minutes"
	settingTrashRetentionDays = "trash_retention_days"
)
