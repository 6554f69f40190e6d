package backend

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const defaultNoteExtension = "md"

// FileService はネイティブのファイルダイアログ操作を提供するインターフェースです
type FileService interface {
	SelectImportFile() (string, error)             // 取り込むファイルを選ぶ。キャンセル時は空文字
	SelectSaveAsPath(title string) (string, error) // 保存先を選ぶ。キャンセル時は空文字
	RevealInFolder(path string) error              // ファイルのあるフォルダを開く
}

// fileService はFileServiceの実装です
type fileService struct {
	ctx *Context
}

// NewFileService は新しいfileServiceインスタンスを作成します
func NewFileService(ctx *Context) *fileService {
	return &fileService{
		ctx: ctx,
	}
}

var noteFileFilters = []wailsRuntime.FileFilter{
	{DisplayName: "Markdown (*.md)", Pattern: "*.md;*.markdown"},
	{DisplayName: "Text (*.txt)", Pattern: "*.txt"},
	{DisplayName: "All Files (*.*)", Pattern: "*.*"},
}

// SelectImportFile はファイル選択ダイアログを表示し、選択されたファイルのパスを返します
func (s *fileService) SelectImportFile() (string, error) {
	return wailsRuntime.OpenFileDialog(s.ctx.ctx, wailsRuntime.OpenDialogOptions{
		Title:   "Open note",
		Filters: noteFileFilters,
	})
}

// SelectSaveAsPath は保存ダイアログを表示し、選択された保存先のパスを返します
// 既定のファイル名はノートのタイトルから作ります
func (s *fileService) SelectSaveAsPath(title string) (string, error) {
	defaultFileName, pattern := buildSaveDialogDefaults(sanitizeFileName(title), defaultNoteExtension)

	return wailsRuntime.SaveFileDialog(s.ctx.ctx, wailsRuntime.SaveDialogOptions{
		Title:           "Save note as",
		DefaultFilename: defaultFileName,
		Filters: []wailsRuntime.FileFilter{
			{DisplayName: "Markdown (" + pattern + ")", Pattern: pattern},
			{DisplayName: "All Files (*.*)", Pattern: "*.*"},
		},
	})
}

// buildSaveDialogDefaults は保存ダイアログ用の既定ファイル名とフィルタを組み立てる
func buildSaveDialogDefaults(fileName string, extension string) (string, string) {
	trimmedName := strings.TrimSpace(fileName)
	trimmedExt := strings.TrimPrefix(strings.TrimSpace(extension), ".")

	if trimmedName == "" || trimmedName == defaultNoteTitle {
		trimmedName = "untitled"
	}
	if trimmedExt == "" {
		return trimmedName, "*.*"
	}

	if strings.HasSuffix(strings.ToLower(trimmedName), "."+strings.ToLower(trimmedExt)) {
		return trimmedName, "*." + trimmedExt
	}
	return fmt.Sprintf("%s.%s", trimmedName, trimmedExt), "*." + trimmedExt
}

// sanitizeFileName はファイル名に使えない文字を取り除く
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", " ", "\\", " ", ":", " ", "*", "", "?", "",
		"\"", "", "<", "", ">", "", "|", "",
	)
	return strings.Join(strings.Fields(replacer.Replace(name)), " ")
}

// RevealInFolder は保存済みノートのあるフォルダをOSのファイルマネージャで開きます
func (s *fileService) RevealInFolder(path string) error {
	dir := filepath.Dir(path)
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", dir).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", "", dir).Start()
	default:
		return exec.Command("xdg-open", dir).Start()
	}
}
