package backend

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ResolveAppPaths はアプリケーションデータ配下のパスを決め、必要なディレクトリを作成する
func ResolveAppPaths(appDataDir string) (AppPaths, error) {
	paths := AppPaths{
		AppDataDir: appDataDir,
		DraftsDir:  filepath.Join(appDataDir, "drafts"),
		TrashDir:   filepath.Join(appDataDir, "trash"),
		LogsDir:    filepath.Join(appDataDir, "logs"),
		DBPath:     filepath.Join(appDataDir, "augenblick.db"),
	}
	for _, dir := range []string{paths.AppDataDir, paths.DraftsDir, paths.TrashDir, paths.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return AppPaths{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return paths, nil
}

// draftPath は下書きファイルのパス
func (p AppPaths) draftPath(id string) string {
	return filepath.Join(p.DraftsDir, id+".md")
}

func readNoteFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return string(data), nil
}

func writeNoteFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// moveNoteFile はファイルを移動する
// rename できない場合（別ボリュームなど）はコピーしてから元を消す
func moveNoteFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	if err := os.Rename(from, to); err == nil {
		return nil
	}

	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	src.Close()
	return os.Remove(from)
}

// removeDraftFile は下書きファイルを消す。既に無ければ何もしない
func removeDraftFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
