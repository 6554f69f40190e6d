package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const snapshotDir = "migration_snapshots"

// saveSnapshot はマイグレーション前のDBファイルを退避する
func saveSnapshot(dbPath string, fromVersion int) error {
	data, err := os.ReadFile(dbPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	dir := filepath.Join(filepath.Dir(dbPath), snapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_v%d_%s", filepath.Base(dbPath), fromVersion, timestamp)
	return atomicWrite(filepath.Join(dir, name), data)
}

func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
