package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// ------------------------------------------------------------
// AppStateGateway / SettingsGateway
// ------------------------------------------------------------

// GetAppState は保存されているUI状態をすべて返します
func (s *noteService) GetAppState(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM app_state")
	if err != nil {
		return nil, fmt.Errorf("failed to read app state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to read app state: %w", err)
		}
		state[key] = value
	}
	return state, rows.Err()
}

// SetAppState はUI状態を1件保存します
func (s *noteService) SetAppState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, "app_state", key, value)
}

// GetSettings は設定を返します。未保存の項目は既定値を保存してから返します
func (s *noteService) GetSettings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	theme, err := s.settingString(ctx, settingTheme, defaultTheme)
	if err != nil {
		return Settings{}, err
	}
	expiry, err := s.settingInt(ctx, settingExpiryMinutes, defaultExpiryMinutes)
	if err != nil {
		return Settings{}, err
	}
	retention, err := s.settingInt(ctx, settingTrashRetentionDays, defaultTrashRetentionDays)
	if err != nil {
		return Settings{}, err
	}
	return Settings{Theme: theme, ExpiryMinutes: expiry, TrashRetentionDays: retention}, nil
}

// SetSetting は検証してから設定を保存します
func (s *noteService) SetSetting(ctx context.Context, key, value string) error {
	if err := validateSetting(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, "settings", key, value)
}

func (s *noteService) upsert(ctx context.Context, table, key, value string) error {
	query := "INSERT INTO " + table + "(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", table, key, err)
	}
	return nil
}

func (s *noteService) settingString(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.upsert(ctx, "settings", key, fallback); err != nil {
			return "", err
		}
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// settingInt は整数の設定を読みます。数値として読めない値は既定値として扱います
func (s *noteService) settingInt(ctx context.Context, key string, fallback int64) (int64, error) {
	raw, err := s.settingString(ctx, key, strconv.FormatInt(fallback, 10))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}
