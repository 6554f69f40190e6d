package backend

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

const (
	defaultTheme              = "dark"
	defaultExpiryMinutes      = 10_080 // 7日
	defaultTrashRetentionDays = 30
)

var validThemes = map[string]bool{
	"dark":   true,
	"light":  true,
	"system": true,
}

// SettingsService は設定関連の操作を提供するインターフェースです
type SettingsService interface {
	LoadSettings(ctx context.Context) (*Settings, error)
	SetTheme(ctx context.Context, theme string) error
	SetExpiryMinutes(ctx context.Context, minutes int64) error
	SetTrashRetentionDays(ctx context.Context, days int64) error
	OnChange(fn func(Settings)) func()
}

// settingsService はSettingsServiceの実装です
// 値はsettingsテーブルに保存し、最後に読み書きした値を保持します
type settingsService struct {
	gateway SettingsGateway
	logger  AppLogger

	mu        sync.Mutex
	current   Settings
	loaded    bool
	nextID    int
	listeners map[int]func(Settings)
}

// NewSettingsService は新しいsettingsServiceインスタンスを作成します
func NewSettingsService(gateway SettingsGateway, logger AppLogger) *settingsService {
	return &settingsService{
		gateway:   gateway,
		logger:    logger,
		listeners: make(map[int]func(Settings)),
	}
}

// defaultSettings は未設定時に使う既定値を返します
func defaultSettings() Settings {
	return Settings{
		Theme:              defaultTheme,
		ExpiryMinutes:      defaultExpiryMinutes,
		TrashRetentionDays: defaultTrashRetentionDays,
	}
}

// LoadSettings は設定を読み込みます
// 未保存の項目は既定値で保存されます
func (s *settingsService) LoadSettings(ctx context.Context) (*Settings, error) {
	settings, err := s.gateway.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	changed := !s.loaded || s.current != settings
	s.current = settings
	s.loaded = true
	s.mu.Unlock()

	if changed {
		s.notify(settings)
	}
	return &settings, nil
}

// Current は最後に読み込んだ設定を返します。未読み込みなら既定値です
func (s *settingsService) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return defaultSettings()
	}
	return s.current
}

// SetTheme はテーマ（dark / light / system）を変更します
func (s *settingsService) SetTheme(ctx context.Context, theme string) error {
	return s.set(ctx, settingTheme, theme, func(st *Settings) { st.Theme = theme })
}

// SetExpiryMinutes は自動でゴミ箱に移すまでの分数を変更します
func (s *settingsService) SetExpiryMinutes(ctx context.Context, minutes int64) error {
	return s.set(ctx, settingExpiryMinutes, strconv.FormatInt(minutes, 10), func(st *Settings) {
		st.ExpiryMinutes = minutes
	})
}

// SetTrashRetentionDays はゴミ箱に残す日数を変更します
func (s *settingsService) SetTrashRetentionDays(ctx context.Context, days int64) error {
	return s.set(ctx, settingTrashRetentionDays, strconv.FormatInt(days, 10), func(st *Settings) {
		st.TrashRetentionDays = days
	})
}

func (s *settingsService) set(ctx context.Context, key, value string, apply func(*Settings)) error {
	if err := validateSetting(key, value); err != nil {
		return err
	}
	if err := s.gateway.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	s.mu.Lock()
	if !s.loaded {
		s.current = defaultSettings()
		s.loaded = true
	}
	apply(&s.current)
	updated := s.current
	s.mu.Unlock()

	s.logger.Info("Setting %s changed to %s", key, value)
	s.notify(updated)
	return nil
}

// OnChange は設定変更の通知を受け取る関数を登録し、解除関数を返します
func (s *settingsService) OnChange(fn func(Settings)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *settingsService) notify(settings Settings) {
	s.mu.Lock()
	fns := make([]func(Settings), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(settings)
	}
}

// validateSetting はキーと値の組み合わせを検証します
func validateSetting(key, value string) error {
	switch key {
	case settingTheme:
		if !validThemes[value] {
			return fmt.Errorf("%w: theme must be dark, light or system, got %q", ErrInvalidSetting, value)
		}
	case settingExpiryMinutes, settingTrashRetentionDays:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidSetting, key, value)
		}
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	return nil
}
