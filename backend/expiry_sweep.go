package backend

import (
	"context"
	"fmt"
	"time"
)

const (
	backgroundSweepInterval = 60 * time.Second
	minuteMs                = int64(60_000)
	dayMs                   = int64(86_400_000)
)

// sweepResult は1回のスイープで変化した件数
type sweepResult struct {
	Trashed int
	Deleted int
}

func (r sweepResult) changed() bool {
	return r.Trashed > 0 || r.Deleted > 0
}

// RunExpiry は期限切れのノートをゴミ箱に移し、保持期間を過ぎたゴミ箱のノートを削除します
func (s *noteService) RunExpiry(ctx context.Context) error {
	_, err := s.sweep(ctx)
	return err
}

func (s *noteService) sweep(ctx context.Context) (sweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result sweepResult
	now := s.nowMs()
	expiryMinutes, err := s.settingInt(ctx, settingExpiryMinutes, defaultExpiryMinutes)
	if err != nil {
		return result, err
	}
	retentionDays, err := s.settingInt(ctx, settingTrashRetentionDays, defaultTrashRetentionDays)
	if err != nil {
		return result, err
	}

	result.Trashed, err = s.trashExpired(ctx, now-expiryMinutes*minuteMs)
	if err != nil {
		return result, err
	}
	result.Deleted, err = s.dropExpiredTrash(ctx, now-retentionDays*dayMs)
	if err != nil {
		return result, err
	}

	if result.changed() {
		s.logger.Info("Expiry sweep: %d moved to trash, %d deleted", result.Trashed, result.Deleted)
	}
	return result, nil
}

// trashExpired はピン留めされていないアクティブなノートのうち、
// 最終操作が cutoff 以前のものをゴミ箱に移す。1件ごとの失敗はログに残して続行する
func (s *noteService) trashExpired(ctx context.Context, cutoff int64) (int, error) {
	expired, err := s.queryMetas(ctx,
		"SELECT "+metaColumns+" FROM notes WHERE is_trashed = 0 AND is_pinned = 0 AND last_interaction <= ?",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired notes: %w", err)
	}

	trashed := 0
	for _, meta := range expired {
		if _, err := s.trash(ctx, meta); err != nil {
			s.logger.Error(err, "Auto-trash failed for %s", meta.ID)
			continue
		}
		trashed++
	}
	return trashed, nil
}

// dropExpiredTrash はゴミ箱に入ってから cutoff 以前のノートを完全に削除する
func (s *noteService) dropExpiredTrash(ctx context.Context, cutoff int64) (int, error) {
	expired, err := s.queryMetas(ctx,
		"SELECT "+metaColumns+" FROM notes WHERE is_trashed = 1 AND trashed_at IS NOT NULL AND trashed_at <= ?",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired trash: %w", err)
	}

	deleted := 0
	for _, meta := range expired {
		if err := s.deleteForever(ctx, meta); err != nil {
			s.logger.Error(err, "Trash cleanup failed for %s", meta.ID)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// StartBackgroundSweeper は ctx がキャンセルされるまで interval ごとにスイープを実行します
// 何か変化があった場合は onChange を呼びます
func (s *noteService) StartBackgroundSweeper(ctx context.Context, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = backgroundSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			result, err := s.sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error(err, "Background expiry sweep failed")
			} else if result.changed() && onChange != nil {
				onChange()
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
