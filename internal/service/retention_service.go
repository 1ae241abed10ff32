package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/cooldown"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// RetentionService 定期清理过期的冷却记录
// 只删除早于最长冷却时间的记录，不影响任何冷却判断
type RetentionService struct {
	store       *cooldown.Store
	period      time.Duration
	maxCooldown time.Duration
	interval    time.Duration
}

// NewRetentionService 创建清理服务
func NewRetentionService(store *cooldown.Store, period, maxCooldown, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionService{
		store:       store,
		period:      period,
		maxCooldown: maxCooldown,
		interval:    interval,
	}
}

// Cutoff 清理截止时间: now - max(保留期, 最长冷却)
func (s *RetentionService) Cutoff() time.Time {
	keep := s.period
	if s.maxCooldown > keep {
		keep = s.maxCooldown
	}
	return s.store.Now().Add(-keep)
}

// Run 按间隔清理，ctx 取消后返回
func (s *RetentionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error("cooldown retention purge failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 执行一次清理
func (s *RetentionService) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.Cutoff()
	n, err := s.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RecordRetentionPurge(n)
	if n > 0 {
		logger.Info("purged expired cooldown records",
			zap.Int64("count", n),
			zap.Time("before", cutoff))
	}
	return n, nil
}
