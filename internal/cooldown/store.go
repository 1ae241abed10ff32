// Package cooldown 维护每个 (用户, 资产, 链) 的领取冷却
//
// 数据库记录是快速判断的依据，读取失败时拒绝领取 (fail closed)；
// 链上状态由 Reconciler 在数据库放行时补充校验。
package cooldown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// Limit 冷却检查结果
type Limit struct {
	Allowed        bool
	CooldownEndsAt time.Time
	LastClaimAt    time.Time
}

// Remaining 距冷却结束的时间
func (l Limit) Remaining(now time.Time) time.Duration {
	if l.Allowed || !l.CooldownEndsAt.After(now) {
		return 0
	}
	return l.CooldownEndsAt.Sub(now)
}

// Store 冷却记录存储
type Store struct {
	repo repository.CooldownRepository
	now  func() time.Time
}

// NewStore 创建冷却存储
func NewStore(repo repository.CooldownRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// SetClock 替换时钟，测试用
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now 当前时间
func (s *Store) Now() time.Time {
	return s.now()
}

// CheckLimit 查找冷却窗口内最新的记录
// 存储出错时返回 Allowed=false 和错误
func (s *Store) CheckLimit(ctx context.Context, key model.CooldownKey, cooldown time.Duration) (Limit, error) {
	now := s.now()
	since := now.Add(-cooldown).UnixMilli()

	rec, err := s.repo.LatestSince(ctx, key, since)
	if err != nil {
		logger.Warn("cooldown check failed, denying claim",
			zap.String("key", key.String()),
			zap.Error(err))
		return Limit{Allowed: false}, errors.Wrap(errors.ErrInternal, err)
	}
	if rec == nil {
		return Limit{Allowed: true}, nil
	}

	last := rec.LastClaimTime()
	return Limit{
		Allowed:        false,
		LastClaimAt:    last,
		CooldownEndsAt: last.Add(cooldown),
	}, nil
}

// RecordClaim 追加一条领取记录，last_claim_at 为当前时间
func (s *Store) RecordClaim(ctx context.Context, key model.CooldownKey, cooldown time.Duration) (*model.CooldownRecord, error) {
	now := s.now()
	rec, err := s.appendRecord(ctx, key, now, now.Add(cooldown), model.CooldownSourceClaim)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailure, err)
	}
	return rec, nil
}

// BackfillFromChain 按链上剩余冷却追加一条合成记录，
// 使下一次 CheckLimit 无需查询链即可得到与链一致的结果
func (s *Store) BackfillFromChain(ctx context.Context, key model.CooldownKey, cooldown, remaining time.Duration) (*model.CooldownRecord, error) {
	now := s.now()
	last := now.Add(-cooldown).Add(remaining)
	rec, err := s.appendRecord(ctx, key, last, now.Add(remaining), model.CooldownSourceChainSync)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPersistenceFailure, err)
	}
	return rec, nil
}

func (s *Store) appendRecord(ctx context.Context, key model.CooldownKey, last, reset time.Time, source model.CooldownSource) (*model.CooldownRecord, error) {
	prev, err := s.repo.Latest(ctx, key)
	if err != nil {
		return nil, err
	}
	count := int64(1)
	if prev != nil {
		count = prev.ClaimCount + 1
	}

	rec := &model.CooldownRecord{
		UserID:      key.UserID,
		AssetType:   key.AssetType,
		ChainID:     key.ChainID,
		LastClaimAt: last.UnixMilli(),
		ClaimCount:  count,
		ResetAt:     reset.UnixMilli(),
		Source:      source,
		CreatedAt:   s.now().UnixMilli(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Purge 删除 before 之前的记录
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.PurgeBefore(ctx, before.UnixMilli())
}
