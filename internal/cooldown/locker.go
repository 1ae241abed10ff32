package cooldown

import (
	"context"
	stderrors "errors"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/lock"
)

// ClaimLocker 同一 (用户, 资产, 链) 的领取串行执行，
// 锁覆盖检查、对账、提交和记录全过程
type ClaimLocker struct {
	locker lock.Locker
}

// NewClaimLocker 创建领取锁
func NewClaimLocker(l lock.Locker) *ClaimLocker {
	return &ClaimLocker{locker: l}
}

func lockKey(key model.CooldownKey) string {
	return "claim:" + key.String()
}

// WithKey 持锁执行 fn，fn 的错误原样返回
// 等锁超时返回 CLAIM_IN_PROGRESS，锁后端故障返回 INTERNAL_ERROR，两种情况 fn 都不会执行
func (l *ClaimLocker) WithKey(ctx context.Context, key model.CooldownKey, fn func(ctx context.Context) error) error {
	entered := false
	err := l.locker.WithLock(ctx, lockKey(key), func(ctx context.Context) error {
		entered = true
		return fn(ctx)
	})
	if entered || err == nil {
		return err
	}

	if stderrors.Is(err, lock.ErrLockAcquireFailed) {
		return errors.Wrap(errors.ErrClaimInProgress, err)
	}
	return errors.Wrap(errors.ErrInternal, err)
}
