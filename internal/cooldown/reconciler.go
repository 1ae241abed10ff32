package cooldown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// Verdict 对账结果
type Verdict struct {
	Allowed        bool
	CooldownEndsAt time.Time
	Remaining      time.Duration
	Outcome        oracle.Outcome
	// Backfilled 链上拒绝后已回填冷却记录
	Backfilled bool
}

// Reconciler 数据库放行时用链上状态复核，不一致时以链为准
type Reconciler struct {
	store  *Store
	oracle oracle.Oracle
}

// NewReconciler 创建对账器
func NewReconciler(store *Store, o oracle.Oracle) *Reconciler {
	return &Reconciler{store: store, oracle: o}
}

// Reconcile 只应在 CheckLimit 放行后调用
// 链上拒绝时回填冷却记录；回填失败只记录日志，拒绝结果不变
func (r *Reconciler) Reconcile(ctx context.Context, key model.CooldownKey, q oracle.Query, cooldown time.Duration) Verdict {
	res := r.oracle.QueryCooldown(ctx, q)
	if res.CanClaim {
		return Verdict{Allowed: true, Outcome: res.Outcome}
	}

	now := r.store.Now()
	v := Verdict{
		Allowed:        false,
		Remaining:      res.CooldownRemaining,
		CooldownEndsAt: now.Add(res.CooldownRemaining),
		Outcome:        res.Outcome,
	}

	rec, err := r.store.BackfillFromChain(ctx, key, cooldown, res.CooldownRemaining)
	metrics.RecordBackfill(err == nil)
	if err != nil {
		logger.Error("cooldown backfill failed",
			zap.String("key", key.String()),
			zap.Duration("chain_remaining", res.CooldownRemaining),
			zap.Error(err))
		return v
	}

	v.Backfilled = true
	logger.Info("chain cooldown overrides database, backfilled",
		zap.String("key", key.String()),
		zap.Duration("chain_remaining", res.CooldownRemaining),
		zap.Int64("last_claim_at", rec.LastClaimAt))
	return v
}
