package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// CachedOracle 在链上查询前加一层缓存
// 查询失败的结果不缓存，下一次请求会重新查询链
type CachedOracle struct {
	oracle Oracle
	cache  Cache
	now    func() time.Time
}

// NewCachedOracle 创建带缓存的查询器
func NewCachedOracle(oracle Oracle, cache Cache) *CachedOracle {
	return &CachedOracle{oracle: oracle, cache: cache, now: time.Now}
}

// SetClock 替换时钟，测试用
func (o *CachedOracle) SetClock(now func() time.Time) {
	o.now = now
}

// QueryCooldown 优先读缓存，未命中时查询链并写入缓存
func (o *CachedOracle) QueryCooldown(ctx context.Context, q Query) Result {
	key := q.Key()

	cached, ok, err := o.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordOracleCache("error")
		logger.Warn("oracle cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		metrics.RecordOracleCache("hit")
		return o.age(cached)
	default:
		metrics.RecordOracleCache("miss")
	}

	res := o.oracle.QueryCooldown(ctx, q)
	if res.Outcome == OutcomeChainQueryFailed {
		return res
	}
	if err := o.cache.Put(ctx, key, res); err != nil {
		logger.Warn("oracle cache put failed", zap.String("key", key), zap.Error(err))
	}
	return res
}

// age 按缓存时间扣减剩余冷却
func (o *CachedOracle) age(r Result) Result {
	if r.Outcome != OutcomeOK || r.CanClaim {
		return r
	}
	r.CooldownRemaining -= o.now().Sub(r.ObservedAt)
	if r.CooldownRemaining <= 0 {
		r.CooldownRemaining = 0
		r.CanClaim = true
	}
	return r
}

// Invalidate 提交领取后清除缓存，迫使下次查询回到链上
func (o *CachedOracle) Invalidate(ctx context.Context, q Query) {
	if err := o.cache.Invalidate(ctx, q.Key()); err != nil {
		logger.Warn("oracle cache invalidate failed", zap.String("key", q.Key()), zap.Error(err))
	}
}
