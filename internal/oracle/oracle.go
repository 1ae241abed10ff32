// Package oracle 查询链上合约的领取冷却状态
//
// 链上状态只作为第二道校验: 查询失败时放行 (fail open)，
// 数据库冷却记录始终是第一道闸门。
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/circuitbreaker"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// Outcome 查询结果类型
type Outcome int

const (
	// OutcomeOK 链上返回了冷却状态
	OutcomeOK Outcome = iota
	// OutcomeNotMetered 合约不记录冷却，视为可领取
	OutcomeNotMetered
	// OutcomeChainQueryFailed RPC 失败、超时或熔断，视为可领取
	OutcomeChainQueryFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotMetered:
		return "not_metered"
	case OutcomeChainQueryFailed:
		return "chain_query_failed"
	default:
		return "unknown"
	}
}

// Query 冷却查询参数
type Query struct {
	ChainID   int64
	Wallet    common.Address
	AssetType model.AssetType
	Contract  common.Address
	// Cooldown 仅用于按 lastMintTime 推算剩余时间
	Cooldown time.Duration
}

// Key 缓存键 (chainId, wallet, assetType, contract)，地址统一小写
func (q Query) Key() string {
	return fmt.Sprintf("%d:%s:%s:%s",
		q.ChainID,
		strings.ToLower(q.Wallet.Hex()),
		q.AssetType,
		strings.ToLower(q.Contract.Hex()))
}

// Result 查询结果
type Result struct {
	CanClaim          bool          `json:"can_claim"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Outcome           Outcome       `json:"outcome"`
	ObservedAt        time.Time     `json:"observed_at"`
	// Err 查询失败的原因，仅 OutcomeChainQueryFailed 时有值
	Err error `json:"-"`
}

// Oracle 链上冷却查询
type Oracle interface {
	QueryCooldown(ctx context.Context, q Query) Result
}

// CallerSource 按链获取只读调用客户端
type CallerSource interface {
	Caller(ctx context.Context, chainID int64) (contract.Caller, error)
}

// PoolSource 将客户端池适配为 CallerSource
type PoolSource struct {
	Pool *blockchain.ClientPool
}

// Caller 获取链客户端
func (s PoolSource) Caller(ctx context.Context, chainID int64) (contract.Caller, error) {
	c, err := s.Pool.Get(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ChainOracle 直接查询链上合约
type ChainOracle struct {
	callers  CallerSource
	breakers *circuitbreaker.Registry
	timeout  time.Duration
	now      func() time.Time
}

// NewChainOracle 创建链上查询器，timeout 为单次查询上限
func NewChainOracle(callers CallerSource, breakers *circuitbreaker.Registry, timeout time.Duration) *ChainOracle {
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ChainOracle{
		callers:  callers,
		breakers: breakers,
		timeout:  timeout,
		now:      time.Now,
	}
}

// SetClock 替换时钟，测试用
func (o *ChainOracle) SetClock(now func() time.Time) {
	o.now = now
}

func breakerName(chainID int64) string {
	return fmt.Sprintf("chain-%d", chainID)
}

// QueryCooldown 查询钱包在链上的剩余冷却，任何失败都放行
func (o *ChainOracle) QueryCooldown(ctx context.Context, q Query) Result {
	now := o.now()

	var (
		remaining  time.Duration
		notMetered bool
	)
	err := o.breakers.Execute(breakerName(q.ChainID), func() error {
		qctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		var err error
		remaining, err = o.query(qctx, q, now)
		if errors.Is(err, contract.ErrNotMetered) {
			notMetered = true
			return nil
		}
		return err
	})

	res := Result{CanClaim: true, ObservedAt: now}
	switch {
	case err != nil:
		res.Outcome = OutcomeChainQueryFailed
		res.Err = err
		logger.Warn("chain cooldown query failed, allowing claim",
			zap.Int64("chain_id", q.ChainID),
			zap.String("wallet", q.Wallet.Hex()),
			zap.String("asset_type", q.AssetType.String()),
			zap.Error(err))
	case notMetered:
		res.Outcome = OutcomeNotMetered
	default:
		res.Outcome = OutcomeOK
		res.CooldownRemaining = remaining
		res.CanClaim = remaining <= 0
	}

	metrics.RecordOracleQuery(res.Outcome.String())
	return res
}

func (o *ChainOracle) query(ctx context.Context, q Query, now time.Time) (time.Duration, error) {
	caller, err := o.callers.Caller(ctx, q.ChainID)
	if err != nil {
		return 0, err
	}

	var last time.Time
	switch q.AssetType {
	case model.AssetTypeNative:
		return contract.NewFaucetContract(q.Contract).RemainingCooldown(ctx, caller, q.Wallet)
	case model.AssetTypeERC20:
		last, err = contract.NewTokenContract(q.Contract).LastMintTime(ctx, caller, q.Wallet)
	case model.AssetTypeNFT:
		last, err = contract.NewNFTContract(q.Contract).LastMintTime(ctx, caller, q.Wallet)
	default:
		return 0, contract.ErrNotMetered
	}
	if err != nil || last.IsZero() {
		return 0, err
	}
	return remainingSince(last, q.Cooldown, now), nil
}

// remainingSince 按上次铸造时间推算剩余冷却，向上取整到秒
func remainingSince(last time.Time, cooldown time.Duration, now time.Time) time.Duration {
	rem := last.Add(cooldown).Sub(now)
	if rem <= 0 {
		return 0
	}
	if r := rem % time.Second; r != 0 {
		if rem > contract.MaxCooldown-time.Second {
			return contract.MaxCooldown
		}
		rem += time.Second - r
	}
	return rem
}
