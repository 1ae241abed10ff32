// Package service 水龙头领取业务
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/cooldown"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/alert"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// 交易上链后写库的重试次数与超时，与请求是否取消无关
const (
	persistRetries = 3
	persistTimeout = 10 * time.Second
)

// CooldownOracle 带缓存失效能力的链上冷却查询
type CooldownOracle interface {
	oracle.Oracle
	Invalidate(ctx context.Context, q oracle.Query)
}

// ClaimRequest 领取请求，UserID 由上游鉴权层提供
type ClaimRequest struct {
	UserID        string `json:"user_id"`
	ChainID       int64  `json:"chain_id"`
	AssetType     string `json:"asset_type"`
	WalletAddress string `json:"wallet_address"`
}

// ClaimResult 领取成功结果
type ClaimResult struct {
	ClaimID                 string          `json:"claim_id"`
	TransactionHash         string          `json:"transaction_hash"`
	ChainID                 int64           `json:"chain_id"`
	AssetType               model.AssetType `json:"asset_type"`
	Amount                  string          `json:"amount,omitempty"`
	TokenID                 string          `json:"token_id,omitempty"`
	EstimatedConfirmSeconds int             `json:"estimated_confirm_seconds"`
}

// AssetLimit 单个资产的领取额度
type AssetLimit struct {
	AssetType      model.AssetType `json:"asset_type"`
	Remaining      int             `json:"remaining"`
	CooldownEndsAt *time.Time      `json:"cooldown_ends_at,omitempty"`
	TimeRemaining  string          `json:"time_remaining,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// ClaimServiceDeps 领取服务依赖
type ClaimServiceDeps struct {
	Catalog   ChainCatalog
	Claims    repository.ClaimRepository
	Tx        repository.Transactor
	Store     *cooldown.Store
	Oracle    CooldownOracle
	Locker    *cooldown.ClaimLocker
	Submitter Submitter
	Publisher kafka.Publisher
	Alerter   alert.Alerter
}

// ClaimService 领取编排
//
// 流程: 链配置 -> NFT 数量上限 -> 数据库冷却 -> 链上对账 -> 提交交易 -> 写领取记录与冷却记录。
// 同一 (用户, 资产, 链) 的整个流程在 ClaimLocker 内串行执行。
type ClaimService struct {
	catalog    ChainCatalog
	claims     repository.ClaimRepository
	tx         repository.Transactor
	store      *cooldown.Store
	oracle     CooldownOracle
	reconciler *cooldown.Reconciler
	locker     *cooldown.ClaimLocker
	submitter  Submitter
	publisher  kafka.Publisher
	alerter    alert.Alerter
}

// NewClaimService 创建领取服务
func NewClaimService(deps ClaimServiceDeps) *ClaimService {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	alerter := deps.Alerter
	if alerter == nil {
		alerter = alert.NoopAlerter{}
	}
	return &ClaimService{
		catalog:    deps.Catalog,
		claims:     deps.Claims,
		tx:         deps.Tx,
		store:      deps.Store,
		oracle:     deps.Oracle,
		reconciler: cooldown.NewReconciler(deps.Store, deps.Oracle),
		locker:     deps.Locker,
		submitter:  deps.Submitter,
		publisher:  publisher,
		alerter:    alerter,
	}
}

// claimTarget 校验通过的领取目标
type claimTarget struct {
	key      model.CooldownKey
	chain    *model.Chain
	contract common.Address
	wallet   common.Address
	cooldown time.Duration
}

func (t *claimTarget) query() oracle.Query {
	return oracle.Query{
		ChainID:   t.key.ChainID,
		Wallet:    t.wallet,
		AssetType: t.key.AssetType,
		Contract:  t.contract,
		Cooldown:  t.cooldown,
	}
}

// Claim 执行一次领取
func (s *ClaimService) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResult, error) {
	start := time.Now()
	res, err := s.claim(ctx, req)

	result := "success"
	if err != nil {
		result = strings.ToLower(errors.GetCode(err))
	}
	metrics.RecordClaim(strings.ToLower(req.AssetType), result, time.Since(start).Seconds())
	return res, err
}

func (s *ClaimService) claim(ctx context.Context, req *ClaimRequest) (*ClaimResult, error) {
	target, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	ctx = logger.NewContext(ctx,
		zap.String("user_id", target.key.UserID),
		zap.Int64("chain_id", target.key.ChainID),
		zap.String("asset_type", target.key.AssetType.String()))

	var result *ClaimResult
	err = s.locker.WithKey(ctx, target.key, func(ctx context.Context) error {
		if err := s.checkLimits(ctx, target); err != nil {
			return err
		}

		var err error
		result, err = s.submitAndRecord(ctx, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolve 校验请求并查找链与资产配置
func (s *ClaimService) resolve(req *ClaimRequest) (*claimTarget, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, errors.ErrInvalidRequest.WithDetail("field", "user_id")
	}
	if !common.IsHexAddress(req.WalletAddress) {
		return nil, errors.ErrInvalidRequest.WithDetail("field", "wallet_address")
	}
	asset, err := model.ParseAssetType(req.AssetType)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, err).WithDetail("field", "asset_type")
	}

	chain, contractAddr, err := s.catalog.AssetContract(req.ChainID, asset)
	if err != nil {
		return nil, err
	}

	return &claimTarget{
		key:      model.CooldownKey{UserID: userID, AssetType: asset, ChainID: chain.ChainID},
		chain:    chain,
		contract: contractAddr,
		wallet:   common.HexToAddress(req.WalletAddress),
		cooldown: chain.Cooldown(asset),
	}, nil
}

// checkLimits 数量上限与冷却检查，数据库拒绝时不访问链
func (s *ClaimService) checkLimits(ctx context.Context, t *claimTarget) error {
	log := logger.WithContext(ctx)

	if t.key.AssetType == model.AssetTypeNFT && t.chain.HasMintLimit() {
		minted, err := s.claims.CountActive(ctx, t.key)
		if err != nil {
			log.Warn("nft mint count failed, denying claim", zap.Error(err))
			return errors.Wrap(errors.ErrInternal, err)
		}
		if minted >= int64(t.chain.NFTMintLimit) {
			log.Info("claim denied by nft mint limit",
				zap.Int64("minted", minted),
				zap.Int("limit", t.chain.NFTMintLimit))
			return errors.ErrMintLimitReached.WithDetails(map[string]string{
				"minted": strconv.FormatInt(minted, 10),
				"limit":  strconv.Itoa(t.chain.NFTMintLimit),
			})
		}
	}

	limit, err := s.store.CheckLimit(ctx, t.key, t.cooldown)
	if err != nil {
		return err
	}
	now := s.store.Now()
	if !limit.Allowed {
		log.Info("claim denied by cooldown record",
			zap.Time("cooldown_ends_at", limit.CooldownEndsAt))
		return rateLimited(limit.Remaining(now), limit.CooldownEndsAt)
	}

	v := s.reconciler.Reconcile(ctx, t.key, t.query(), t.cooldown)
	if !v.Allowed {
		log.Info("claim denied by chain cooldown",
			zap.Duration("remaining", v.Remaining),
			zap.Bool("backfilled", v.Backfilled))
		return rateLimited(v.Remaining, v.CooldownEndsAt)
	}
	return nil
}

func rateLimited(remaining time.Duration, endsAt time.Time) error {
	return errors.ErrRateLimitExceeded.WithDetails(map[string]string{
		"time_remaining":   FormatRemaining(remaining),
		"cooldown_ends_at": endsAt.UTC().Format(time.RFC3339),
	})
}

func (s *ClaimService) submit(ctx context.Context, t *claimTarget) (*TxResult, error) {
	switch t.key.AssetType {
	case model.AssetTypeNative:
		return s.submitter.ClaimNative(ctx, t.key.ChainID, t.wallet)
	case model.AssetTypeERC20:
		return s.submitter.ClaimERC20(ctx, t.key.ChainID, t.wallet)
	case model.AssetTypeNFT:
		return s.submitter.ClaimNFT(ctx, t.key.ChainID, t.wallet)
	}
	return nil, errors.ErrInvalidRequest
}

// submitAndRecord 提交交易并写入领取记录和冷却记录
func (s *ClaimService) submitAndRecord(ctx context.Context, t *claimTarget) (*ClaimResult, error) {
	log := logger.WithContext(ctx)

	tx, err := s.submit(ctx, t)
	if err != nil {
		log.Warn("claim submission failed", zap.String("code", errors.GetCode(err)), zap.Error(err))
		return nil, err
	}

	// 交易已广播，之后的写库不受请求取消影响
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	defer s.oracle.Invalidate(pctx, t.query())

	now := s.store.Now()
	claim := &model.ClaimRecord{
		ID:            uuid.NewString(),
		UserID:        t.key.UserID,
		AssetType:     t.key.AssetType,
		AssetAddress:  tx.AssetAddress.Hex(),
		ChainID:       t.key.ChainID,
		WalletAddress: t.wallet.Hex(),
		Amount:        tx.Amount,
		TxHash:        tx.TxHash.Hex(),
		Status:        model.ClaimStatusPending,
		CreatedAt:     now.UnixMilli(),
		UpdatedAt:     now.UnixMilli(),
	}
	if tx.TokenID != nil {
		claim.TokenID = tx.TokenID.String()
	}

	err = s.tx.TransactionWithRetry(pctx, persistRetries, func(ctx context.Context) error {
		if err := s.claims.Create(ctx, claim); err != nil {
			return err
		}
		_, err := s.store.RecordClaim(ctx, t.key, t.cooldown)
		return err
	})
	if err != nil {
		s.reportUnrecorded(pctx, claim, err)
		return nil, errors.Wrap(errors.ErrPersistenceFailure, err).WithDetail("tx_hash", claim.TxHash)
	}

	log.Info("claim recorded",
		zap.String("claim_id", claim.ID),
		zap.String("tx_hash", claim.TxHash),
		zap.String("wallet", claim.WalletAddress))

	s.publishSubmitted(pctx, claim)

	res := &ClaimResult{
		ClaimID:                 claim.ID,
		TransactionHash:         claim.TxHash,
		ChainID:                 claim.ChainID,
		AssetType:               claim.AssetType,
		TokenID:                 claim.TokenID,
		EstimatedConfirmSeconds: t.chain.EstimatedConfirmSeconds,
	}
	if t.key.AssetType != model.AssetTypeNFT {
		res.Amount = tx.Amount.String()
	}
	return res, nil
}

// reportUnrecorded 交易已上链但本地没有记录，需要人工介入
func (s *ClaimService) reportUnrecorded(ctx context.Context, claim *model.ClaimRecord, cause error) {
	logger.WithContext(ctx).Error("CRITICAL: claim submitted on-chain but not recorded",
		zap.String("anomaly", "unrecorded_claim"),
		zap.String("tx_hash", claim.TxHash),
		zap.String("wallet", claim.WalletAddress),
		zap.String("amount", claim.Amount.String()),
		zap.String("token_id", claim.TokenID),
		zap.Error(cause))

	metrics.RecordUnrecordedClaim(claim.AssetType.String(), strconv.FormatInt(claim.ChainID, 10))

	s.alerter.SendAsync(&alert.Alert{
		Title:    "Faucet claim not recorded",
		Message:  fmt.Sprintf("tx %s on chain %d moved %s to %s without a local record", claim.TxHash, claim.ChainID, claim.AssetType, claim.WalletAddress),
		Severity: alert.SeverityCritical,
		Source:   "claim_service",
		Tags: map[string]string{
			"user_id":    claim.UserID,
			"chain_id":   strconv.FormatInt(claim.ChainID, 10),
			"asset_type": claim.AssetType.String(),
			"tx_hash":    claim.TxHash,
		},
	})
}

func (s *ClaimService) publishSubmitted(ctx context.Context, claim *model.ClaimRecord) {
	event := &model.ClaimSubmittedEvent{
		ClaimID:       claim.ID,
		UserID:        claim.UserID,
		AssetType:     claim.AssetType,
		ChainID:       claim.ChainID,
		WalletAddress: claim.WalletAddress,
		TokenID:       claim.TokenID,
		TxHash:        claim.TxHash,
		SubmittedAt:   claim.CreatedAt,
	}
	if claim.AssetType != model.AssetTypeNFT {
		event.Amount = claim.Amount.String()
	}
	if err := s.publisher.PublishClaimSubmitted(ctx, event); err != nil {
		logger.WithContext(ctx).Warn("publish claim submitted event failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err))
	}
}

// GetLimits 查询用户在某条链上各资产的剩余额度
// wallet 为空时只看数据库记录；数据库放行时才查询链
func (s *ClaimService) GetLimits(ctx context.Context, userID string, chainID int64, wallet string) ([]AssetLimit, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.ErrInvalidRequest.WithDetail("field", "user_id")
	}
	if wallet != "" && !common.IsHexAddress(wallet) {
		return nil, errors.ErrInvalidRequest.WithDetail("field", "wallet_address")
	}
	chain, err := s.catalog.Get(chainID)
	if err != nil {
		return nil, err
	}

	var assets []model.AssetType
	for _, a := range model.AllAssetTypes {
		if _, ok := chain.AssetContract(a); ok {
			assets = append(assets, a)
		}
	}

	limits := make([]AssetLimit, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			t := &claimTarget{
				key:      model.CooldownKey{UserID: userID, AssetType: asset, ChainID: chainID},
				chain:    chain,
				cooldown: chain.Cooldown(asset),
			}
			t.contract, _ = chain.AssetContract(asset)
			if wallet != "" {
				t.wallet = common.HexToAddress(wallet)
			}
			limits[i] = s.assetLimit(gctx, t, wallet != "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return limits, nil
}

func (s *ClaimService) assetLimit(ctx context.Context, t *claimTarget, withChain bool) AssetLimit {
	l := AssetLimit{AssetType: t.key.AssetType}

	if t.key.AssetType == model.AssetTypeNFT && t.chain.HasMintLimit() {
		minted, err := s.claims.CountActive(ctx, t.key)
		if err != nil {
			l.Reason = errors.ErrInternal.Code
			return l
		}
		if minted >= int64(t.chain.NFTMintLimit) {
			l.Reason = errors.ErrMintLimitReached.Code
			return l
		}
	}

	now := s.store.Now()
	limit, err := s.store.CheckLimit(ctx, t.key, t.cooldown)
	if err != nil {
		l.Reason = errors.ErrInternal.Code
		return l
	}
	if !limit.Allowed {
		return deniedLimit(l, limit.Remaining(now), limit.CooldownEndsAt)
	}

	if withChain {
		res := s.oracle.QueryCooldown(ctx, t.query())
		if !res.CanClaim {
			return deniedLimit(l, res.CooldownRemaining, now.Add(res.CooldownRemaining))
		}
	}

	l.Remaining = 1
	return l
}

func deniedLimit(l AssetLimit, remaining time.Duration, endsAt time.Time) AssetLimit {
	l.Remaining = 0
	l.CooldownEndsAt = &endsAt
	l.TimeRemaining = FormatRemaining(remaining)
	l.Reason = errors.ErrRateLimitExceeded.Code
	return l
}

// GetClaim 查询领取记录
func (s *ClaimService) GetClaim(ctx context.Context, id string) (*model.ClaimRecord, error) {
	claim, err := s.claims.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, repository.ErrClaimNotFound) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap(errors.ErrInternal, err)
	}
	return claim, nil
}

// ListClaims 分页查询用户的领取记录
func (s *ClaimService) ListClaims(ctx context.Context, userID string, page *repository.Pagination) ([]*model.ClaimRecord, error) {
	claims, err := s.claims.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err)
	}
	return claims, nil
}

// FormatRemaining 剩余时间的展示文本，如 "2h 15m"、"23h"、"45m"，不足一分钟显示秒
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		secs := int64((d + time.Second - 1) / time.Second)
		return fmt.Sprintf("%ds", secs)
	}

	mins := int64(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	h, m := mins/60, mins%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
