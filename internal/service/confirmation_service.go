package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/kafka"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// ConfirmationService 轮询 pending 领取的交易回执，更新为 confirmed 或 failed
type ConfirmationService struct {
	claims    repository.ClaimRepository
	clients   ClientProvider
	publisher kafka.Publisher
	interval  time.Duration
	batchSize int
	// maxPendingAge 超过该时长仍查不到回执的交易视为已丢弃，0 表示不过期
	maxPendingAge time.Duration

	// cursor 跨轮次推进，扫到末尾后回到起点
	cursor repository.PendingCursor
}

// NewConfirmationService 创建确认服务
func NewConfirmationService(claims repository.ClaimRepository, clients ClientProvider, publisher kafka.Publisher, interval time.Duration, batchSize int, maxPendingAge time.Duration) *ConfirmationService {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ConfirmationService{
		claims:    claims,
		clients:   clients,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,

		maxPendingAge: maxPendingAge,
	}
}

// Run 按间隔轮询，ctx 取消后返回
func (s *ConfirmationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("confirmation loop started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("confirmation loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error("confirmation round failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 处理一批 pending 领取，返回进入终态的数量
func (s *ConfirmationService) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.claims.ListPending(ctx, s.cursor, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) < s.batchSize {
		s.cursor = repository.PendingCursor{}
	} else {
		last := pending[len(pending)-1]
		s.cursor = repository.PendingCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	settled := 0
	for _, claim := range pending {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.check(ctx, claim)
		if err != nil {
			logger.Warn("check claim receipt failed",
				zap.String("claim_id", claim.ID),
				zap.Int64("chain_id", claim.ChainID),
				zap.String("tx_hash", claim.TxHash),
				zap.Error(err))
			continue
		}
		if ok {
			settled++
		}
	}

	if n, err := s.claims.CountPending(ctx); err == nil {
		metrics.SetPendingClaims(n)
	}
	return settled, nil
}

// check 回执未出现时保持 pending，直到超过 maxPendingAge
func (s *ConfirmationService) check(ctx context.Context, claim *model.ClaimRecord) (bool, error) {
	client, err := s.clients.Get(ctx, claim.ChainID)
	if err != nil {
		return false, err
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(claim.TxHash))
	if stderrors.Is(err, blockchain.ErrTxNotFound) {
		if !s.expired(claim) {
			return false, nil
		}
		logger.Warn("claim transaction dropped",
			zap.String("claim_id", claim.ID),
			zap.Int64("chain_id", claim.ChainID),
			zap.String("tx_hash", claim.TxHash),
			zap.Duration("max_pending_age", s.maxPendingAge))
		return s.settle(ctx, claim, model.ClaimStatusFailed, 0, 0)
	}
	if err != nil {
		return false, err
	}

	status := model.ClaimStatusConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = model.ClaimStatusFailed
	}
	var block int64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Int64()
	}
	gasUsed := int64(receipt.GasUsed)

	if status == model.ClaimStatusFailed {
		logger.Warn("claim transaction failed on chain",
			zap.String("claim_id", claim.ID),
			zap.String("tx_hash", claim.TxHash),
			zap.Int64("block", block))
	}
	return s.settle(ctx, claim, status, block, gasUsed)
}

func (s *ConfirmationService) expired(claim *model.ClaimRecord) bool {
	if s.maxPendingAge <= 0 {
		return false
	}
	return time.Since(time.UnixMilli(claim.CreatedAt)) > s.maxPendingAge
}

// settle 写入终态并发布确认事件
func (s *ConfirmationService) settle(ctx context.Context, claim *model.ClaimRecord, status model.ClaimStatus, block, gasUsed int64) (bool, error) {
	if err := s.claims.UpdateStatus(ctx, claim.ID, status, block, gasUsed); err != nil {
		if stderrors.Is(err, repository.ErrClaimNotFound) {
			// 已被其他实例处理
			return false, nil
		}
		return false, err
	}
	metrics.RecordConfirmation(status.String())

	event := &model.ClaimConfirmedEvent{
		ClaimID:     claim.ID,
		ChainID:     claim.ChainID,
		TxHash:      claim.TxHash,
		Status:      status.String(),
		BlockNumber: block,
		GasUsed:     gasUsed,
		ConfirmedAt: time.Now().UnixMilli(),
	}
	if err := s.publisher.PublishClaimConfirmed(ctx, event); err != nil {
		logger.Warn("publish claim confirmed event failed",
			zap.String("claim_id", claim.ID),
			zap.Error(err))
	}
	return true, nil
}
