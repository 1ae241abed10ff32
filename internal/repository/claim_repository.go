package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
)

var (
	ErrClaimNotFound = errors.New("claim not found")
)

// PendingCursor pending 领取的轮询位置，按 (created_at, id) 递增，零值从头开始
type PendingCursor struct {
	CreatedAt int64
	ID        string
}

// ClaimRepository 领取记录仓储
type ClaimRepository interface {
	Create(ctx context.Context, claim *model.ClaimRecord) error
	GetByID(ctx context.Context, id string) (*model.ClaimRecord, error)
	// CountActive 统计未失败的领取次数
	CountActive(ctx context.Context, key model.CooldownKey) (int64, error)
	// ListPending 返回 after 之后的 pending 领取
	ListPending(ctx context.Context, after PendingCursor, limit int) ([]*model.ClaimRecord, error)
	CountPending(ctx context.Context) (int64, error)
	// UpdateStatus 仅更新仍为 pending 的记录
	UpdateStatus(ctx context.Context, id string, status model.ClaimStatus, blockNumber, gasUsed int64) error
	ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.ClaimRecord, error)
}

type claimRepository struct {
	*Repository
}

// NewClaimRepository 创建领取记录仓储
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{Repository: NewRepository(db)}
}

func (r *claimRepository) Create(ctx context.Context, claim *model.ClaimRecord) error {
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if claim.CreatedAt == 0 {
		claim.CreatedAt = now
	}
	claim.UpdatedAt = now
	return r.DB(ctx).Create(claim).Error
}

func (r *claimRepository) GetByID(ctx context.Context, id string) (*model.ClaimRecord, error) {
	var claim model.ClaimRecord
	err := r.DB(ctx).Where("id = ?", id).Take(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) CountActive(ctx context.Context, key model.CooldownKey) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.ClaimRecord{}).
		Where("user_id = ? AND asset_type = ? AND chain_id = ? AND status <> ?",
			key.UserID, key.AssetType, key.ChainID, model.ClaimStatusFailed).
		Count(&n).Error
	return n, err
}

func (r *claimRepository) ListPending(ctx context.Context, after PendingCursor, limit int) ([]*model.ClaimRecord, error) {
	var claims []*model.ClaimRecord
	err := r.DB(ctx).
		Where("status = ?", model.ClaimStatusPending).
		Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&claims).Error
	return claims, err
}

func (r *claimRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.ClaimRecord{}).
		Where("status = ?", model.ClaimStatusPending).
		Count(&n).Error
	return n, err
}

func (r *claimRepository) UpdateStatus(ctx context.Context, id string, status model.ClaimStatus, blockNumber, gasUsed int64) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":       status,
		"block_number": blockNumber,
		"gas_used":     gasUsed,
		"updated_at":   now,
	}
	if status.IsTerminal() {
		updates["confirmed_at"] = now
	}

	result := r.DB(ctx).Model(&model.ClaimRecord{}).
		Where("id = ? AND status = ?", id, model.ClaimStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func (r *claimRepository) ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.ClaimRecord, error) {
	var claims []*model.ClaimRecord

	query := r.DB(ctx).Model(&model.ClaimRecord{}).Where("user_id = ?", userID)
	if err := query.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&claims).Error
	return claims, err
}
