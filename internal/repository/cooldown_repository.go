package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
)

// CooldownRepository 冷却记录仓储，只追加
type CooldownRepository interface {
	// LatestSince 最新一条 last_claim_at > since 的记录，没有时返回 nil
	LatestSince(ctx context.Context, key model.CooldownKey, since int64) (*model.CooldownRecord, error)
	// Latest 最新一条记录，没有时返回 nil
	Latest(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error)
	Create(ctx context.Context, record *model.CooldownRecord) error
	// PurgeBefore 删除 last_claim_at < before 的记录
	PurgeBefore(ctx context.Context, before int64) (int64, error)
}

type cooldownRepository struct {
	*Repository
}

// NewCooldownRepository 创建冷却记录仓储
func NewCooldownRepository(db *gorm.DB) CooldownRepository {
	return &cooldownRepository{Repository: NewRepository(db)}
}

func (r *cooldownRepository) byKey(ctx context.Context, key model.CooldownKey) *gorm.DB {
	return r.DB(ctx).
		Where("user_id = ? AND asset_type = ? AND chain_id = ?", key.UserID, key.AssetType, key.ChainID)
}

func (r *cooldownRepository) LatestSince(ctx context.Context, key model.CooldownKey, since int64) (*model.CooldownRecord, error) {
	var rec model.CooldownRecord
	err := r.byKey(ctx, key).
		Where("last_claim_at > ?", since).
		Order("last_claim_at DESC, id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *cooldownRepository) Latest(ctx context.Context, key model.CooldownKey) (*model.CooldownRecord, error) {
	var rec model.CooldownRecord
	err := r.byKey(ctx, key).
		Order("last_claim_at DESC, id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *cooldownRepository) Create(ctx context.Context, record *model.CooldownRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UnixMilli()
	}
	return r.DB(ctx).Create(record).Error
}

func (r *cooldownRepository) PurgeBefore(ctx context.Context, before int64) (int64, error) {
	result := r.DB(ctx).Where("last_claim_at < ?", before).Delete(&model.CooldownRecord{})
	return result.RowsAffected, result.Error
}
