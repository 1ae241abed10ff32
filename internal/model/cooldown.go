package model

import (
	"fmt"
	"time"
)

// CooldownSource 冷却记录来源
type CooldownSource string

const (
	CooldownSourceClaim     CooldownSource = "claim"      // 本服务成功领取
	CooldownSourceChainSync CooldownSource = "chain_sync" // 按链上状态回填
)

// CooldownKey 冷却维度 (用户, 资产类型, 链)
type CooldownKey struct {
	UserID    string
	AssetType AssetType
	ChainID   int64
}

func (k CooldownKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.UserID, k.AssetType, k.ChainID)
}

// CooldownRecord 冷却记录，只追加，最新一条生效
type CooldownRecord struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string         `gorm:"column:user_id;type:varchar(64);not null;index:idx_cooldown_key,priority:1" json:"user_id"`
	AssetType   AssetType      `gorm:"column:asset_type;type:varchar(16);not null;index:idx_cooldown_key,priority:2" json:"asset_type"`
	ChainID     int64          `gorm:"column:chain_id;type:bigint;not null;index:idx_cooldown_key,priority:3" json:"chain_id"`
	LastClaimAt int64          `gorm:"column:last_claim_at;type:bigint;not null;index:idx_cooldown_key,priority:4,sort:desc" json:"last_claim_at"`
	ClaimCount  int64          `gorm:"column:claim_count;type:bigint;not null;default:1" json:"claim_count"`
	ResetAt     int64          `gorm:"column:reset_at;type:bigint;not null" json:"reset_at"`
	Source      CooldownSource `gorm:"column:source;type:varchar(16);not null" json:"source"`
	CreatedAt   int64          `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (CooldownRecord) TableName() string {
	return "faucet_cooldown_records"
}

// LastClaimTime 上次领取时间
func (r *CooldownRecord) LastClaimTime() time.Time {
	return time.UnixMilli(r.LastClaimAt)
}
