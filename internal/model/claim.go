package model

import (
	"github.com/shopspring/decimal"
)

// ClaimStatus 领取交易状态
type ClaimStatus int8

const (
	ClaimStatusPending   ClaimStatus = 0 // 已提交待确认
	ClaimStatusConfirmed ClaimStatus = 1 // 已确认
	ClaimStatusFailed    ClaimStatus = 2 // 链上执行失败
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimStatusPending:
		return "pending"
	case ClaimStatusConfirmed:
		return "confirmed"
	case ClaimStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal 判断是否为终态
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusConfirmed || s == ClaimStatusFailed
}

// ClaimRecord 领取记录，仅在交易哈希产生后创建
type ClaimRecord struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_claim_user,priority:1" json:"user_id"`
	AssetType     AssetType       `gorm:"column:asset_type;type:varchar(16);not null;index:idx_claim_user,priority:2" json:"asset_type"`
	AssetAddress  string          `gorm:"column:asset_address;type:varchar(42)" json:"asset_address"`
	ChainID       int64           `gorm:"column:chain_id;type:bigint;not null;index:idx_claim_user,priority:3" json:"chain_id"`
	WalletAddress string          `gorm:"column:wallet_address;type:varchar(42);not null;index" json:"wallet_address"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	TokenID       string          `gorm:"column:token_id;type:varchar(78)" json:"token_id,omitempty"`
	TxHash        string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	Status        ClaimStatus     `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	BlockNumber   int64           `gorm:"column:block_number;type:bigint" json:"block_number,omitempty"`
	GasUsed       int64           `gorm:"column:gas_used;type:bigint" json:"gas_used,omitempty"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	ConfirmedAt   int64           `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at,omitempty"`
	UpdatedAt     int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ClaimRecord) TableName() string {
	return "faucet_claims"
}

// Key 冷却维度
func (c *ClaimRecord) Key() CooldownKey {
	return CooldownKey{UserID: c.UserID, AssetType: c.AssetType, ChainID: c.ChainID}
}

// ClaimSubmittedEvent 领取交易已提交 (发送到 Kafka)
type ClaimSubmittedEvent struct {
	ClaimID       string    `json:"claim_id"`
	UserID        string    `json:"user_id"`
	AssetType     AssetType `json:"asset_type"`
	ChainID       int64     `json:"chain_id"`
	WalletAddress string    `json:"wallet_address"`
	Amount        string    `json:"amount,omitempty"`
	TokenID       string    `json:"token_id,omitempty"`
	TxHash        string    `json:"tx_hash"`
	SubmittedAt   int64     `json:"submitted_at"`
}

// ClaimConfirmedEvent 领取交易确认结果 (发送到 Kafka)
type ClaimConfirmedEvent struct {
	ClaimID     string `json:"claim_id"`
	ChainID     int64  `json:"chain_id"`
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"` // confirmed/failed
	BlockNumber int64  `json:"block_number"`
	GasUsed     int64  `json:"gas_used"`
	ConfirmedAt int64  `json:"confirmed_at"`
}
