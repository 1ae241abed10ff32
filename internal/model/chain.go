package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Chain 运行时链配置
type Chain struct {
	ChainID                 int64
	Name                    string
	RPCURLs                 []string
	Active                  bool
	PrivateKey              string
	FaucetContract          common.Address
	ERC20Contract           common.Address
	NFTContract             common.Address
	NativeAmount            decimal.Decimal
	ERC20Amount             decimal.Decimal
	ERC20Decimals           int32
	NFTMintLimit            int
	EstimatedConfirmSeconds int
	Cooldowns               map[AssetType]time.Duration
}

// Cooldown 资产类型的冷却时间
func (c *Chain) Cooldown(t AssetType) time.Duration {
	return c.Cooldowns[t]
}

// MaxCooldown 最长冷却时间
func (c *Chain) MaxCooldown() time.Duration {
	var m time.Duration
	for _, d := range c.Cooldowns {
		if d > m {
			m = d
		}
	}
	return m
}

// AssetContract 资产对应的合约地址，原生币由 faucet 合约发放
func (c *Chain) AssetContract(t AssetType) (common.Address, bool) {
	var addr common.Address
	switch t {
	case AssetTypeNative:
		addr = c.FaucetContract
	case AssetTypeERC20:
		addr = c.ERC20Contract
	case AssetTypeNFT:
		addr = c.NFTContract
	}
	return addr, addr != (common.Address{})
}

// Amount 资产单次领取数量 (展示单位)
func (c *Chain) Amount(t AssetType) decimal.Decimal {
	switch t {
	case AssetTypeNative:
		return c.NativeAmount
	case AssetTypeERC20:
		return c.ERC20Amount
	case AssetTypeNFT:
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

// ERC20BaseUnits 代币数量转换为最小单位
func (c *Chain) ERC20BaseUnits() *big.Int {
	return c.ERC20Amount.Shift(c.ERC20Decimals).BigInt()
}

// HasMintLimit NFT 是否按数量限制领取
func (c *Chain) HasMintLimit() bool {
	return c.NFTMintLimit > 0
}
