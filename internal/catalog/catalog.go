// Package catalog 维护水龙头支持的链及各链资产合约
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/config"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
)

// Catalog 链配置注册表
type Catalog struct {
	mu     sync.RWMutex
	chains map[int64]*model.Chain
}

// New 创建空注册表
func New() *Catalog {
	return &Catalog{chains: make(map[int64]*model.Chain)}
}

// FromConfig 从配置构建注册表，配置需已通过校验
func FromConfig(chains []config.ChainConfig) *Catalog {
	c := New()
	for _, cc := range chains {
		c.Register(&model.Chain{
			ChainID:                 cc.ChainID,
			Name:                    cc.Name,
			RPCURLs:                 cc.RPCURLs,
			Active:                  cc.Active(),
			PrivateKey:              strings.TrimPrefix(cc.PrivateKey, "0x"),
			FaucetContract:          toAddress(cc.FaucetContract),
			ERC20Contract:           toAddress(cc.ERC20Contract),
			NFTContract:             toAddress(cc.NFTContract),
			NativeAmount:            toDecimal(cc.NativeAmount),
			ERC20Amount:             toDecimal(cc.ERC20Amount),
			ERC20Decimals:           cc.ERC20Decimals,
			NFTMintLimit:            cc.NFTMintLimit,
			EstimatedConfirmSeconds: cc.EstimatedConfirmSeconds,
			Cooldowns: map[model.AssetType]time.Duration{
				model.AssetTypeNative: cc.Cooldowns.Native,
				model.AssetTypeERC20:  cc.Cooldowns.ERC20,
				model.AssetTypeNFT:    cc.Cooldowns.NFT,
			},
		})
	}
	return c
}

func toAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func toDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Register 注册或替换链配置
func (c *Catalog) Register(chain *model.Chain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[chain.ChainID] = chain
}

// Lookup 查找链配置，不检查启用状态
func (c *Catalog) Lookup(chainID int64) (*model.Chain, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.chains[chainID]
	return chain, ok
}

// Get 获取可用的链配置
func (c *Catalog) Get(chainID int64) (*model.Chain, error) {
	chain, ok := c.Lookup(chainID)
	if !ok {
		return nil, errors.ErrChainUnsupported
	}
	if !chain.Active {
		return nil, errors.ErrChainInactive
	}
	return chain, nil
}

// AssetContract 获取启用中的链及其资产合约地址
func (c *Catalog) AssetContract(chainID int64, asset model.AssetType) (*model.Chain, common.Address, error) {
	chain, err := c.Get(chainID)
	if err != nil {
		return nil, common.Address{}, err
	}
	addr, ok := chain.AssetContract(asset)
	if !ok {
		return nil, common.Address{}, errors.ErrAssetNotDeployed
	}
	return chain, addr, nil
}

// Chains 启用中的链，按 chain id 排序
func (c *Catalog) Chains() []*model.Chain {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.Chain, 0, len(c.chains))
	for _, chain := range c.chains {
		if chain.Active {
			out = append(out, chain)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// MaxCooldown 所有链中最长的冷却时间
func (c *Catalog) MaxCooldown() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var m time.Duration
	for _, chain := range c.chains {
		if d := chain.MaxCooldown(); d > m {
			m = d
		}
	}
	return m
}
