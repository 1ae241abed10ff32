package blockchain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// ChainSource 链配置来源
type ChainSource interface {
	Get(chainID int64) (*model.Chain, error)
}

// PoolOptions 客户端公共参数
type PoolOptions struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// ClientPool 按链懒加载客户端，创建后在进程生命周期内复用
type ClientPool struct {
	chains ChainSource
	opts   PoolOptions

	mu      sync.Mutex
	entries map[int64]*poolEntry
}

type poolEntry struct {
	mu     sync.Mutex
	client *Client
}

// NewClientPool 创建客户端池
func NewClientPool(chains ChainSource, opts PoolOptions) *ClientPool {
	return &ClientPool{
		chains:  chains,
		opts:    opts,
		entries: make(map[int64]*poolEntry),
	}
}

func (p *ClientPool) entry(chainID int64) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[chainID]
	if !ok {
		e = &poolEntry{}
		p.entries[chainID] = e
	}
	return e
}

// Get 获取链客户端，首次调用时建立连接；连接失败不缓存
func (p *ClientPool) Get(ctx context.Context, chainID int64) (*Client, error) {
	chain, err := p.chains.Get(chainID)
	if err != nil {
		return nil, err
	}

	e := p.entry(chainID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	client, err := NewClient(ctx, &ClientConfig{
		ChainID:       chain.ChainID,
		PrivateKey:    chain.PrivateKey,
		RPCURLs:       chain.RPCURLs,
		MaxRetries:    p.opts.MaxRetries,
		RetryInterval: p.opts.RetryInterval,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("chain client connected",
		zap.Int64("chain_id", chainID),
		zap.String("chain", chain.Name),
		zap.String("faucet_wallet", client.Address().Hex()))
	e.client = client
	return client, nil
}

// Size 已建立的客户端数量
func (p *ClientPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		e.mu.Lock()
		if e.client != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// Close 关闭所有客户端
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.mu.Lock()
		if e.client != nil {
			e.client.Close()
			e.client = nil
		}
		e.mu.Unlock()
	}
}
