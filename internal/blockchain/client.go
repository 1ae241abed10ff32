package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrNoHealthyRPC    = errors.New("no healthy RPC endpoint available")
	ErrNoSigner        = errors.New("private key not configured")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrChainIDMismatch = errors.New("rpc endpoint reports a different chain id")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 单条链的 RPC 客户端，多个端点间自动切换
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	PrivateKey      string
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
}

// NewClient 创建区块链客户端并连接第一个可用端点
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &Client{
		chainID:         cfg.ChainID,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		healthCheckFreq: cfg.HealthCheckFreq,
	}
	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.retryInterval == 0 {
		c.retryInterval = 200 * time.Millisecond
	}
	if c.healthCheckFreq == 0 {
		c.healthCheckFreq = 30 * time.Second
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	for _, url := range cfg.RPCURLs {
		c.endpoints = append(c.endpoints, &RPCEndpoint{URL: url, IsHealthy: true})
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect 连接到可用的 RPC 并核对 chain id
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mismatch error
	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			ep.markUnhealthy()
			continue
		}

		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			ep.markUnhealthy()
			continue
		}
		if id.Int64() != c.chainID {
			client.Close()
			ep.markUnhealthy()
			mismatch = fmt.Errorf("%w: %s reports %d, want %d", ErrChainIDMismatch, ep.URL, id.Int64(), c.chainID)
			continue
		}

		if c.client != nil {
			c.client.Close()
		}
		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	if mismatch != nil {
		return mismatch
	}
	return ErrNoHealthyRPC
}

func (ep *RPCEndpoint) markUnhealthy() {
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

func (c *Client) markCurrentUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentIdx < len(c.endpoints) {
		c.endpoints[c.currentIdx].markUnhealthy()
	}
}

// IsNodeError 节点返回的 JSON-RPC 错误 (如 revert)，换端点重试无意义
func IsNodeError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// withRetry 只读调用的重试，节点错误和 ctx 结束不重试
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		client, err := c.getClient(ctx)
		if err == nil {
			err = fn(client)
			if err == nil || IsNodeError(err) || errors.Is(err, ethereum.NotFound) {
				return err
			}
			c.markCurrentUnhealthy()
		}
		lastErr = err

		if ctx.Err() != nil || i == c.maxRetries-1 {
			break
		}
		_ = c.connect(ctx)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(c.retryInterval):
		}
	}
	return lastErr
}

// Address 返回热钱包地址
func (c *Client) Address() common.Address {
	return c.address
}

// HasSigner 是否配置了私钥
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// ChainID 返回链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		n, err = client.BlockNumber(ctx)
		return err
	})
	return n, err
}

// TransactionReceipt 获取交易回执，未上链返回 ErrTxNotFound
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	return receipt, err
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		price, err = client.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas 估算 Gas，执行失败时返回节点的 revert 错误
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// CallContract 调用合约 (只读)
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

// SendTransaction 广播交易，只发送一次
// 超时或连接错误时交易可能已被节点接收，重发会造成重复领取
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	err = client.SendTransaction(ctx, tx)
	if err != nil && !IsNodeError(err) {
		c.markCurrentUnhealthy()
	}
	return err
}

// SignTransaction 签名交易
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	signer := types.NewEIP155Signer(big.NewInt(c.chainID))
	return types.SignTx(tx, signer, c.privateKey)
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// HealthyEndpoints 健康的端点数量
func (c *Client) HealthyEndpoints() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			n++
		}
	}
	return n
}
