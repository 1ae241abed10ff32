package service

import (
	"context"
	stderrors "errors"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

// ChainCatalog 链配置
type ChainCatalog interface {
	Get(chainID int64) (*model.Chain, error)
	AssetContract(chainID int64, asset model.AssetType) (*model.Chain, common.Address, error)
	Chains() []*model.Chain
}

// ClientProvider 按链获取签名客户端
type ClientProvider interface {
	Get(ctx context.Context, chainID int64) (*blockchain.Client, error)
}

// TxResult 已广播的领取交易
type TxResult struct {
	TxHash       common.Hash
	AssetAddress common.Address
	Amount       decimal.Decimal
	// TokenID 仅 NFT，模拟调用未返回时为空
	TokenID *big.Int
}

// Submitter 按资产类型提交领取交易
type Submitter interface {
	ClaimNative(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error)
	ClaimERC20(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error)
	ClaimNFT(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error)
}

// TransactionServiceConfig 配置
type TransactionServiceConfig struct {
	GasMultiplier float64
	SubmitTimeout time.Duration
}

// TransactionService 每条链一个热钱包，同一条链上的提交串行执行
type TransactionService struct {
	catalog ChainCatalog
	clients ClientProvider
	rdb     redis.UniversalClient

	gasMultiplier float64
	submitTimeout time.Duration

	mu      sync.Mutex
	signers map[int64]*chainSigner
}

// chainSigner 单条链的提交通道
type chainSigner struct {
	mu     sync.Mutex
	nonces *blockchain.NonceManager
}

// NewTransactionService 创建交易服务，rdb 为空时 nonce 只在进程内维护
func NewTransactionService(catalog ChainCatalog, clients ClientProvider, rdb redis.UniversalClient, cfg *TransactionServiceConfig) *TransactionService {
	gasMultiplier := cfg.GasMultiplier
	if gasMultiplier < 1 {
		gasMultiplier = 1.2
	}
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout == 0 {
		submitTimeout = 30 * time.Second
	}
	return &TransactionService{
		catalog:       catalog,
		clients:       clients,
		rdb:           rdb,
		gasMultiplier: gasMultiplier,
		submitTimeout: submitTimeout,
		signers:       make(map[int64]*chainSigner),
	}
}

func (s *TransactionService) signer(chainID int64, client *blockchain.Client) *chainSigner {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.signers[chainID]
	if !ok {
		cs = &chainSigner{
			nonces: blockchain.NewNonceManager(client, s.rdb, &blockchain.NonceManagerConfig{
				Wallet:  client.Address(),
				ChainID: chainID,
			}),
		}
		s.signers[chainID] = cs
	}
	return cs
}

// ClaimNative 通过 faucet 合约发放原生币
func (s *TransactionService) ClaimNative(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	chain, faucet, err := s.catalog.AssetContract(chainID, model.AssetTypeNative)
	if err != nil {
		return nil, err
	}
	data, err := contract.NewFaucetContract(faucet).PackClaimNative(recipient)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, err)
	}

	hash, _, err := s.submit(ctx, chainID, model.AssetTypeNative, faucet, data, false)
	if err != nil {
		return nil, err
	}
	return &TxResult{TxHash: hash, AssetAddress: faucet, Amount: chain.Amount(model.AssetTypeNative)}, nil
}

// ClaimERC20 按链配置的数量铸造代币
func (s *TransactionService) ClaimERC20(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	chain, token, err := s.catalog.AssetContract(chainID, model.AssetTypeERC20)
	if err != nil {
		return nil, err
	}
	data, err := contract.NewTokenContract(token).PackMintTo(recipient, chain.ERC20BaseUnits())
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, err)
	}

	hash, _, err := s.submit(ctx, chainID, model.AssetTypeERC20, token, data, false)
	if err != nil {
		return nil, err
	}
	return &TxResult{TxHash: hash, AssetAddress: token, Amount: chain.Amount(model.AssetTypeERC20)}, nil
}

// ClaimNFT 铸造 NFT，tokenId 取自广播前的模拟调用
func (s *TransactionService) ClaimNFT(ctx context.Context, chainID int64, recipient common.Address) (*TxResult, error) {
	chain, nftAddr, err := s.catalog.AssetContract(chainID, model.AssetTypeNFT)
	if err != nil {
		return nil, err
	}
	nft := contract.NewNFTContract(nftAddr)
	data, err := nft.PackMintTo(recipient)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, err)
	}

	hash, simulated, err := s.submit(ctx, chainID, model.AssetTypeNFT, nftAddr, data, true)
	if err != nil {
		return nil, err
	}

	res := &TxResult{TxHash: hash, AssetAddress: nftAddr, Amount: chain.Amount(model.AssetTypeNFT)}
	if id, err := nft.UnpackTokenID(simulated); err == nil {
		res.TokenID = id
	} else {
		logger.Warn("nft token id unavailable from simulation",
			zap.Int64("chain_id", chainID),
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
	}
	return res, nil
}

// submit 模拟、估算 gas、签名并广播一次，不自动重试
func (s *TransactionService) submit(ctx context.Context, chainID int64, asset model.AssetType, to common.Address, data []byte, simulate bool) (common.Hash, []byte, error) {
	start := time.Now()
	hash, simulated, err := s.doSubmit(ctx, chainID, to, data, simulate)

	status := "success"
	if err != nil {
		status = errors.GetCode(err)
	}
	metrics.RecordTxSubmission(asset.String(), status)
	metrics.RecordTxSubmitDuration(strconv.FormatInt(chainID, 10), time.Since(start).Seconds())
	return hash, simulated, err
}

func (s *TransactionService) doSubmit(ctx context.Context, chainID int64, to common.Address, data []byte, simulate bool) (common.Hash, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	client, err := s.clients.Get(ctx, chainID)
	if err != nil {
		var bizErr *errors.Error
		if stderrors.As(err, &bizErr) {
			return common.Hash{}, nil, err
		}
		return common.Hash{}, nil, errors.Wrap(errors.ErrTransactionSubmission, err)
	}
	if !client.HasSigner() {
		return common.Hash{}, nil, errors.Wrap(errors.ErrConfiguration, blockchain.ErrNoSigner)
	}

	cs := s.signer(chainID, client)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	msg := ethereum.CallMsg{From: client.Address(), To: &to, Data: data}

	var simulated []byte
	if simulate {
		simulated, err = client.CallContract(ctx, msg, nil)
		if err != nil {
			return common.Hash{}, nil, contract.ClassifyError(err)
		}
	}

	// 估算失败通常是 revert，原因在广播前即可得到
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, nil, contract.ClassifyError(err)
	}
	gasLimit := uint64(decimal.NewFromInt(int64(gas)).Mul(decimal.NewFromFloat(s.gasMultiplier)).Ceil().IntPart())

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, nil, errors.Wrap(errors.ErrTransactionSubmission, err)
	}

	nonce, err := cs.nonces.Next(ctx)
	if err != nil {
		return common.Hash{}, nil, errors.Wrap(errors.ErrTransactionSubmission, err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := client.SignTransaction(tx)
	if err != nil {
		s.resetNonce(ctx, chainID, cs)
		return common.Hash{}, nil, errors.Wrap(errors.ErrConfiguration, err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		// nonce 已分配但交易未确认被接收，从链上重新同步
		s.resetNonce(ctx, chainID, cs)
		if strings.Contains(strings.ToLower(err.Error()), "nonce too low") {
			logger.Warn("nonce too low, resynced from chain",
				zap.Int64("chain_id", chainID),
				zap.Uint64("nonce", nonce))
		}
		return common.Hash{}, nil, contract.ClassifyError(err)
	}

	logger.Info("claim transaction submitted",
		zap.Int64("chain_id", chainID),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))
	return signed.Hash(), simulated, nil
}

func (s *TransactionService) resetNonce(ctx context.Context, chainID int64, cs *chainSigner) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := cs.nonces.Reset(rctx); err != nil {
		logger.Warn("nonce reset failed", zap.Int64("chain_id", chainID), zap.Error(err))
	}
}
