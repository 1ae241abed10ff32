// Package chaintest 提供进程内的 JSON-RPC 假节点，供链相关代码测试使用
package chaintest

import (
	"context"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// CallFunc 处理 eth_call / eth_estimateGas
type CallFunc func(from, to common.Address, data []byte) ([]byte, error)

// Node 假节点
type Node struct {
	ChainID int64

	mu       sync.Mutex
	calls    map[string]int
	onCall   CallFunc
	onSend   func(tx *types.Transaction) error
	nonce    uint64
	gasPrice *big.Int
	gas      uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt

	server *rpc.Server
	http   *httptest.Server
}

// NewNode 启动假节点，测试结束时自动关闭
func NewNode(tb testing.TB, chainID int64) *Node {
	n := &Node{
		ChainID:  chainID,
		calls:    make(map[string]int),
		gasPrice: big.NewInt(1_000_000_000),
		gas:      100_000,
		receipts: make(map[common.Hash]*types.Receipt),
		server:   rpc.NewServer(),
	}
	if err := n.server.RegisterName("eth", &ethAPI{n: n}); err != nil {
		tb.Fatalf("register eth api: %v", err)
	}
	n.http = httptest.NewServer(n.server)
	tb.Cleanup(func() {
		n.http.Close()
		n.server.Stop()
	})
	return n
}

// URL RPC 地址
func (n *Node) URL() string {
	return n.http.URL
}

// Close 提前关闭节点，模拟 RPC 不可用
func (n *Node) Close() {
	n.http.CloseClientConnections()
	n.http.Close()
}

// OnCall 设置合约调用处理函数
func (n *Node) OnCall(fn CallFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onCall = fn
}

// OnSend 设置广播处理函数，返回错误表示节点拒绝
func (n *Node) OnSend(fn func(tx *types.Transaction) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSend = fn
}

// SetNonce 设置钱包 pending nonce
func (n *Node) SetNonce(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonce = nonce
}

// SetReceipt 设置交易回执
func (n *Node) SetReceipt(hash common.Hash, status uint64, block int64, gasUsed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(block),
		GasUsed:     gasUsed,
		Logs:        []*types.Log{},
	}
}

// Sent 已广播的交易
func (n *Node) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

// Count 某个方法的调用次数，如 "eth_call"
func (n *Node) Count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *Node) hit(method string) {
	n.mu.Lock()
	n.calls[method]++
	n.mu.Unlock()
}

// RevertError 带 revert 数据的节点错误
type RevertError struct {
	Message string
	Data    string
}

func (e *RevertError) Error() string          { return e.Message }
func (e *RevertError) ErrorCode() int         { return 3 }
func (e *RevertError) ErrorData() interface{} { return e.Data }

// NodeError 不带数据的节点错误
type NodeError struct {
	Message string
	Code    int
}

func (e *NodeError) Error() string  { return e.Message }
func (e *NodeError) ErrorCode() int { return e.Code }

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArgs) payload() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

func (a callArgs) addrs() (common.Address, common.Address) {
	var from, to common.Address
	if a.From != nil {
		from = *a.From
	}
	if a.To != nil {
		to = *a.To
	}
	return from, to
}

type ethAPI struct {
	n *Node
}

func (api *ethAPI) ChainId() *hexutil.Big {
	api.n.hit("eth_chainId")
	return (*hexutil.Big)(big.NewInt(api.n.ChainID))
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	api.n.hit("eth_blockNumber")
	return 100
}

func (api *ethAPI) Call(ctx context.Context, args callArgs, block *string) (hexutil.Bytes, error) {
	api.n.hit("eth_call")
	api.n.mu.Lock()
	fn := api.n.onCall
	api.n.mu.Unlock()
	if fn == nil {
		return hexutil.Bytes{}, nil
	}
	from, to := args.addrs()
	return fn(from, to, args.payload())
}

func (api *ethAPI) EstimateGas(ctx context.Context, args callArgs, block *string) (hexutil.Uint64, error) {
	api.n.hit("eth_estimateGas")
	api.n.mu.Lock()
	fn := api.n.onCall
	gas := api.n.gas
	api.n.mu.Unlock()
	if fn != nil {
		from, to := args.addrs()
		if _, err := fn(from, to, args.payload()); err != nil {
			return 0, err
		}
	}
	return hexutil.Uint64(gas), nil
}

func (api *ethAPI) GasPrice() *hexutil.Big {
	api.n.hit("eth_gasPrice")
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return (*hexutil.Big)(new(big.Int).Set(api.n.gasPrice))
}

func (api *ethAPI) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	api.n.hit("eth_getTransactionCount")
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return hexutil.Uint64(api.n.nonce)
}

func (api *ethAPI) SendRawTransaction(data hexutil.Bytes) (common.Hash, error) {
	api.n.hit("eth_sendRawTransaction")
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return common.Hash{}, err
	}

	api.n.mu.Lock()
	fn := api.n.onSend
	api.n.mu.Unlock()
	if fn != nil {
		if err := fn(tx); err != nil {
			return common.Hash{}, err
		}
	}

	api.n.mu.Lock()
	api.n.sent = append(api.n.sent, tx)
	api.n.nonce++
	api.n.mu.Unlock()
	return tx.Hash(), nil
}

func (api *ethAPI) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	api.n.hit("eth_getTransactionReceipt")
	api.n.mu.Lock()
	defer api.n.mu.Unlock()
	return api.n.receipts[hash], nil
}
