package contract

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	bizerr "github.com/eidos-exchange/eidos/eidos-faucet/pkg/errors"
)

const revertPrefix = "execution reverted"

// DecodeRevert extracts the revert reason carried by a node error.
// ok is false when err is not a revert. Custom errors decode to their 4-byte selector.
func DecodeRevert(err error) (reason string, ok bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, isStr := dataErr.ErrorData().(string); isStr {
			data, decErr := hexutil.Decode(s)
			if decErr == nil && len(data) > 0 {
				if r, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return r, true
				}
				return hexutil.Encode(data[:min(4, len(data))]), true
			}
		}
	}

	msg := err.Error()
	i := strings.Index(msg, revertPrefix)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(msg[i+len(revertPrefix):], ":")
	return strings.TrimSpace(rest), true
}

var (
	cooldownHints  = []string{"cooldown", "too soon", "too frequent", "wait"}
	mintLimitHints = []string{"mint limit", "max mint", "limit reached", "already minted", "exceeds limit"}
	balanceHints   = []string{"insufficient balance", "insufficient funds", "exceeds balance", "faucet empty"}
)

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

// MapRevert maps a revert reason to the faucet error taxonomy.
func MapRevert(reason string) *bizerr.Error {
	r := strings.ToLower(reason)
	switch {
	case containsAny(r, cooldownHints):
		return bizerr.ErrRateLimitExceeded
	case containsAny(r, mintLimitHints):
		return bizerr.ErrMintLimitReached
	case containsAny(r, balanceHints):
		return bizerr.ErrInsufficientFaucetBalance
	default:
		return bizerr.ErrContractReverted
	}
}

// ClassifyError converts a simulation or broadcast error into a faucet error.
// The raw node message is kept as the cause only.
func ClassifyError(err error) *bizerr.Error {
	if err == nil {
		return nil
	}
	if reason, ok := DecodeRevert(err); ok {
		return bizerr.Wrap(MapRevert(reason), err)
	}
	// 节点拒绝: 热钱包 gas 不足
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return bizerr.Wrap(bizerr.ErrInsufficientFaucetBalance, err)
	}
	return bizerr.Wrap(bizerr.ErrTransactionSubmission, err)
}
