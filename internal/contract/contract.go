// Package contract provides ABI bindings for the faucet, token and NFT contracts.
package contract

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNotMetered is returned when the contract exposes no cooldown state for the queried method.
var ErrNotMetered = errors.New("contract does not meter claims")

// MaxCooldown is reported for on-chain values too large to represent.
// Such values still deny the claim.
const MaxCooldown = time.Duration(math.MaxInt64)

// maxUnixSeconds bounds timestamps so time.Unix and later arithmetic cannot overflow.
const maxUnixSeconds = int64(1) << 62

var maxCooldownSeconds = big.NewInt(int64(MaxCooldown / time.Second))

// secondsToDuration converts a uint256 second count, saturating at MaxCooldown.
func secondsToDuration(secs *big.Int) time.Duration {
	if secs.Sign() <= 0 {
		return 0
	}
	if secs.Cmp(maxCooldownSeconds) > 0 {
		return MaxCooldown
	}
	return time.Duration(secs.Int64()) * time.Second
}

// Caller is the read-only subset of a chain client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// binding is shared by every contract type.
type binding struct {
	address common.Address
	abi     abi.ABI
}

// Address returns the contract address.
func (b *binding) Address() common.Address {
	return b.address
}

// ABI returns the contract ABI.
func (b *binding) ABI() abi.ABI {
	return b.abi
}

// callUint256 invokes a view method returning a single uint256.
// An empty return value means the method does not exist on the target.
func (b *binding) callUint256(ctx context.Context, caller Caller, method string, args ...interface{}) (*big.Int, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: data}, nil)
	if err != nil {
		if reason, ok := DecodeRevert(err); ok && reason == "" {
			return nil, ErrNotMetered
		}
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotMetered
	}

	out, err := b.abi.Unpack(method, result)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected return type for " + method)
	}
	return v, nil
}
