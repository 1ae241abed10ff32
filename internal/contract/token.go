package contract

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MintableTokenABI is the minimal ABI of the faucet ERC20 token.
const MintableTokenABI = `[
	{
		"type": "function",
		"name": "lastMintTime",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "mintTo",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

var tokenABI = mustParseABI(MintableTokenABI)

// TokenContract is an ERC20 with a faucet mint entry point.
type TokenContract struct {
	binding
}

// NewTokenContract creates a token binding.
func NewTokenContract(address common.Address) *TokenContract {
	return &TokenContract{binding{address: address, abi: tokenABI}}
}

// PackMintTo packs mintTo(to, amount).
func (c *TokenContract) PackMintTo(to common.Address, amount *big.Int) ([]byte, error) {
	return c.abi.Pack("mintTo", to, amount)
}

// LastMintTime returns the last mint time recorded by the token, zero if never minted.
// Timestamps beyond the representable range are clamped to a far-future time, which keeps the wallet in cooldown.
func (c *TokenContract) LastMintTime(ctx context.Context, caller Caller, wallet common.Address) (time.Time, error) {
	return lastMintTime(ctx, &c.binding, caller, wallet)
}

func lastMintTime(ctx context.Context, b *binding, caller Caller, wallet common.Address) (time.Time, error) {
	ts, err := b.callUint256(ctx, caller, "lastMintTime", wallet)
	if err != nil {
		return time.Time{}, err
	}
	if ts.Sign() == 0 {
		return time.Time{}, nil
	}
	if !ts.IsInt64() || ts.Int64() > maxUnixSeconds {
		return time.Unix(maxUnixSeconds, 0), nil
	}
	return time.Unix(ts.Int64(), 0), nil
}
