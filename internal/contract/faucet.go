package contract

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FaucetABI is the minimal ABI of the native faucet contract.
const FaucetABI = `[
	{
		"type": "function",
		"name": "getRemainingCooldown",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "claimNative",
		"inputs": [{"name": "recipient", "type": "address"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

var faucetABI = mustParseABI(FaucetABI)

// FaucetContract dispenses the native coin and enforces its cooldown on-chain.
type FaucetContract struct {
	binding
}

// NewFaucetContract creates a faucet binding.
func NewFaucetContract(address common.Address) *FaucetContract {
	return &FaucetContract{binding{address: address, abi: faucetABI}}
}

// PackClaimNative packs claimNative(recipient).
func (c *FaucetContract) PackClaimNative(recipient common.Address) ([]byte, error) {
	return c.abi.Pack("claimNative", recipient)
}

// RemainingCooldown returns how long the wallet must wait before the next native claim.
func (c *FaucetContract) RemainingCooldown(ctx context.Context, caller Caller, wallet common.Address) (time.Duration, error) {
	secs, err := c.callUint256(ctx, caller, "getRemainingCooldown", wallet)
	if err != nil {
		return 0, err
	}
	return secondsToDuration(secs), nil
}
