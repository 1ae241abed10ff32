package contract

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FaucetNFTABI is the minimal ABI of the faucet NFT.
const FaucetNFTABI = `[
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
		"inputs": [{"name": "to", "type": "address"}],
		"outputs": [{"name": "tokenId", "type": "uint256"}],
		"stateMutability": "nonpayable"
	}
]`

var nftABI = mustParseABI(FaucetNFTABI)

// NFTContract is an ERC721 with a faucet mint entry point.
type NFTContract struct {
	binding
}

// NewNFTContract creates an NFT binding.
func NewNFTContract(address common.Address) *NFTContract {
	return &NFTContract{binding{address: address, abi: nftABI}}
}

// PackMintTo packs mintTo(to).
func (c *NFTContract) PackMintTo(to common.Address) ([]byte, error) {
	return c.abi.Pack("mintTo", to)
}

// UnpackTokenID decodes the return value of a simulated mintTo call.
func (c *NFTContract) UnpackTokenID(result []byte) (*big.Int, error) {
	if len(result) == 0 {
		return nil, errors.New("empty mintTo result")
	}
	out, err := c.abi.Unpack("mintTo", result)
	if err != nil {
		return nil, err
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected mintTo return type")
	}
	return id, nil
}

// LastMintTime returns the last mint time recorded by the NFT, zero if never minted.
func (c *NFTContract) LastMintTime(ctx context.Context, caller Caller, wallet common.Address) (time.Time, error) {
	return lastMintTime(ctx, &c.binding, caller, wallet)
}
