// Package evm wraps node access: a read interface satisfied by ethclient,
// ERC-20 log decoding, and a WebSocket log subscriber for live watching.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// NodeReader is the subset of node RPC used by the engine. *ethclient.Client
// satisfies it; tests substitute fakes.
type NodeReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ NodeReader = (*ethclient.Client)(nil)

// Dial connects to a node RPC endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", endpoint, err)
	}
	return client, nil
}
