package payout

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DestinationClient is the destination chain surface the executor needs.
// Implemented by evm.RPCClient and by go-ethereum's simulated client.
type DestinationClient interface {
	PendingBalanceAt(ctx context.Context, account ethcommon.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	NonceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
}

// BalanceReader reads an account's spendable balance.
type BalanceReader interface {
	PendingBalanceAt(ctx context.Context, account ethcommon.Address) (*big.Int, error)
}
