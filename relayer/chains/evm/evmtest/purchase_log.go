// Package evmtest holds source-chain fixtures for tests outside the evm package.
package evmtest

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/chains/evm"
)

// PurchaseLog builds a PurchaseOccurred log as a node would return it.
func PurchaseLog(
	t testing.TB,
	contract, buyer ethcommon.Address,
	stableAmount, payoutAmount *big.Int,
	txHash ethcommon.Hash,
	logIndex uint,
	blockNumber uint64,
) types.Log {
	t.Helper()

	parsed, err := abi.JSON(strings.NewReader(evm.PurchaseEventABI))
	require.NoError(t, err)
	event := parsed.Events[evm.PurchaseEventName]
	data, err := event.Inputs.NonIndexed().Pack(stableAmount, payoutAmount)
	require.NoError(t, err)

	return types.Log{
		Address:     contract,
		Topics:      []ethcommon.Hash{event.ID, ethcommon.BytesToHash(buyer.Bytes())},
		Data:        data,
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Index:       logIndex,
	}
}
