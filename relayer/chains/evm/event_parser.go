package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

// ErrSkipLog marks logs that are not purchase events we may act on: removed by a
// reorg, missing a tx hash, or emitted by another contract or event.
var ErrSkipLog = errors.New("log skipped")

// EventParser decodes PurchaseOccurred logs emitted by the configured contract
type EventParser struct {
	contract ethcommon.Address
	abi      abi.ABI
	topic    ethcommon.Hash
	logger   zerolog.Logger
}

// NewEventParser creates a parser bound to a contract address
func NewEventParser(contractAddress string, logger zerolog.Logger) (*EventParser, error) {
	if !ethcommon.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", contractAddress)
	}
	event, ok := purchaseABI.Events[PurchaseEventName]
	if !ok {
		return nil, fmt.Errorf("event %s missing from ABI", PurchaseEventName)
	}

	return &EventParser{
		contract: ethcommon.HexToAddress(contractAddress),
		abi:      purchaseABI,
		topic:    event.ID,
		logger:   logger.With().Str("component", "evm_event_parser").Logger(),
	}, nil
}

// Contract returns the watched contract address.
func (p *EventParser) Contract() ethcommon.Address {
	return p.contract
}

// Topic returns the PurchaseOccurred event signature hash.
func (p *EventParser) Topic() ethcommon.Hash {
	return p.topic
}

// FilterQuery builds the log filter for the purchase event. Nil bounds mean open ended.
func (p *EventParser) FilterQuery(fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []ethcommon.Address{p.contract},
		Topics:    [][]ethcommon.Hash{{p.topic}},
	}
}

// Parse decodes a raw log into a PurchaseEvent
func (p *EventParser) Parse(log *types.Log) (*common.PurchaseEvent, error) {
	if log == nil || log.Removed {
		return nil, ErrSkipLog
	}
	if log.TxHash == (ethcommon.Hash{}) {
		return nil, ErrSkipLog
	}
	if log.Address != p.contract || len(log.Topics) == 0 || log.Topics[0] != p.topic {
		return nil, ErrSkipLog
	}

	if len(log.Topics) < 2 {
		return nil, relayerrors.NewDecodeError("purchase log missing indexed buyer topic", nil).
			WithContext("tx_hash", log.TxHash.Hex())
	}
	buyerTopic := log.Topics[1]
	for _, b := range buyerTopic[:ethcommon.HashLength-ethcommon.AddressLength] {
		if b != 0 {
			return nil, relayerrors.NewDecodeError("buyer topic is not an address", nil).
				WithContext("tx_hash", log.TxHash.Hex())
		}
	}

	values, err := p.abi.Unpack(PurchaseEventName, log.Data)
	if err != nil {
		return nil, relayerrors.NewDecodeError("failed to unpack purchase data", err).
			WithContext("tx_hash", log.TxHash.Hex())
	}
	if len(values) != 2 {
		return nil, relayerrors.NewDecodeError(fmt.Sprintf("expected 2 values, got %d", len(values)), nil)
	}
	stable, ok1 := values[0].(*big.Int)
	payout, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, relayerrors.NewDecodeError("purchase amounts are not uint256", nil)
	}

	return &common.PurchaseEvent{
		Buyer:        ethcommon.BytesToAddress(buyerTopic.Bytes()).Hex(),
		StableAmount: stable,
		PayoutAmount: payout,
		TxHash:       log.TxHash.Hex(),
		LogIndex:     log.Index,
		BlockNumber:  log.BlockNumber,
	}, nil
}
