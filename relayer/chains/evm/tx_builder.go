package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FeeQuote carries the fee parameters for one transfer. Legacy is set when the
// chain reports no base fee.
type FeeQuote struct {
	TipCap   *big.Int
	FeeCap   *big.Int
	GasPrice *big.Int
	Legacy   bool
}

// MaxFeePerGas is the most the transfer may pay per unit of gas.
func (q FeeQuote) MaxFeePerGas() *big.Int {
	if q.Legacy {
		return new(big.Int).Set(q.GasPrice)
	}
	return new(big.Int).Set(q.FeeCap)
}

// MaxCost returns value plus the worst-case fee for gasLimit.
func (q FeeQuote) MaxCost(value *big.Int, gasLimit uint64) *big.Int {
	fee := new(big.Int).Mul(q.MaxFeePerGas(), new(big.Int).SetUint64(gasLimit))
	return fee.Add(fee, value)
}

// QuoteFees builds an EIP-1559 quote (feeCap = baseFee*multiplier + tip), or a
// legacy gas price quote on chains without a base fee.
func QuoteFees(ctx context.Context, client FeeSource, multiplier int64) (FeeQuote, error) {
	if multiplier < 1 {
		multiplier = 2
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("failed to get latest header: %w", err)
	}

	if header.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return FeeQuote{}, fmt.Errorf("failed to get gas price: %w", err)
		}
		return FeeQuote{GasPrice: gasPrice, Legacy: true}, nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(multiplier))
	feeCap.Add(feeCap, tip)

	return FeeQuote{TipCap: tip, FeeCap: feeCap}, nil
}

// TxBuilder signs native-currency transfers from the funding account
type TxBuilder struct {
	key      *ecdsa.PrivateKey
	from     ethcommon.Address
	chainID  *big.Int
	gasLimit uint64
	signer   types.Signer
}

// NewTxBuilder parses the funding key and binds it to the destination chain
func NewTxBuilder(privateKeyHex string, chainID *big.Int, gasLimit uint64) (*TxBuilder, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID is required")
	}
	if gasLimit == 0 {
		return nil, fmt.Errorf("gas limit is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid funding private key: %w", err)
	}

	return &TxBuilder{
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(chainID),
		gasLimit: gasLimit,
		signer:   types.LatestSignerForChainID(chainID),
	}, nil
}

// From returns the funding account address.
func (b *TxBuilder) From() ethcommon.Address {
	return b.from
}

// GasLimit returns the fixed gas limit applied to every transfer.
func (b *TxBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// BuildTransfer creates and signs a value transfer to recipient
func (b *TxBuilder) BuildTransfer(recipient ethcommon.Address, amount *big.Int, nonce uint64, quote FeeQuote) (*types.Transaction, error) {
	if recipient == (ethcommon.Address{}) {
		return nil, fmt.Errorf("recipient is the zero address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}

	var txData types.TxData
	if quote.Legacy {
		if quote.GasPrice == nil {
			return nil, fmt.Errorf("legacy quote without gas price")
		}
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: quote.GasPrice,
			Gas:      b.gasLimit,
			To:       &recipient,
			Value:    amount,
		}
	} else {
		if quote.TipCap == nil || quote.FeeCap == nil {
			return nil, fmt.Errorf("dynamic fee quote is incomplete")
		}
		txData = &types.DynamicFeeTx{
			ChainID:   b.chainID,
			Nonce:     nonce,
			GasTipCap: quote.TipCap,
			GasFeeCap: quote.FeeCap,
			Gas:       b.gasLimit,
			To:        &recipient,
			Value:     amount,
		}
	}

	signed, err := types.SignNewTx(b.key, b.signer, txData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}
	return signed, nil
}

// EncodeTx serializes a signed transaction for the payout journal.
func EncodeTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw), nil
}

// DecodeTx restores a journaled signed transaction.
func DecodeTx(encoded string) (*types.Transaction, error) {
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tx, nil
}
