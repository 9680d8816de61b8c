package payout

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

// BalanceGuard checks that the funding account can cover a payout.
type BalanceGuard struct {
	client   BalanceReader
	account  ethcommon.Address
	observer func(*big.Int)
	logger   zerolog.Logger
}

// NewBalanceGuard creates a guard for account. observer, if set, sees every balance read.
func NewBalanceGuard(client BalanceReader, account ethcommon.Address, observer func(*big.Int), logger zerolog.Logger) *BalanceGuard {
	return &BalanceGuard{
		client:   client,
		account:  account,
		observer: observer,
		logger:   logger.With().Str("component", "balance_guard").Str("account", account.Hex()).Logger(),
	}
}

// Account returns the funding account.
func (g *BalanceGuard) Account() ethcommon.Address {
	return g.account
}

// Available returns the pending balance of the funding account.
func (g *BalanceGuard) Available(ctx context.Context) (*big.Int, error) {
	balance, err := g.client.PendingBalanceAt(ctx, g.account)
	if err != nil {
		return nil, relayerrors.NewTransportError("failed to read funding balance", err)
	}
	if g.observer != nil {
		g.observer(balance)
	}
	return balance, nil
}

// CheckSufficient returns nil when available >= required, an *InsufficientFundsError
// otherwise. The amount is never reduced to fit.
func (g *BalanceGuard) CheckSufficient(ctx context.Context, required *big.Int) error {
	available, err := g.Available(ctx)
	if err != nil {
		return err
	}
	if available.Cmp(required) < 0 {
		g.logger.Warn().
			Str("available", available.String()).
			Str("required", required.String()).
			Msg("insufficient funds for payout")
		return relayerrors.NewInsufficientFundsError(available, required)
	}
	return nil
}
