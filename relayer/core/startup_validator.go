package core

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/config"
)

// StartupValidationResult contains what was verified against the destination chain
type StartupValidationResult struct {
	ChainID        *big.Int
	FundingAccount string
	Balance        *big.Int
}

type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type balanceReader interface {
	PendingBalanceAt(ctx context.Context, account ethcommon.Address) (*big.Int, error)
}

// StartupValidator validates startup requirements
type StartupValidator struct {
	log     zerolog.Logger
	config  *config.Config
	client  balanceReader
	account ethcommon.Address
	timeout time.Duration
}

// NewStartupValidator creates a new startup validator
func NewStartupValidator(log zerolog.Logger, cfg *config.Config, client balanceReader, account ethcommon.Address) *StartupValidator {
	return &StartupValidator{
		log:     log.With().Str("component", "startup_validator").Logger(),
		config:  cfg,
		client:  client,
		account: account,
		timeout: 15 * time.Second,
	}
}

// ValidateStartupRequirements checks the destination chain ID and reads the
// funding balance. An empty funding account is reported, not fatal: payouts are
// rejected one by one until it is topped up.
func (sv *StartupValidator) ValidateStartupRequirements(ctx context.Context) (*StartupValidationResult, error) {
	sv.log.Info().Msg("🔍 Validating startup requirements")

	ctx, cancel := context.WithTimeout(ctx, sv.timeout)
	defer cancel()

	result := &StartupValidationResult{FundingAccount: sv.account.Hex()}

	if reader, ok := sv.client.(chainIDReader); ok {
		chainID, err := reader.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read destination chain id: %w", err)
		}
		if want := sv.config.DestinationChainID(); chainID.Cmp(want) != 0 {
			return nil, fmt.Errorf("destination chain id mismatch: node reports %s, config expects %s", chainID, want)
		}
		result.ChainID = chainID
	}

	balance, err := sv.client.PendingBalanceAt(ctx, sv.account)
	if err != nil {
		return nil, fmt.Errorf("failed to read funding balance: %w", err)
	}
	result.Balance = balance

	event := sv.log.Info()
	if balance.Sign() == 0 {
		event = sv.log.Warn()
	}
	event.
		Str("funding_account", result.FundingAccount).
		Str("balance_wei", balance.String()).
		Msg("✅ Destination chain validated")

	return result, nil
}
