package relay

import (
	"fmt"
	"math/big"

	"cosmossdk.io/math"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/config"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

// Decision is the amount the relay will pay for an event.
type Decision struct {
	Amount   *big.Int // wei to pay
	Computed *big.Int // stableAmount converted at the configured rate
	Event    *big.Int // payoutAmount carried by the event
}

// Converter turns stablecoin amounts into destination payouts at a fixed rate
// (stable units per payout unit) and applies the payout policy.
type Converter struct {
	rate           math.LegacyDec
	stableDecimals int64
	payoutDecimals int64
	policy         config.PayoutPolicy
}

// NewConverter validates the rate and decimals.
func NewConverter(rate math.LegacyDec, stableDecimals, payoutDecimals int64, policy config.PayoutPolicy) (*Converter, error) {
	if rate.IsNil() || !rate.IsPositive() {
		return nil, fmt.Errorf("conversion rate must be positive")
	}
	if stableDecimals < 0 || payoutDecimals < 0 {
		return nil, fmt.Errorf("decimals must not be negative")
	}
	if policy == "" {
		policy = config.PayoutPolicyStrict
	}
	return &Converter{
		rate:           rate,
		stableDecimals: stableDecimals,
		payoutDecimals: payoutDecimals,
		policy:         policy,
	}, nil
}

// NewConverterFromConfig builds a converter from the payout section.
func NewConverterFromConfig(cfg *config.Config) (*Converter, error) {
	rate, err := cfg.PayoutRate()
	if err != nil {
		return nil, fmt.Errorf("invalid stable_per_payout_unit: %w", err)
	}
	return NewConverter(rate, cfg.Payout.StableDecimals, cfg.Payout.PayoutDecimals, cfg.Payout.Policy)
}

// Compute returns floor(stable * 10^payoutDecimals / (rate * 10^stableDecimals)).
func (c *Converter) Compute(stable *big.Int) *big.Int {
	// rate.BigInt() is the rate scaled by 10^LegacyPrecision
	num := new(big.Int).Mul(stable, pow10(c.payoutDecimals))
	num.Mul(num, pow10(math.LegacyPrecision))

	den := new(big.Int).Mul(c.rate.BigInt(), pow10(c.stableDecimals))
	return num.Quo(num, den)
}

// Decide picks the amount to pay. An event carrying zero is paid the computed
// amount. Otherwise a mismatch is rejected under the strict policy and paid as
// emitted under trust_event.
func (c *Converter) Decide(ev *common.PurchaseEvent) (Decision, error) {
	computed := c.Compute(ev.StableAmount)
	d := Decision{Computed: computed, Event: ev.PayoutAmount}

	switch {
	case ev.PayoutAmount == nil || ev.PayoutAmount.Sign() == 0:
		d.Amount = computed
	case ev.PayoutAmount.Cmp(computed) == 0:
		d.Amount = ev.PayoutAmount
	case c.policy == config.PayoutPolicyTrustEvent:
		d.Amount = ev.PayoutAmount
	default:
		return d, relayerrors.NewPolicyError(fmt.Sprintf(
			"payout mismatch: event carries %s, computed %s", ev.PayoutAmount, computed))
	}

	if d.Amount.Sign() <= 0 {
		return d, relayerrors.NewPolicyError("payout amount is zero")
	}
	return d, nil
}

// Mismatch reports whether the event value disagrees with the computed one.
func (d Decision) Mismatch() bool {
	return d.Event != nil && d.Event.Sign() != 0 && d.Event.Cmp(d.Computed) != 0
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}
