package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pushchain/payout-relay/relayer/store"
)

// PurchaseEvent is a decoded PurchaseOccurred log observed on the source chain.
type PurchaseEvent struct {
	Buyer        string   // checksummed hex address
	StableAmount *big.Int // stablecoin minor units
	PayoutAmount *big.Int // destination native minor units (wei)
	TxHash       string
	LogIndex     uint
	BlockNumber  uint64
}

// EventIdentity uniquely identifies one on-chain log entry.
type EventIdentity struct {
	TxHash   string
	LogIndex uint
}

// Identity returns the deduplication key of the event.
func (e *PurchaseEvent) Identity() EventIdentity {
	return EventIdentity{TxHash: strings.ToLower(e.TxHash), LogIndex: e.LogIndex}
}

// Validate enforces that the event can be processed at all.
func (e *PurchaseEvent) Validate() error {
	if !IsWellFormedTxHash(e.TxHash) {
		return fmt.Errorf("event has malformed tx hash %q", e.TxHash)
	}
	if e.Buyer == "" {
		return fmt.Errorf("event %s has no buyer", e.TxHash)
	}
	if e.StableAmount == nil || e.StableAmount.Sign() < 0 {
		return fmt.Errorf("event %s has invalid stable amount", e.TxHash)
	}
	if e.PayoutAmount == nil || e.PayoutAmount.Sign() < 0 {
		return fmt.Errorf("event %s has invalid payout amount", e.TxHash)
	}
	return nil
}

// Key renders the identity as "<txhash>:<logIndex>".
func (id EventIdentity) Key() string {
	return store.FormatEventKey(id.TxHash, id.LogIndex)
}

func (id EventIdentity) String() string {
	return id.Key()
}

var zeroTxHash = "0x" + strings.Repeat("0", 64)

// IsWellFormedTxHash reports whether h is a non-zero 32-byte hex hash.
func IsWellFormedTxHash(h string) bool {
	if len(h) != 66 || !strings.HasPrefix(h, "0x") && !strings.HasPrefix(h, "0X") {
		return false
	}
	if strings.EqualFold(h, zeroTxHash) {
		return false
	}
	for _, c := range h[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
