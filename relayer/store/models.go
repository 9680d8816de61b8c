// Package store contains GORM-backed SQLite models used by the payout relay.
//
// Database Structure (database file: relay.db):
//
//	databases/
//	└── relay.db
//	    ├── chain_states        source-chain checkpoint
//	    ├── processed_events    idempotency guard outcomes (sqlite backend)
//	    ├── event_claims        idempotency guard leases (sqlite backend)
//	    └── relay_transactions  payout journal
package store

import (
	"gorm.io/gorm"
)

// Relay transaction statuses.
const (
	StatusPending   = "PENDING"
	StatusSubmitted = "SUBMITTED"
	StatusConfirmed = "CONFIRMED"
	StatusRejected  = "REJECTED"
)

// ChainState tracks the source-chain checkpoint.
// One record per database.
type ChainState struct {
	gorm.Model
	LastBlock uint64 // Highest block with every event settled or deduplicated
}

// ProcessedEvent is one entry of the processed set: an event identity that reached
// a terminal payout outcome.
type ProcessedEvent struct {
	gorm.Model
	EventKey   string `gorm:"uniqueIndex;not null"` // "<txhash>:<logIndex>"
	Outcome    string `gorm:"not null"`             // CONFIRMED or REJECTED
	Reason     string `gorm:"type:text"`
	DestTxHash string
}

// EventClaim is a lease on an event identity held by one relay while its payout
// is being worked on. Rows are hard-deleted on release.
type EventClaim struct {
	EventKey  string `gorm:"primaryKey"`
	Owner     string `gorm:"not null"`
	ExpiresAt int64  `gorm:"not null;index"` // unix milliseconds
}

// RelayTransaction journals one payout attempt on the destination chain.
// It is written before a transaction is broadcast so a restart can tell whether
// the nonce was already spent.
type RelayTransaction struct {
	gorm.Model
	SourceTxHash string `gorm:"uniqueIndex:idx_source_tx_log_index;not null"`
	LogIndex     uint   `gorm:"uniqueIndex:idx_source_tx_log_index"`
	SourceBlock  uint64 `gorm:"index"`
	Buyer        string `gorm:"not null"`
	StableAmount string // decimal string, stablecoin minor units
	PayoutAmount string // decimal string, wei
	Status       string `gorm:"index;not null"` // PENDING, SUBMITTED, CONFIRMED, REJECTED
	DestTxHash   string `gorm:"index"`
	Nonce        uint64
	GasLimit     uint64
	RawTx        string `gorm:"type:text"` // signed transaction, hex
	Attempts     int
	NotFound     int    // consecutive receipt lookups that found nothing
	ErrorMsg     string `gorm:"type:text"`
}

// EventKey returns the identity key of the source event.
func (t *RelayTransaction) EventKey() string {
	return FormatEventKey(t.SourceTxHash, t.LogIndex)
}

// IsTerminal reports whether the payout reached CONFIRMED or REJECTED.
func (t *RelayTransaction) IsTerminal() bool {
	return t.Status == StatusConfirmed || t.Status == StatusRejected
}
