package payout

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/db"
	"github.com/pushchain/payout-relay/relayer/store"
)

// Journal persists RelayTransaction rows. A row is written SUBMITTED before its
// transaction is broadcast, so after a crash the nonce and signed bytes are known.
type Journal struct {
	database *db.DB
}

func NewJournal(database *db.DB) *Journal {
	return &Journal{database: database}
}

// Get returns the row for id, or nil.
func (j *Journal) Get(ctx context.Context, id common.EventIdentity) (*store.RelayTransaction, error) {
	var row store.RelayTransaction
	err := j.database.Client().WithContext(ctx).
		Where("source_tx_hash = ? AND log_index = ?", strings.ToLower(id.TxHash), id.LogIndex).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to load relay transaction %s", id)
	}
	return &row, nil
}

// CreatePending inserts a PENDING row for the event.
func (j *Journal) CreatePending(ctx context.Context, ev *common.PurchaseEvent, amount string, gasLimit uint64) (*store.RelayTransaction, error) {
	id := ev.Identity()
	row := &store.RelayTransaction{
		SourceTxHash: id.TxHash,
		LogIndex:     id.LogIndex,
		SourceBlock:  ev.BlockNumber,
		Buyer:        ev.Buyer,
		StableAmount: ev.StableAmount.String(),
		PayoutAmount: amount,
		Status:       store.StatusPending,
		GasLimit:     gasLimit,
	}
	if err := j.database.Client().WithContext(ctx).Create(row).Error; err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create relay transaction %s", id)
	}
	return row, nil
}

// MarkSubmitted records the signed transaction about to be broadcast.
func (j *Journal) MarkSubmitted(ctx context.Context, row *store.RelayTransaction, txHash string, nonce uint64, rawTx string) error {
	row.Status = store.StatusSubmitted
	row.DestTxHash = txHash
	row.Nonce = nonce
	row.RawTx = rawTx
	row.Attempts++
	row.NotFound = 0
	row.ErrorMsg = ""
	return j.save(ctx, row)
}

// MarkConfirmed settles the row as paid.
func (j *Journal) MarkConfirmed(ctx context.Context, row *store.RelayTransaction, txHash string) error {
	row.Status = store.StatusConfirmed
	row.DestTxHash = txHash
	row.ErrorMsg = ""
	return j.save(ctx, row)
}

// MarkRejected settles the row as failed with reason.
func (j *Journal) MarkRejected(ctx context.Context, row *store.RelayTransaction, reason string) error {
	row.Status = store.StatusRejected
	row.ErrorMsg = reason
	return j.save(ctx, row)
}

// RecordRejected settles an event that never reached the destination chain. A
// missing row is created REJECTED and a PENDING row is marked REJECTED. Rows
// that are SUBMITTED or already terminal are returned unchanged.
func (j *Journal) RecordRejected(ctx context.Context, ev *common.PurchaseEvent, amount, reason string) (*store.RelayTransaction, error) {
	row, err := j.Get(ctx, ev.Identity())
	if err != nil {
		return nil, err
	}
	if row == nil {
		id := ev.Identity()
		row = &store.RelayTransaction{
			SourceTxHash: id.TxHash,
			LogIndex:     id.LogIndex,
			SourceBlock:  ev.BlockNumber,
			Buyer:        ev.Buyer,
			StableAmount: ev.StableAmount.String(),
			PayoutAmount: amount,
			Status:       store.StatusRejected,
			ErrorMsg:     reason,
		}
		if err := j.database.Client().WithContext(ctx).Create(row).Error; err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to create relay transaction %s", id)
		}
		return row, nil
	}
	if row.Status != store.StatusPending {
		return row, nil
	}
	if err := j.MarkRejected(ctx, row, reason); err != nil {
		return nil, err
	}
	return row, nil
}

// ResetPending drops a dead submission so the payout can be attempted again.
func (j *Journal) ResetPending(ctx context.Context, row *store.RelayTransaction, reason string) error {
	row.Status = store.StatusPending
	row.DestTxHash = ""
	row.RawTx = ""
	row.NotFound = 0
	row.ErrorMsg = reason
	return j.save(ctx, row)
}

// IncNotFound counts a receipt lookup that found nothing.
func (j *Journal) IncNotFound(ctx context.Context, row *store.RelayTransaction) error {
	row.NotFound++
	return j.save(ctx, row)
}

// ListByStatus returns rows in status, oldest first.
func (j *Journal) ListByStatus(ctx context.Context, status string) ([]store.RelayTransaction, error) {
	var rows []store.RelayTransaction
	err := j.database.Client().WithContext(ctx).
		Where("status = ?", status).
		Order("nonce ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list %s relay transactions", status)
	}
	return rows, nil
}

// CountByStatus returns the number of rows per status.
func (j *Journal) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := j.database.Client().WithContext(ctx).
		Model(&store.RelayTransaction{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count relay transactions")
	}

	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out, nil
}

func (j *Journal) save(ctx context.Context, row *store.RelayTransaction) error {
	if err := j.database.Client().WithContext(ctx).Save(row).Error; err != nil {
		return pkgerrors.Wrapf(err, "failed to update relay transaction %s", row.EventKey())
	}
	return nil
}
