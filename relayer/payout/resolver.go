package payout

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/pushchain/payout-relay/relayer/chains/evm"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
	"github.com/pushchain/payout-relay/relayer/store"
)

// resolveSubmitted settles every SUBMITTED row. Runs inside the queue goroutine.
func (e *Executor) resolveSubmitted(ctx context.Context) {
	rows, err := e.journal.ListByStatus(ctx, store.StatusSubmitted)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list submitted payouts")
		return
	}
	if len(rows) == 0 {
		return
	}

	e.logger.Debug().Int("count", len(rows)).Msg("resolving submitted payouts")
	for i := range rows {
		if ctx.Err() != nil {
			return
		}
		row := &rows[i]
		if _, err := e.settle(ctx, row); err != nil {
			e.logger.Warn().Err(err).Str("event", row.EventKey()).Msg("failed to resolve payout")
			continue
		}
		if row.IsTerminal() && e.onSettled != nil {
			e.onSettled(row)
		}
	}
}

// settle decides what happened to a SUBMITTED row:
//   - receipt found: CONFIRMED or REJECTED
//   - nonce consumed by another transaction: back to PENDING
//   - nonce unconsumed: the same signed bytes are broadcast again
//
// row is updated in place.
func (e *Executor) settle(ctx context.Context, row *store.RelayTransaction) (*store.RelayTransaction, error) {
	hash := ethcommon.HexToHash(row.DestTxHash)

	landed, err := e.lookupReceipt(ctx, row, hash)
	if err != nil || landed {
		return row, err
	}

	mined, err := e.client.NonceAt(ctx, e.builder.From(), nil)
	if err != nil {
		return row, relayerrors.NewTransportError("failed to read confirmed nonce", err)
	}

	if mined > row.Nonce {
		// ours may have been mined between the two calls
		landed, err := e.lookupReceipt(ctx, row, hash)
		if err != nil || landed {
			return row, err
		}
		e.logger.Warn().
			Str("event", row.EventKey()).
			Str("tx_hash", row.DestTxHash).
			Uint64("nonce", row.Nonce).
			Msg("payout nonce consumed by another transaction, resetting")
		if err := e.journal.ResetPending(ctx, row, "nonce consumed by another transaction"); err != nil {
			return row, relayerrors.NewDatabaseError("failed to reset payout", err)
		}
		return row, nil
	}

	tx, err := evm.DecodeTx(row.RawTx)
	if err != nil {
		pending, perr := e.client.PendingNonceAt(ctx, e.builder.From())
		if perr != nil {
			return row, relayerrors.NewTransportError("failed to read pending nonce", perr)
		}
		if pending <= row.Nonce {
			e.logger.Error().Err(err).Str("event", row.EventKey()).Msg("journaled transaction unreadable and not pending, resetting")
			if jerr := e.journal.ResetPending(ctx, row, "journaled transaction unreadable"); jerr != nil {
				return row, relayerrors.NewDatabaseError("failed to reset payout", jerr)
			}
			return row, nil
		}
		return row, relayerrors.NewDatabaseError("journaled transaction unreadable", err)
	}

	if sendErr := e.client.SendTransaction(ctx, tx); sendErr != nil &&
		!relayerrors.IsAlreadyKnown(sendErr) && !relayerrors.IsNonceTooLow(sendErr) {
		e.logger.Debug().Err(sendErr).Str("tx_hash", row.DestTxHash).Msg("re-broadcast failed")
	}

	if err := e.journal.IncNotFound(ctx, row); err != nil {
		return row, relayerrors.NewDatabaseError("failed to update payout", err)
	}
	if row.NotFound >= e.cfg.MaxNotFoundChecks {
		e.logger.Warn().
			Str("event", row.EventKey()).
			Str("tx_hash", row.DestTxHash).
			Int("checks", row.NotFound).
			Msg("payout still not mined, keeps being re-broadcast")
	}
	return row, nil
}

func (e *Executor) lookupReceipt(ctx context.Context, row *store.RelayTransaction, hash ethcommon.Hash) (bool, error) {
	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, relayerrors.NewTransportError("failed to fetch payout receipt", err)
	}
	if receipt == nil {
		return false, nil
	}
	return true, e.applyReceipt(ctx, row, receipt)
}
