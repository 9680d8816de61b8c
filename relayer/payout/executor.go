package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/chains/evm"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
	"github.com/pushchain/payout-relay/relayer/metrics"
	"github.com/pushchain/payout-relay/relayer/store"
)

// ErrExecutorStopped is returned to callers whose job could not run before shutdown.
var ErrExecutorStopped = errors.New("payout executor stopped")

// Config controls submission, confirmation and reconciliation.
type Config struct {
	GasLimit            uint64
	FeeCapMultiplier    int64
	MaxSubmitAttempts   int
	SubmitRetryDelay    time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	ResolveInterval     time.Duration
	MaxNotFoundChecks   int
}

func (c *Config) setDefaults() {
	if c.FeeCapMultiplier < 1 {
		c.FeeCapMultiplier = 2
	}
	if c.MaxSubmitAttempts < 1 {
		c.MaxSubmitAttempts = 3
	}
	if c.SubmitRetryDelay <= 0 {
		c.SubmitRetryDelay = time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = 30 * time.Second
	}
	if c.MaxNotFoundChecks < 1 {
		c.MaxNotFoundChecks = 10
	}
}

// Request asks for Amount wei to be paid to the buyer of Event.
type Request struct {
	Event  *common.PurchaseEvent
	Amount *big.Int
}

// SettleFunc receives rows that reached a terminal state outside of Submit.
type SettleFunc func(row *store.RelayTransaction)

type job struct {
	req    Request
	result chan jobResult
}

type jobResult struct {
	row *store.RelayTransaction
	err error
}

// Executor is the single owner of the funding key and its nonce. All payouts go
// through one goroutine, so the balance check, nonce assignment, broadcast and
// receipt wait of one payout never interleave with another's.
type Executor struct {
	client  DestinationClient
	builder *evm.TxBuilder
	balance *BalanceGuard
	journal *Journal
	metrics *metrics.Metrics
	cfg     Config
	logger  zerolog.Logger

	queue     chan *job
	onSettled SettleFunc

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewExecutor creates an executor. Call Start before Submit.
func NewExecutor(
	client DestinationClient,
	builder *evm.TxBuilder,
	journal *Journal,
	cfg Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Executor {
	cfg.setDefaults()
	cfg.GasLimit = builder.GasLimit()

	log := logger.With().Str("component", "payout_executor").Str("funding_account", builder.From().Hex()).Logger()
	return &Executor{
		client:  client,
		builder: builder,
		balance: NewBalanceGuard(client, builder.From(), m.SetFundingBalance, logger),
		journal: journal,
		metrics: m,
		cfg:     cfg,
		logger:  log,
		queue:   make(chan *job),
		done:    make(chan struct{}),
	}
}

// BalanceGuard returns the guard bound to the funding account.
func (e *Executor) BalanceGuard() *BalanceGuard {
	return e.balance
}

// OnSettled registers the callback for rows settled by the background resolver.
// Must be called before Start.
func (e *Executor) OnSettled(fn SettleFunc) {
	e.onSettled = fn
}

// Start launches the queue goroutine. It first settles rows left SUBMITTED by a previous run.
func (e *Executor) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		go e.run(runCtx)
	})
}

// Stop cancels the queue goroutine and waits for it. A payout awaiting its
// receipt is abandoned, never retracted; its row stays SUBMITTED.
func (e *Executor) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// Submit queues a payout and blocks until it is terminal or abandoned.
//
// The returned row, when not nil, is the journal state of the payout. If the row
// is CONFIRMED or REJECTED the outcome is final whatever the error says. Otherwise
// the error is retryable and a later Submit for the same event resolves the
// earlier attempt before sending anything new.
func (e *Executor) Submit(ctx context.Context, req Request) (*store.RelayTransaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	j := &job{req: req, result: make(chan jobResult, 1)}
	select {
	case e.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrExecutorStopped
	}

	select {
	case r := <-j.result:
		return r.row, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrExecutorStopped
	}
}

func validateRequest(req Request) error {
	if req.Event == nil {
		return relayerrors.NewPermanentSubmissionError("payout request without event", nil)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return relayerrors.NewPermanentSubmissionError("payout amount must be positive", nil)
	}
	if !ethcommon.IsHexAddress(req.Event.Buyer) || ethcommon.HexToAddress(req.Event.Buyer) == (ethcommon.Address{}) {
		return relayerrors.NewPermanentSubmissionError("invalid recipient "+req.Event.Buyer, nil)
	}
	return nil
}

func (e *Executor) run(ctx context.Context) {
	defer close(e.done)

	e.resolveSubmitted(ctx)

	ticker := time.NewTicker(e.cfg.ResolveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("payout executor stopped")
			return
		case j := <-e.queue:
			row, err := e.execute(ctx, j.req)
			j.result <- jobResult{row: row, err: err}
		case <-ticker.C:
			e.resolveSubmitted(ctx)
		}
	}
}

// execute runs one payout inside the queue goroutine.
func (e *Executor) execute(ctx context.Context, req Request) (*store.RelayTransaction, error) {
	id := req.Event.Identity()

	row, err := e.journal.Get(ctx, id)
	if err != nil {
		return nil, relayerrors.NewDatabaseError("failed to read payout journal", err)
	}
	if row == nil {
		row, err = e.journal.CreatePending(ctx, req.Event, req.Amount.String(), e.cfg.GasLimit)
		if err != nil {
			return nil, relayerrors.NewDatabaseError("failed to journal payout", err)
		}
	}

	switch row.Status {
	case store.StatusConfirmed, store.StatusRejected:
		e.logger.Debug().Str("event", id.Key()).Str("status", row.Status).Msg("payout already terminal")
		return row, nil
	case store.StatusSubmitted:
		// never resubmit before knowing what happened to the journaled transaction
		if _, err := e.settle(ctx, row); err != nil {
			return row, err
		}
		if row.IsTerminal() {
			return row, nil
		}
		if row.Status == store.StatusSubmitted {
			return e.awaitReceipt(ctx, row)
		}
	}

	return e.submitFresh(ctx, row, req.Amount)
}

func (e *Executor) submitFresh(ctx context.Context, row *store.RelayTransaction, amount *big.Int) (*store.RelayTransaction, error) {
	log := e.logger.With().Str("event", row.EventKey()).Str("recipient", row.Buyer).Str("amount", amount.String()).Logger()
	recipient := ethcommon.HexToAddress(row.Buyer)

	quote, err := evm.QuoteFees(ctx, e.client, e.cfg.FeeCapMultiplier)
	if err != nil {
		return row, relayerrors.NewTransientSubmissionError("failed to quote fees", err)
	}

	// authoritative check: nothing else can spend from the account between here and the broadcast
	required := quote.MaxCost(amount, e.cfg.GasLimit)
	if err := e.balance.CheckSufficient(ctx, required); err != nil {
		if errors.Is(err, relayerrors.ErrInsufficientFunds) {
			if jerr := e.journal.MarkRejected(ctx, row, err.Error()); jerr != nil {
				return row, relayerrors.NewDatabaseError("failed to journal rejection", jerr)
			}
		}
		return row, err
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.builder.From())
	if err != nil {
		return row, relayerrors.NewTransientSubmissionError("failed to get pending nonce", err)
	}

	tx, err := e.signAndJournal(ctx, row, recipient, amount, nonce, quote)
	if err != nil {
		return row, err
	}
	log.Info().Str("tx_hash", tx.Hash().Hex()).Uint64("nonce", nonce).Msg("broadcasting payout")

	if err := e.broadcast(ctx, row, tx, recipient, amount, quote); err != nil {
		return row, err
	}
	return e.awaitReceipt(ctx, row)
}

// signAndJournal signs the transfer and writes it SUBMITTED before it leaves the process.
func (e *Executor) signAndJournal(
	ctx context.Context,
	row *store.RelayTransaction,
	recipient ethcommon.Address,
	amount *big.Int,
	nonce uint64,
	quote evm.FeeQuote,
) (*types.Transaction, error) {
	tx, err := e.builder.BuildTransfer(recipient, amount, nonce, quote)
	if err != nil {
		if jerr := e.journal.MarkRejected(ctx, row, err.Error()); jerr != nil {
			return nil, relayerrors.NewDatabaseError("failed to journal rejection", jerr)
		}
		return nil, relayerrors.NewPermanentSubmissionError("failed to build payout transaction", err)
	}

	raw, err := evm.EncodeTx(tx)
	if err != nil {
		return nil, relayerrors.NewPermanentSubmissionError("failed to encode payout transaction", err)
	}
	if err := e.journal.MarkSubmitted(ctx, row, tx.Hash().Hex(), nonce, raw); err != nil {
		return nil, relayerrors.NewDatabaseError("failed to journal submission", err)
	}
	return tx, nil
}

// broadcast sends tx with bounded retries. Every retry is gated on the nonce: a
// consumed nonce is first checked against our own receipt, and only re-signed
// when some other transaction took it.
func (e *Executor) broadcast(
	ctx context.Context,
	row *store.RelayTransaction,
	tx *types.Transaction,
	recipient ethcommon.Address,
	amount *big.Int,
	quote evm.FeeQuote,
) error {
	current := tx
	retry := common.NewRetryManager(&common.RetryConfig{
		MaxRetries:     e.cfg.MaxSubmitAttempts - 1,
		InitialDelay:   e.cfg.SubmitRetryDelay,
		MaxDelay:       8 * e.cfg.SubmitRetryDelay,
		BackoffFactor:  2,
		RetryableError: relayerrors.IsRetryable,
		OnRetry: func(int, error) {
			e.metrics.IncSubmissionRetry()
		},
	}, e.logger)

	err := retry.ExecuteWithRetry(ctx, "send_payout", func(attempt int) error {
		sendErr := e.client.SendTransaction(ctx, current)
		if sendErr == nil || relayerrors.IsAlreadyKnown(sendErr) {
			return nil
		}

		if relayerrors.IsNonceTooLow(sendErr) {
			landed, err := e.hasReceipt(ctx, current.Hash())
			if err != nil {
				return relayerrors.NewTransportError("failed to check payout receipt", err)
			}
			if landed {
				return nil
			}
			nonce, err := e.client.PendingNonceAt(ctx, e.builder.From())
			if err != nil {
				return relayerrors.NewTransientSubmissionError("failed to refresh nonce", err)
			}
			next, err := e.signAndJournal(ctx, row, recipient, amount, nonce, quote)
			if err != nil {
				return err
			}
			e.logger.Warn().
				Str("event", row.EventKey()).
				Uint64("nonce", nonce).
				Str("tx_hash", next.Hash().Hex()).
				Msg("nonce taken by another transaction, re-signed payout")
			current = next
			return relayerrors.NewTransientSubmissionError("payout nonce was consumed", sendErr)
		}

		return relayerrors.ClassifySubmissionError(sendErr)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !relayerrors.IsRetryable(err) {
		e.logger.Error().Err(err).Str("event", row.EventKey()).Msg("payout rejected by destination chain")
		if jerr := e.journal.MarkRejected(ctx, row, err.Error()); jerr != nil {
			return relayerrors.NewDatabaseError("failed to journal rejection", jerr)
		}
		return err
	}
	return e.abandonBroadcast(ctx, row, err)
}

// abandonBroadcast handles exhausted transient retries. If the node holds no
// transaction for our nonce, nothing can land and the payout is rejected for good.
func (e *Executor) abandonBroadcast(ctx context.Context, row *store.RelayTransaction, cause error) error {
	pending, err := e.client.PendingNonceAt(ctx, e.builder.From())
	if err != nil {
		// unknown whether it is in flight; the resolver settles it later
		return relayerrors.NewTransientSubmissionError("payout broadcast outcome unknown", cause)
	}
	if pending > row.Nonce {
		return nil
	}

	reason := fmt.Sprintf("submission failed after %d attempts: %v", e.cfg.MaxSubmitAttempts, cause)
	e.logger.Error().Str("event", row.EventKey()).Msg(reason)
	if jerr := e.journal.MarkRejected(ctx, row, reason); jerr != nil {
		return relayerrors.NewDatabaseError("failed to journal rejection", jerr)
	}
	return relayerrors.NewPermanentSubmissionError("payout submission retries exhausted", cause)
}

// awaitReceipt polls for the receipt of the journaled transaction. On timeout the
// row stays SUBMITTED and ErrConfirmationTimeout is returned.
func (e *Executor) awaitReceipt(ctx context.Context, row *store.RelayTransaction) (*store.RelayTransaction, error) {
	hash := ethcommon.HexToHash(row.DestTxHash)
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return row, e.applyReceipt(ctx, row, receipt)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			e.logger.Debug().Err(err).Str("tx_hash", row.DestTxHash).Msg("receipt lookup failed")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return row, ctx.Err()
			}
			e.logger.Warn().
				Str("event", row.EventKey()).
				Str("tx_hash", row.DestTxHash).
				Dur("waited", e.cfg.ReceiptTimeout).
				Msg("payout not confirmed in time, leaving it to the resolver")
			return row, relayerrors.NewTimeoutError("payout confirmation timed out", relayerrors.ErrConfirmationTimeout).
				WithContext("tx_hash", row.DestTxHash)
		case <-ticker.C:
		}
	}
}

func (e *Executor) applyReceipt(ctx context.Context, row *store.RelayTransaction, receipt *types.Receipt) error {
	if receipt.Status == types.ReceiptStatusSuccessful {
		e.logger.Info().
			Str("event", row.EventKey()).
			Str("tx_hash", receipt.TxHash.Hex()).
			Uint64("block", receipt.BlockNumber.Uint64()).
			Msg("payout confirmed")
		if err := e.journal.MarkConfirmed(ctx, row, receipt.TxHash.Hex()); err != nil {
			return relayerrors.NewDatabaseError("failed to journal confirmation", err)
		}
		return nil
	}

	e.logger.Error().Str("event", row.EventKey()).Str("tx_hash", receipt.TxHash.Hex()).Msg("payout reverted")
	if err := e.journal.MarkRejected(ctx, row, "execution reverted"); err != nil {
		return relayerrors.NewDatabaseError("failed to journal rejection", err)
	}
	return nil
}

func (e *Executor) hasReceipt(ctx context.Context, hash ethcommon.Hash) (bool, error) {
	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, err
	}
	return receipt != nil, nil
}
