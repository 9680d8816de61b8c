// Package relay drives purchase events through dedupe, payout policy, balance
// check, execution and outcome recording.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/chains/evm"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
	"github.com/pushchain/payout-relay/relayer/idempotency"
	"github.com/pushchain/payout-relay/relayer/metrics"
	"github.com/pushchain/payout-relay/relayer/payout"
	"github.com/pushchain/payout-relay/relayer/store"
	"github.com/pushchain/payout-relay/relayer/txlog"
)

// PayoutExecutor submits payouts. Implemented by payout.Executor.
type PayoutExecutor interface {
	Submit(ctx context.Context, req payout.Request) (*store.RelayTransaction, error)
}

// PayoutJournal exposes earlier payout attempts and records rejections decided
// before submission. Implemented by payout.Journal.
type PayoutJournal interface {
	Get(ctx context.Context, id common.EventIdentity) (*store.RelayTransaction, error)
	RecordRejected(ctx context.Context, ev *common.PurchaseEvent, amount, reason string) (*store.RelayTransaction, error)
}

// BalanceChecker is the advisory funds check. Implemented by payout.BalanceGuard.
type BalanceChecker interface {
	CheckSufficient(ctx context.Context, required *big.Int) error
}

// OutcomeLog receives one entry per terminal outcome. Implemented by txlog.Writer.
type OutcomeLog interface {
	Append(entry txlog.Entry) error
}

// Config bounds per-event work.
type Config struct {
	MaxEventAttempts int
	RetryDelay       time.Duration
	ParkedRetry      time.Duration // how often parked events are driven again
	MaxConcurrent    int
}

// Orchestrator composes the relay pipeline for every delivered event.
type Orchestrator struct {
	guard     *idempotency.Guard
	converter *Converter
	balance   BalanceChecker
	executor  PayoutExecutor
	journal   PayoutJournal
	tracker   *Tracker
	outcomes  OutcomeLog
	metrics   *metrics.Metrics
	cfg       Config
	logger    zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	guard *idempotency.Guard,
	converter *Converter,
	balance BalanceChecker,
	executor PayoutExecutor,
	journal PayoutJournal,
	tracker *Tracker,
	outcomes OutcomeLog,
	m *metrics.Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.MaxEventAttempts < 1 {
		cfg.MaxEventAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.ParkedRetry <= 0 {
		cfg.ParkedRetry = time.Minute
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 16
	}
	return &Orchestrator{
		guard:     guard,
		converter: converter,
		balance:   balance,
		executor:  executor,
		journal:   journal,
		tracker:   tracker,
		outcomes:  outcomes,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With().Str("component", "relay_orchestrator").Logger(),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SessionHooks pins events in the checkpoint tracker as they are delivered and
// advances it after each gap replay.
func (o *Orchestrator) SessionHooks() evm.SessionHooks {
	return evm.SessionHooks{
		OnEvent: func(ev *common.PurchaseEvent) {
			o.metrics.IncEventObserved()
			o.tracker.Observe(ev)
		},
		OnDecodeError: func(types.Log, error) {
			o.metrics.IncDecodeFailure()
		},
		OnReplayed: o.tracker.Advance,
	}
}

// Run handles events until ctx is cancelled or events is closed, then waits for
// in-flight handlers. Every event on the channel must have been observed by the
// tracker. Parked events are driven again every ParkedRetry.
func (o *Orchestrator) Run(ctx context.Context, events <-chan *common.PurchaseEvent) error {
	defer o.wg.Wait()

	ticker := time.NewTicker(o.cfg.ParkedRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !o.dispatch(ctx, ev) {
				return nil
			}
		case <-ticker.C:
			parked := o.tracker.Unpark()
			if len(parked) > 0 {
				o.logger.Info().Int("events", len(parked)).Msg("retrying parked events")
			}
			for i, ev := range parked {
				if !o.dispatch(ctx, ev) {
					for _, rest := range parked[i+1:] {
						o.tracker.Park(rest)
						o.tracker.Done(rest.Identity())
					}
					return nil
				}
			}
		}
	}
}

// dispatch hands ev to a handler goroutine once a slot is free. It returns
// false when ctx ended first, leaving ev parked.
func (o *Orchestrator) dispatch(ctx context.Context, ev *common.PurchaseEvent) bool {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.tracker.Park(ev)
		o.tracker.Done(ev.Identity())
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() { <-o.sem }()
		o.Handle(ctx, ev)
	}()
	return true
}

// Handle runs the pipeline for one delivery of ev, retrying non-terminal failures.
// An event interrupted by shutdown stays pinned so the checkpoint cannot pass it.
func (o *Orchestrator) Handle(ctx context.Context, ev *common.PurchaseEvent) {
	id := ev.Identity()
	settled := false
	defer func() {
		if !settled {
			o.tracker.Park(ev)
		}
		o.tracker.Done(id)
	}()

	log := o.logger.With().
		Str("event", id.Key()).
		Str("buyer", ev.Buyer).
		Uint64("block", ev.BlockNumber).
		Logger()

	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Msg("discarding malformed event")
		settled = true
		return
	}

	started := time.Now()
	for attempt := 1; ; attempt++ {
		done, cause := o.process(ctx, ev, started, log)
		if done {
			settled = true
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= o.cfg.MaxEventAttempts {
			settled = o.exhausted(ctx, ev, attempt, cause, started, log)
			return
		}

		o.metrics.IncEventRetry()
		delay := o.cfg.RetryDelay * time.Duration(attempt)
		log.Warn().Int("attempt", attempt).Dur("retry_in", delay).Msg("payout not terminal, retrying")
		if err := common.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// exhausted settles an event that ran out of attempts. When nothing was
// broadcast the event is rejected; a journaled submission is parked for the
// next re-drive because its transaction may still land. Reports whether the
// event no longer needs a pin.
func (o *Orchestrator) exhausted(
	ctx context.Context,
	ev *common.PurchaseEvent,
	attempts int,
	cause error,
	started time.Time,
	log zerolog.Logger,
) bool {
	id := ev.Identity()

	ok, err := o.guard.ShouldProcess(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("idempotency check failed, parking event")
		return false
	}
	if !ok {
		// settled meanwhile, or another delivery holds it and keeps its own pin
		return true
	}

	var row *store.RelayTransaction
	if o.journal != nil {
		row, err = o.journal.Get(ctx, id)
	}
	if err != nil || (row != nil && row.Status == store.StatusSubmitted) {
		o.guard.Release(ctx, id)
		log.Error().Err(err).Int("attempts", attempts).Msg("payout still in flight, parking event")
		return false
	}

	reason := fmt.Sprintf("payout retries exhausted after %d attempts", attempts)
	if cause != nil {
		reason += ": " + cause.Error()
	}
	amount := ev.PayoutAmount
	if decision, err := o.converter.Decide(ev); err == nil {
		amount = decision.Amount
	}
	o.reject(ctx, ev, amount, reason, started)
	return true
}

// process makes one pass. done is false when the event needs another attempt,
// with cause describing why.
func (o *Orchestrator) process(ctx context.Context, ev *common.PurchaseEvent, started time.Time, log zerolog.Logger) (bool, error) {
	id := ev.Identity()

	ok, err := o.guard.ShouldProcess(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("idempotency check failed")
		return false, err
	}
	if !ok {
		o.metrics.IncDuplicate()
		log.Debug().Msg("duplicate event skipped")
		return true, nil
	}

	decision, err := o.converter.Decide(ev)
	if err != nil {
		o.reject(ctx, ev, ev.PayoutAmount, err.Error(), started)
		return true, nil
	}
	if decision.Mismatch() {
		log.Warn().
			Str("event_payout", decision.Event.String()).
			Str("computed_payout", decision.Computed.String()).
			Msg("paying event value that differs from the computed amount")
	}

	// a journaled submission must be resolved by the executor, whatever the balance says now
	if !o.hasSubmission(ctx, id, log) {
		if err := o.balance.CheckSufficient(ctx, decision.Amount); err != nil {
			if errors.Is(err, relayerrors.ErrInsufficientFunds) {
				o.reject(ctx, ev, decision.Amount, err.Error(), started)
				return true, nil
			}
			log.Warn().Err(err).Msg("balance check failed")
			o.guard.Release(ctx, id)
			return false, err
		}
	}

	row, err := o.executor.Submit(ctx, payout.Request{Event: ev, Amount: decision.Amount})
	if row != nil && row.IsTerminal() {
		o.finish(ctx, ev, decision.Amount, row.Status, row.ErrorMsg, row.DestTxHash, started)
		return true, nil
	}
	if err != nil && relayerrors.IsTerminal(err) {
		o.reject(ctx, ev, decision.Amount, err.Error(), started)
		return true, nil
	}

	o.guard.Release(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("payout attempt did not settle")
		return false, err
	}
	return false, errors.New("payout not terminal")
}

func (o *Orchestrator) hasSubmission(ctx context.Context, id common.EventIdentity, log zerolog.Logger) bool {
	if o.journal == nil {
		return false
	}
	row, err := o.journal.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read payout journal")
		return false
	}
	return row != nil && row.Status == store.StatusSubmitted
}

// reject journals a rejection decided before anything was broadcast, then
// finishes the event with it.
func (o *Orchestrator) reject(ctx context.Context, ev *common.PurchaseEvent, amount *big.Int, reason string, started time.Time) {
	if o.journal != nil {
		if _, err := o.journal.RecordRejected(ctx, ev, bigString(amount), reason); err != nil {
			o.logger.Error().Err(err).Str("event", ev.Identity().Key()).Msg("failed to journal rejection")
		}
	}
	o.finish(ctx, ev, amount, store.StatusRejected, reason, "", started)
}

// finish records the terminal outcome once and writes the relay log line.
func (o *Orchestrator) finish(
	ctx context.Context,
	ev *common.PurchaseEvent,
	amount *big.Int,
	status, reason, destTx string,
	started time.Time,
) {
	id := ev.Identity()
	newly, err := o.guard.RecordTerminal(ctx, id, idempotency.Outcome{Status: status, Reason: reason, DestTxHash: destTx})
	if err != nil {
		o.logger.Error().Err(err).Str("event", id.Key()).Msg("failed to record terminal outcome")
	}
	o.tracker.Settle(id)
	if err == nil && !newly {
		return
	}

	o.metrics.ObservePayout(status, time.Since(started))
	o.emit(txlog.Entry{
		Buyer:        ev.Buyer,
		StableAmount: bigString(ev.StableAmount),
		PayoutAmount: bigString(amount),
		SourceTxHash: id.TxHash,
		LogIndex:     id.LogIndex,
		SourceBlock:  ev.BlockNumber,
		Status:       status,
		DestTxHash:   destTx,
		Reason:       reason,
	})
}

// OnSettled records outcomes the executor settled in the background.
func (o *Orchestrator) OnSettled(row *store.RelayTransaction) {
	id := common.EventIdentity{TxHash: row.SourceTxHash, LogIndex: row.LogIndex}
	newly, err := o.guard.RecordTerminal(context.Background(), id, idempotency.Outcome{
		Status:     row.Status,
		Reason:     row.ErrorMsg,
		DestTxHash: row.DestTxHash,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("event", id.Key()).Msg("failed to record settled outcome")
	}
	o.tracker.Settle(id)
	if err == nil && !newly {
		return
	}

	o.metrics.ObservePayout(row.Status, time.Since(row.CreatedAt))
	o.emit(txlog.Entry{
		Buyer:        row.Buyer,
		StableAmount: row.StableAmount,
		PayoutAmount: row.PayoutAmount,
		SourceTxHash: row.SourceTxHash,
		LogIndex:     row.LogIndex,
		SourceBlock:  row.SourceBlock,
		Status:       row.Status,
		DestTxHash:   row.DestTxHash,
		Reason:       row.ErrorMsg,
	})
}

func (o *Orchestrator) emit(entry txlog.Entry) {
	entry.Timestamp = time.Now().UTC()

	event := o.logger.Info()
	if entry.Status != store.StatusConfirmed {
		event = o.logger.Warn()
	}
	event.
		Str("status", entry.Status).
		Str("event", store.FormatEventKey(entry.SourceTxHash, entry.LogIndex)).
		Str("buyer", entry.Buyer).
		Str("payout", entry.PayoutAmount).
		Str("dest_tx_hash", entry.DestTxHash).
		Str("reason", entry.Reason).
		Msg("payout terminal")

	if o.outcomes == nil {
		return
	}
	if err := o.outcomes.Append(entry); err != nil {
		o.logger.Error().Err(err).Str("status", entry.Status).Msg("failed to append relay log")
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
