package evm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

const defaultReplayBlockRange uint64 = 9000 // Safe under the 10000 RPC limit

// SessionHooks lets the caller observe a subscription session. All hooks are optional.
type SessionHooks struct {
	// OnSubscribed runs once the live subscription is accepted, before gap replay.
	OnSubscribed func()
	// OnEvent runs for every decoded event before it is handed to the output channel.
	OnEvent func(ev *common.PurchaseEvent)
	// OnDecodeError runs for every log that matched the filter but could not be decoded.
	OnDecodeError func(log types.Log, err error)
	// OnReplayed runs after every log up to head was delivered.
	OnReplayed func(head uint64)
}

// Subscriber streams decoded purchase events from the source chain
type Subscriber struct {
	source      LogSource
	parser      *EventParser
	replayRange uint64
	liveBuffer  int
	logger      zerolog.Logger
}

// NewSubscriber creates a subscriber over a log source
func NewSubscriber(source LogSource, parser *EventParser, replayRange uint64, liveBuffer int, logger zerolog.Logger) *Subscriber {
	if replayRange == 0 {
		replayRange = defaultReplayBlockRange
	}
	if liveBuffer <= 0 {
		liveBuffer = 128
	}
	return &Subscriber{
		source:      source,
		parser:      parser,
		replayRange: replayRange,
		liveBuffer:  liveBuffer,
		logger:      logger.With().Str("component", "evm_event_subscriber").Logger(),
	}
}

// LatestBlock returns the source chain head.
func (s *Subscriber) LatestBlock(ctx context.Context) (uint64, error) {
	head, err := s.source.BlockNumber(ctx)
	if err != nil {
		return 0, relayerrors.NewTransportError("failed to get latest block", err)
	}
	return head, nil
}

// Session runs one subscription lifetime. It subscribes to live logs, replays
// [fromBlock, head] so nothing emitted while disconnected is lost, then forwards
// live logs until the transport fails or ctx is cancelled. Overlap between the
// replay and the live stream is expected; consumers deduplicate by event identity.
//
// The returned error is a transport error unless ctx was cancelled.
func (s *Subscriber) Session(ctx context.Context, fromBlock uint64, out chan<- *common.PurchaseEvent, hooks SessionHooks) error {
	live := make(chan types.Log, s.liveBuffer)
	sub, err := s.source.SubscribeFilterLogs(ctx, s.parser.FilterQuery(nil, nil), live)
	if err != nil {
		return relayerrors.NewTransportError("failed to subscribe to purchase logs", err)
	}
	defer sub.Unsubscribe()

	if hooks.OnSubscribed != nil {
		hooks.OnSubscribed()
	}

	head, err := s.replay(ctx, fromBlock, out, hooks)
	if err != nil {
		return err
	}
	if hooks.OnReplayed != nil {
		hooks.OnReplayed(head)
	}

	s.logger.Info().Uint64("head", head).Msg("gap replay complete, streaming live logs")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case subErr, ok := <-sub.Err():
			if !ok || subErr == nil {
				return relayerrors.NewTransportError("log subscription ended", relayerrors.ErrSubscriptionClosed)
			}
			return relayerrors.NewTransportError("log subscription failed", subErr)
		case lg := <-live:
			if err := s.deliver(ctx, lg, out, hooks); err != nil {
				return err
			}
		}
	}
}

// replay delivers every matching log in [fromBlock, head] in chunks and returns head
func (s *Subscriber) replay(ctx context.Context, fromBlock uint64, out chan<- *common.PurchaseEvent, hooks SessionHooks) (uint64, error) {
	head, err := s.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if fromBlock > head {
		return head, nil
	}

	s.logger.Info().
		Uint64("from_block", fromBlock).
		Uint64("to_block", head).
		Msg("replaying gap window")

	for currentFrom := fromBlock; currentFrom <= head; {
		currentTo := currentFrom + s.replayRange - 1
		if currentTo > head || currentTo < currentFrom {
			currentTo = head
		}

		query := s.parser.FilterQuery(new(big.Int).SetUint64(currentFrom), new(big.Int).SetUint64(currentTo))
		logs, err := s.source.FilterLogs(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, relayerrors.NewTransportError("failed to replay purchase logs", err).
				WithContext("from_block", currentFrom).
				WithContext("to_block", currentTo)
		}

		if len(logs) > 0 {
			s.logger.Info().
				Uint64("from_block", currentFrom).
				Uint64("to_block", currentTo).
				Int("logs_found", len(logs)).
				Msg("found purchase events in gap window")
		}

		for _, lg := range logs {
			if err := s.deliver(ctx, lg, out, hooks); err != nil {
				return 0, err
			}
		}

		if currentTo == head {
			break
		}
		currentFrom = currentTo + 1
	}
	return head, nil
}

// deliver decodes one log and pushes it downstream. Decode failures are reported
// and swallowed so the stream keeps going.
func (s *Subscriber) deliver(ctx context.Context, lg types.Log, out chan<- *common.PurchaseEvent, hooks SessionHooks) error {
	ev, err := s.parser.Parse(&lg)
	if err != nil {
		if errors.Is(err, ErrSkipLog) {
			s.logger.Debug().
				Str("tx_hash", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Bool("removed", lg.Removed).
				Msg("skipping log")
			return nil
		}
		s.logger.Warn().
			Err(err).
			Str("tx_hash", lg.TxHash.Hex()).
			Uint("log_index", lg.Index).
			Uint64("block", lg.BlockNumber).
			Msg("failed to decode purchase log")
		if hooks.OnDecodeError != nil {
			hooks.OnDecodeError(lg, err)
		}
		return nil
	}

	if hooks.OnEvent != nil {
		hooks.OnEvent(ev)
	}

	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
