package evm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
)

// sessionRunner is the part of Subscriber the supervisor drives.
type sessionRunner interface {
	Session(ctx context.Context, fromBlock uint64, out chan<- *common.PurchaseEvent, hooks SessionHooks) error
	LatestBlock(ctx context.Context) (uint64, error)
}

// Checkpointer reports the persisted resume point.
type Checkpointer interface {
	Checkpoint() (uint64, bool)
}

// SupervisorConfig controls reconnection.
type SupervisorConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// MaxAttempts aborts after this many consecutive failed sessions. 0 retries forever.
	MaxAttempts int
	// EventStartFrom is used when no checkpoint exists: >= 0 is a block, -1 or nil is the head.
	EventStartFrom *int64
}

// Supervisor owns the subscription lifecycle: it runs sessions, detects their end,
// and re-subscribes with backoff. Every session resumes from the checkpoint so
// the gap window is replayed before live streaming continues.
type Supervisor struct {
	runner     sessionRunner
	monitor    *common.ConnectionMonitor
	checkpoint Checkpointer
	backoff    *common.RetryManager
	cfg        SupervisorConfig
	logger     zerolog.Logger

	mu         sync.Mutex
	startBlock *uint64
}

// NewSupervisor creates a connection supervisor
func NewSupervisor(
	runner sessionRunner,
	monitor *common.ConnectionMonitor,
	checkpoint Checkpointer,
	cfg SupervisorConfig,
	logger zerolog.Logger,
) *Supervisor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}

	return &Supervisor{
		runner:     runner,
		monitor:    monitor,
		checkpoint: checkpoint,
		backoff: common.NewRetryManager(&common.RetryConfig{
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      cfg.MaxDelay,
			BackoffFactor: cfg.BackoffFactor,
		}, logger),
		cfg:    cfg,
		logger: logger.With().Str("component", "connection_supervisor").Logger(),
	}
}

// Monitor returns the connection state tracker.
func (s *Supervisor) Monitor() *common.ConnectionMonitor {
	return s.monitor
}

// Run keeps a subscription alive until ctx is cancelled or the retry budget is spent.
// Events are written to out, which is never closed here.
func (s *Supervisor) Run(ctx context.Context, out chan<- *common.PurchaseEvent, hooks SessionHooks) error {
	failures := 0

	sessionHooks := hooks
	sessionHooks.OnSubscribed = func() {
		failures = 0
		s.monitor.SetConnected()
		if hooks.OnSubscribed != nil {
			hooks.OnSubscribed()
		}
	}

	for {
		err := s.runSession(ctx, out, sessionHooks)
		if ctx.Err() != nil {
			s.monitor.SetDisconnected()
			s.logger.Info().Msg("stopping connection supervisor: context cancelled")
			return nil
		}

		s.monitor.SetDisconnected()
		failures++

		if s.cfg.MaxAttempts > 0 && failures > s.cfg.MaxAttempts {
			s.logger.Error().Err(err).Int("attempts", failures).Msg("giving up on source chain connection")
			return fmt.Errorf("source chain connection failed %d times in a row: %w", failures, err)
		}

		delay := s.backoff.CalculateBackoff(failures - 1)
		s.logger.Warn().
			Err(err).
			Int("attempt", failures).
			Dur("retry_in", delay).
			Msg("source chain session ended, reconnecting")

		if err := common.Sleep(ctx, delay); err != nil {
			return nil
		}
		s.monitor.SetReconnecting()
	}
}

func (s *Supervisor) runSession(ctx context.Context, out chan<- *common.PurchaseEvent, hooks SessionHooks) error {
	from, err := s.resumeBlock(ctx)
	if err != nil {
		return err
	}
	return s.runner.Session(ctx, from, out, hooks)
}

// resumeBlock picks the first block to replay: the checkpoint when one exists,
// otherwise the configured start, otherwise the head at first connection.
// The checkpoint block itself is replayed since it may hold undelivered logs.
func (s *Supervisor) resumeBlock(ctx context.Context) (uint64, error) {
	if s.checkpoint != nil {
		if height, ok := s.checkpoint.Checkpoint(); ok {
			return height, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startBlock != nil {
		return *s.startBlock, nil
	}

	var start uint64
	if s.cfg.EventStartFrom != nil && *s.cfg.EventStartFrom >= 0 {
		start = uint64(*s.cfg.EventStartFrom)
		s.logger.Info().Uint64("block", start).Msg("no checkpoint found, starting from configured block")
	} else {
		head, err := s.runner.LatestBlock(ctx)
		if err != nil {
			return 0, err
		}
		start = head
		s.logger.Info().Uint64("block", start).Msg("no checkpoint found, starting from latest block")
	}
	s.startBlock = &start
	return start, nil
}
