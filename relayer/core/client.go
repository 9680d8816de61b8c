// Package core assembles the relay from its components and runs it.
package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushchain/payout-relay/relayer/api"
	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/chains/evm"
	"github.com/pushchain/payout-relay/relayer/config"
	"github.com/pushchain/payout-relay/relayer/constant"
	"github.com/pushchain/payout-relay/relayer/db"
	"github.com/pushchain/payout-relay/relayer/idempotency"
	"github.com/pushchain/payout-relay/relayer/metrics"
	"github.com/pushchain/payout-relay/relayer/payout"
	"github.com/pushchain/payout-relay/relayer/relay"
	"github.com/pushchain/payout-relay/relayer/txlog"
)

// Dependencies lets callers supply pre-built clients. Nil fields are created from
// the config.
type Dependencies struct {
	Source      evm.LogSource
	Destination payout.DestinationClient
	Database    *db.DB
}

// RelayClient owns every relay component and their lifecycle.
type RelayClient struct {
	log zerolog.Logger
	cfg *config.Config

	metrics      *metrics.Metrics
	database     *db.DB
	tracker      *relay.Tracker
	processed    idempotency.Store
	guard        *idempotency.Guard
	journal      *payout.Journal
	executor     *payout.Executor
	monitor      *common.ConnectionMonitor
	supervisor   *evm.Supervisor
	orchestrator *relay.Orchestrator
	txLog        *txlog.Writer
	server       *api.Server
	validator    *StartupValidator

	closers []func()
}

// NewRelayClient wires the relay. On error everything opened so far is closed.
func NewRelayClient(
	ctx context.Context,
	cfg *config.Config,
	secrets config.Secrets,
	deps Dependencies,
	log zerolog.Logger,
) (_ *RelayClient, err error) {
	c := &RelayClient{
		log:     log.With().Str("component", "relay_client").Logger(),
		cfg:     cfg,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.database = deps.Database
	if c.database == nil {
		c.database, err = db.OpenFileDB(cfg.DatabaseDir(), constant.DatabaseFileName, true)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open relay database")
		}
		database := c.database
		c.closers = append(c.closers, func() { _ = database.Close() })
	}

	c.tracker, err = relay.NewTracker(common.NewChainStore(c.database), c.metrics, log)
	if err != nil {
		return nil, err
	}

	c.processed, err = idempotency.Open(ctx, cfg.Idempotency, c.database, log)
	if err != nil {
		return nil, err
	}
	processed := c.processed
	c.closers = append(c.closers, func() { _ = processed.Close() })
	c.guard = idempotency.NewGuard(c.processed, log,
		idempotency.WithOwner(cfg.Idempotency.RelayID),
		idempotency.WithLease(cfg.Idempotency.ClaimLease()),
	)

	source := deps.Source
	if source == nil {
		client, err := evm.NewRPCClient(ctx, config.ExpandURLs(cfg.SourceChain.WSURLs, secrets.ProviderAPIKey), cfg.SourceChain.ChainID, log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to source chain")
		}
		c.closers = append(c.closers, client.Close)
		source = client
	}

	destination := deps.Destination
	if destination == nil {
		client, err := evm.NewRPCClient(ctx, config.ExpandURLs(cfg.DestinationChain.RPCURLs, secrets.ProviderAPIKey), cfg.DestinationChain.ChainID, log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to destination chain")
		}
		c.closers = append(c.closers, client.Close)
		destination = client
	}

	builder, err := evm.NewTxBuilder(secrets.PrivateKeyHex, cfg.DestinationChainID(), cfg.DestinationChain.GasLimit)
	if err != nil {
		return nil, errors.Wrap(err, "invalid funding key")
	}
	c.validator = NewStartupValidator(log, cfg, destination, builder.From())

	c.journal = payout.NewJournal(c.database)
	c.executor = payout.NewExecutor(destination, builder, c.journal, payout.Config{
		FeeCapMultiplier:    cfg.DestinationChain.FeeCapMultiplier,
		MaxSubmitAttempts:   cfg.DestinationChain.MaxSubmitAttempts,
		ReceiptTimeout:      cfg.DestinationChain.ReceiptTimeout(),
		ReceiptPollInterval: cfg.DestinationChain.ReceiptPollInterval(),
		ResolveInterval:     cfg.DestinationChain.ResolveInterval(),
		MaxNotFoundChecks:   cfg.DestinationChain.MaxNotFoundChecks,
	}, c.metrics, log)

	parser, err := evm.NewEventParser(cfg.SourceChain.ContractAddress, log)
	if err != nil {
		return nil, err
	}
	subscriber := evm.NewSubscriber(source, parser, cfg.SourceChain.ReplayBlockRange, cfg.SourceChain.SubscriptionBuffer, log)

	c.monitor = common.NewConnectionMonitor(log)
	c.monitor.OnTransition(c.metrics.ObserveTransition)
	c.supervisor = evm.NewSupervisor(subscriber, c.monitor, c.tracker, evm.SupervisorConfig{
		InitialDelay:   cfg.Supervisor.ReconnectInitialDelay(),
		MaxDelay:       cfg.Supervisor.ReconnectMaxDelay(),
		BackoffFactor:  cfg.Supervisor.ReconnectBackoffFactor,
		MaxAttempts:    cfg.Supervisor.MaxReconnectAttempts,
		EventStartFrom: cfg.SourceChain.EventStartFrom,
	}, log)

	converter, err := relay.NewConverterFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	c.txLog, err = txlog.Open(cfg.ResolvedTxLogPath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open relay log")
	}
	txLog := c.txLog
	c.closers = append(c.closers, func() { _ = txLog.Close() })

	c.orchestrator = relay.NewOrchestrator(
		c.guard,
		converter,
		c.executor.BalanceGuard(),
		c.executor,
		c.journal,
		c.tracker,
		c.txLog,
		c.metrics,
		relay.Config{
			MaxEventAttempts: cfg.Payout.MaxEventAttempts,
			RetryDelay:       cfg.Payout.EventRetryDelay(),
			ParkedRetry:      cfg.Payout.ParkedRetryInterval(),
			MaxConcurrent:    cfg.Payout.MaxConcurrentEvents,
		},
		log,
	)
	c.executor.OnSettled(c.orchestrator.OnSettled)

	if cfg.QueryServerPort > 0 {
		c.server = api.NewServer(log, c, api.Options{
			Port:       cfg.QueryServerPort,
			TxLogPath:  c.txLog.Path(),
			CORSOrigin: cfg.CORSAllowedOrigin,
			Metrics:    c.metrics.Handler(),
		})
	}

	return c, nil
}

// Start runs the relay until ctx is cancelled or the source connection is given up.
func (c *RelayClient) Start(ctx context.Context) error {
	c.log.Info().Msg("🚀 Starting payout relay...")

	if _, err := c.validator.ValidateStartupRequirements(ctx); err != nil {
		return err
	}

	c.executor.Start(ctx)
	defer c.executor.Stop()

	if c.server != nil {
		if err := c.server.Start(); err != nil {
			return errors.Wrap(err, "failed to start query server")
		}
	}

	events := make(chan *common.PurchaseEvent, c.cfg.SourceChain.SubscriptionBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.supervisor.Run(gctx, events, c.orchestrator.SessionHooks())
	})
	g.Go(func() error {
		return c.orchestrator.Run(gctx, events)
	})
	g.Go(func() error {
		return c.guard.Run(gctx)
	})

	c.log.Info().Msg("✅ Initialization complete. Listening for purchases...")
	err := g.Wait()

	c.log.Info().Msg("🛑 Shutting down payout relay...")
	return err
}

// Close releases everything the client opened. Safe to call more than once.
func (c *RelayClient) Close() {
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("failed to stop query server")
		}
		c.server = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Status implements api.StatusProvider.
func (c *RelayClient) Status(ctx context.Context) api.StatusResponse {
	resp := api.StatusResponse{
		ConnectionState: c.monitor.GetState().String(),
		Reconnects:      int(c.monitor.Reconnects()),
		PendingEvents:   c.tracker.Pending(),
		FundingAccount:  c.executor.BalanceGuard().Account().Hex(),
		InFlight:        c.guard.InFlight(),
	}
	if height, ok := c.tracker.Checkpoint(); ok {
		resp.Checkpoint = &height
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if balance, err := c.executor.BalanceGuard().Available(ctx); err == nil {
		resp.FundingBalance = balance.String()
	}
	counts, err := c.journal.CountByStatus(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to count payouts")
		counts = map[string]int64{}
	}
	resp.Payouts = counts
	return resp
}

// Metrics exposes the relay's metric set.
func (c *RelayClient) Metrics() *metrics.Metrics {
	return c.metrics
}
