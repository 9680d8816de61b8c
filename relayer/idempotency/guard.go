package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

// Outcome is the terminal result written for an identity.
type Outcome struct {
	Status     string // CONFIRMED or REJECTED
	Reason     string
	DestTxHash string
}

// Guard gates events by identity. An identity passes once: while it is being
// worked on it is claimed in memory and leased in the Store, and once its payout
// is terminal it is recorded in the Store. Retryable failures release the claim
// without recording. Relays sharing a Store see each other's leases.
type Guard struct {
	store  Store
	owner  string
	lease  time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithOwner sets the name this relay claims events under.
func WithOwner(owner string) GuardOption {
	return func(g *Guard) {
		if owner != "" {
			g.owner = owner
		}
	}
}

// WithLease sets how long a claim survives without renewal.
func WithLease(lease time.Duration) GuardOption {
	return func(g *Guard) {
		if lease > 0 {
			g.lease = lease
		}
	}
}

// NewGuard creates a guard over store.
func NewGuard(store Store, logger zerolog.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		store:    store,
		owner:    "payout-relay",
		lease:    2 * time.Minute,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logger.With().Str("component", "idempotency_guard").Str("owner", g.owner).Logger()
	return g
}

// ShouldProcess returns true and claims id the first time it is seen, false when
// id is in flight here, leased by another relay, or already has a terminal outcome.
func (g *Guard) ShouldProcess(ctx context.Context, id common.EventIdentity) (bool, error) {
	key := id.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[key]; busy {
		return false, nil
	}

	if done, err := g.processed(ctx, key); err != nil || done {
		return false, err
	}

	claimed, err := g.store.Claim(ctx, key, g.owner, g.lease)
	if err != nil {
		return false, relayerrors.NewDatabaseError("failed to claim event", err).WithContext("event", key)
	}
	if !claimed {
		g.logger.Debug().Str("event", key).Msg("event claimed by another relay")
		return false, nil
	}

	// the previous holder records before it unclaims, so a fresh read settles the race
	if done, err := g.processed(ctx, key); err != nil || done {
		g.unclaim(ctx, key)
		return false, err
	}

	g.inFlight[key] = struct{}{}
	return true, nil
}

func (g *Guard) processed(ctx context.Context, key string) (bool, error) {
	rec, err := g.store.Get(ctx, key)
	if err != nil {
		return false, relayerrors.NewDatabaseError("failed to read processed set", err).WithContext("event", key)
	}
	if rec != nil {
		g.logger.Debug().Str("event", key).Str("outcome", rec.Outcome).Msg("event already processed")
		return true, nil
	}
	return false, nil
}

// RecordTerminal stores the outcome and drops the claim. The first recorded
// outcome wins; newly is false when one existed already.
func (g *Guard) RecordTerminal(ctx context.Context, id common.EventIdentity, outcome Outcome) (bool, error) {
	key := id.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	newly, err := g.store.Save(ctx, Record{
		Key:        key,
		Outcome:    outcome.Status,
		Reason:     outcome.Reason,
		DestTxHash: outcome.DestTxHash,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		// keep the claim so nothing else picks the event up before the write succeeds
		return false, relayerrors.NewDatabaseError("failed to record terminal outcome", err).WithContext("event", key)
	}
	delete(g.inFlight, key)
	g.unclaim(ctx, key)

	if !newly {
		g.logger.Warn().Str("event", key).Str("outcome", outcome.Status).Msg("terminal outcome already recorded")
	}
	return newly, nil
}

// Release drops a claim after a retryable failure so the event can be retried.
func (g *Guard) Release(ctx context.Context, id common.EventIdentity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, id.Key())
	g.unclaim(ctx, id.Key())
}

// Run renews the leases of claimed identities every third of the lease until
// ctx ends.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.renew(ctx)
		}
	}
}

func (g *Guard) renew(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.inFlight {
		held, err := g.store.Claim(ctx, key, g.owner, g.lease)
		if err != nil {
			g.logger.Warn().Err(err).Str("event", key).Msg("failed to renew claim")
			continue
		}
		if !held {
			g.logger.Error().Str("event", key).Msg("claim taken over by another relay")
		}
	}
}

// unclaim drops the store lease even when ctx is already cancelled. A failure
// only delays other relays until the lease runs out.
func (g *Guard) unclaim(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.store.Unclaim(ctx, key, g.owner); err != nil {
		g.logger.Warn().Err(err).Str("event", key).Msg("failed to release claim")
	}
}

// Lookup returns the terminal record for id, or nil.
func (g *Guard) Lookup(ctx context.Context, id common.EventIdentity) (*Record, error) {
	return g.store.Get(ctx, id.Key())
}

// InFlight returns the number of claimed identities.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
