package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/metrics"
)

// HeightStore persists the resume block. Implemented by common.ChainStore.
type HeightStore interface {
	GetChainHeight() (uint64, bool, error)
	UpdateChainHeight(blockHeight uint64) error
}

type pin struct {
	block uint64
	refs  int
}

// Tracker computes the source chain checkpoint: the lowest block that still
// holds an unsettled event, or the highest fully delivered block when nothing
// is pending. Sessions resume from the checkpoint inclusively.
type Tracker struct {
	store   HeightStore
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	inFlight  map[string]*pin  // delivered, not yet handled
	parked    map[string]*common.PurchaseEvent // out of attempts, waiting for a re-drive or replay
	highest   uint64
	persisted uint64
	hasSaved  bool
}

// NewTracker loads the stored checkpoint.
func NewTracker(store HeightStore, m *metrics.Metrics, logger zerolog.Logger) (*Tracker, error) {
	height, found, err := store.GetChainHeight()
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		store:    store,
		metrics:  m,
		logger:   logger.With().Str("component", "checkpoint_tracker").Logger(),
		inFlight: make(map[string]*pin),
		parked:   make(map[string]*common.PurchaseEvent),
	}
	if found {
		t.highest, t.persisted, t.hasSaved = height, height, true
		m.SetCheckpoint(height)
	}
	return t, nil
}

// Checkpoint returns the persisted resume block.
func (t *Tracker) Checkpoint() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persisted, t.hasSaved
}

// Observe pins the event's block. Must run before the event is handed downstream.
func (t *Tracker) Observe(ev *common.PurchaseEvent) {
	key := ev.Identity().Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.inFlight[key]; ok {
		p.refs++
		return
	}
	t.inFlight[key] = &pin{block: ev.BlockNumber, refs: 1}
	if ev.BlockNumber > t.highest {
		t.highest = ev.BlockNumber
	}
}

// Done releases one delivery of id.
func (t *Tracker) Done(id common.EventIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.inFlight[id.Key()]; ok {
		p.refs--
		if p.refs <= 0 {
			delete(t.inFlight, id.Key())
		}
	}
	t.flushLocked()
}

// Park keeps the event's block pinned after the relay stopped retrying it.
// Parked events come back through Unpark or the next replay.
func (t *Tracker) Park(ev *common.PurchaseEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parked[ev.Identity().Key()] = ev
}

// Unpark moves every parked event back in flight, one pin each, and returns
// them. Callers release each with Done.
func (t *Tracker) Unpark() []*common.PurchaseEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*common.PurchaseEvent, 0, len(t.parked))
	for key, ev := range t.parked {
		if p, ok := t.inFlight[key]; ok {
			p.refs++
		} else {
			t.inFlight[key] = &pin{block: ev.BlockNumber, refs: 1}
		}
		delete(t.parked, key)
		out = append(out, ev)
	}
	return out
}

// Settle drops a parked pin once the event has a terminal outcome.
func (t *Tracker) Settle(id common.EventIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.parked[id.Key()]; !ok {
		return
	}
	delete(t.parked, id.Key())
	t.flushLocked()
}

// Advance records that every log up to head was delivered.
func (t *Tracker) Advance(head uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if head > t.highest {
		t.highest = head
	}
	t.flushLocked()
}

// Pending returns the number of pinned events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight) + len(t.parked)
}

func (t *Tracker) safeHeightLocked() uint64 {
	safe := t.highest
	for _, p := range t.inFlight {
		if p.block < safe {
			safe = p.block
		}
	}
	for _, ev := range t.parked {
		if ev.BlockNumber < safe {
			safe = ev.BlockNumber
		}
	}
	return safe
}

func (t *Tracker) flushLocked() {
	safe := t.safeHeightLocked()
	if t.hasSaved && safe <= t.persisted {
		return
	}
	if err := t.store.UpdateChainHeight(safe); err != nil {
		t.logger.Error().Err(err).Uint64("block", safe).Msg("failed to persist checkpoint")
		return
	}
	t.persisted, t.hasSaved = safe, true
	t.metrics.SetCheckpoint(safe)
	t.logger.Debug().Uint64("block", safe).Msg("checkpoint advanced")
}
