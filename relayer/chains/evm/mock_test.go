package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testContract = ethcommon.HexToAddress("0x669AA9f2D877d8aa874256a6115f011970f9f8e7")
	testBuyer    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000aA")
)

// testLog builds a PurchaseOccurred log for testBuyer paying 10 units for 1 stable unit.
func testLog(txByte byte, logIndex uint, block uint64) types.Log {
	event := purchaseABI.Events[PurchaseEventName]
	data, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(1_000_000),
		new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
	)
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     testContract,
		Topics:      []ethcommon.Hash{event.ID, ethcommon.BytesToHash(testBuyer.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      ethcommon.BytesToHash([]byte{txByte}),
		Index:       logIndex,
	}
}

type fakeSubscription struct {
	errCh chan error
	once  sync.Once
	done  chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1), done: make(chan struct{})}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

// fakeLogSource simulates a websocket node: a log history for FilterLogs and a
// live channel per subscription.
type fakeLogSource struct {
	mu            sync.Mutex
	head          uint64
	history       []types.Log
	sub           *fakeSubscription
	live          chan<- types.Log
	subscribeErrs []error
	filterRanges  [][2]uint64
	subscribed    chan struct{}
	blockErr      error
}

func newFakeLogSource(head uint64) *fakeLogSource {
	return &fakeLogSource{head: head, subscribed: make(chan struct{}, 16)}
}

func (f *fakeLogSource) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return f.head, nil
}

func (f *fakeLogSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.filterRanges = append(f.filterRanges, [2]uint64{from, to})

	var out []types.Log
	for _, lg := range f.history {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeLogSource) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.sub = newFakeSubscription()
	f.live = ch
	f.subscribed <- struct{}{}
	return f.sub, nil
}

// emitLive mines a log and pushes it to the live subscriber.
func (f *fakeLogSource) emitLive(lg types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, lg)
	if lg.BlockNumber > f.head {
		f.head = lg.BlockNumber
	}
	if f.live != nil {
		f.live <- lg
	}
}

// mineSilently records a log in history without live delivery, as if emitted while disconnected.
func (f *fakeLogSource) mineSilently(lg types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, lg)
	if lg.BlockNumber > f.head {
		f.head = lg.BlockNumber
	}
}

// dropConnection fails the current subscription like a closed websocket.
func (f *fakeLogSource) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		f.sub.errCh <- errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")
		f.live = nil
	}
}

func (f *fakeLogSource) ranges() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint64(nil), f.filterRanges...)
}

type fakeCheckpoint struct {
	mu     sync.Mutex
	height uint64
	ok     bool
}

func (c *fakeCheckpoint) Checkpoint() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.ok
}

func (c *fakeCheckpoint) advance(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ok || h > c.height {
		c.height, c.ok = h, true
	}
}
