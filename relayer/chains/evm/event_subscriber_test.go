package evm

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

func receiveEvent(t *testing.T, out <-chan *common.PurchaseEvent) *common.PurchaseEvent {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubscriber_ReplaysInChunks(t *testing.T) {
	source := newFakeLogSource(25)
	source.mineSilently(testLog(0x01, 0, 3))
	source.mineSilently(testLog(0x02, 0, 14))
	source.mineSilently(testLog(0x03, 1, 25))

	sub := NewSubscriber(source, newTestParser(t), 10, 8, zerolog.Nop())
	out := make(chan *common.PurchaseEvent, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replayed := make(chan uint64, 1)
	done := make(chan error, 1)
	go func() {
		done <- sub.Session(ctx, 1, out, SessionHooks{
			OnReplayed: func(head uint64) { replayed <- head },
		})
	}()

	assert.Equal(t, uint64(3), receiveEvent(t, out).BlockNumber)
	assert.Equal(t, uint64(14), receiveEvent(t, out).BlockNumber)
	assert.Equal(t, uint64(25), receiveEvent(t, out).BlockNumber)
	assert.Equal(t, uint64(25), <-replayed)

	assert.Equal(t, [][2]uint64{{1, 10}, {11, 20}, {21, 25}}, source.ranges())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSubscriber_LiveLogsAndDecodeFailures(t *testing.T) {
	source := newFakeLogSource(5)
	sub := NewSubscriber(source, newTestParser(t), 100, 8, zerolog.Nop())
	out := make(chan *common.PurchaseEvent, 8)

	var decodeFailures []types.Log
	var observed []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sub.Session(ctx, 6, out, SessionHooks{
			OnEvent:       func(ev *common.PurchaseEvent) { observed = append(observed, ev.Identity().Key()) },
			OnDecodeError: func(lg types.Log, err error) { decodeFailures = append(decodeFailures, lg) },
		})
	}()
	<-source.subscribed

	broken := testLog(0x09, 0, 6)
	broken.Data = broken.Data[:10]
	source.emitLive(broken)

	removed := testLog(0x0a, 0, 6)
	removed.Removed = true
	source.emitLive(removed)

	source.emitLive(testLog(0x0b, 3, 7))

	ev := receiveEvent(t, out)
	assert.Equal(t, uint(3), ev.LogIndex)

	source.dropConnection()
	err := <-done
	require.Error(t, err)
	assert.Equal(t, relayerrors.ErrCodeTransport, relayerrors.CodeOf(err))

	require.Len(t, decodeFailures, 1)
	assert.Equal(t, broken.TxHash, decodeFailures[0].TxHash)
	assert.Equal(t, []string{ev.Identity().Key()}, observed)
}

func TestSubscriber_SubscribeFailure(t *testing.T) {
	source := newFakeLogSource(5)
	source.subscribeErrs = []error{assert.AnError}
	sub := NewSubscriber(source, newTestParser(t), 100, 8, zerolog.Nop())

	err := sub.Session(context.Background(), 1, make(chan *common.PurchaseEvent), SessionHooks{})
	require.Error(t, err)
	assert.True(t, relayerrors.IsRetryable(err))
}
