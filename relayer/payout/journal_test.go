package payout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/db"
	"github.com/pushchain/payout-relay/relayer/store"
)

func TestJournal_Lifecycle(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	journal := NewJournal(database)
	ctx := context.Background()
	ev := testEvent(7, randomAddress(t))

	missing, err := journal.Get(ctx, ev.Identity())
	require.NoError(t, err)
	assert.Nil(t, missing)

	row, err := journal.CreatePending(ctx, ev, ether(10).String(), 21000)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, row.Status)
	assert.Equal(t, ev.BlockNumber, row.SourceBlock)

	_, err = journal.CreatePending(ctx, ev, ether(10).String(), 21000)
	assert.Error(t, err, "one row per event identity")

	require.NoError(t, journal.MarkSubmitted(ctx, row, "0xfeed", 4, "0x02"))
	submitted, err := journal.ListByStatus(ctx, store.StatusSubmitted)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, uint64(4), submitted[0].Nonce)
	assert.Equal(t, 1, submitted[0].Attempts)

	require.NoError(t, journal.ResetPending(ctx, row, "nonce consumed"))
	got, err := journal.Get(ctx, ev.Identity())
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Empty(t, got.DestTxHash)

	require.NoError(t, journal.MarkConfirmed(ctx, row, "0xbeef"))
	got, err = journal.Get(ctx, ev.Identity())
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, "0xbeef", got.DestTxHash)

	other, err := journal.CreatePending(ctx, testEvent(8, randomAddress(t)), "1", 21000)
	require.NoError(t, err)
	require.NoError(t, journal.MarkRejected(ctx, other, "insufficient funds"))

	counts, err := journal.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{store.StatusConfirmed: 1, store.StatusRejected: 1}, counts)
}

func TestJournal_RecordRejected(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()

	journal := NewJournal(database)
	ctx := context.Background()

	// never journaled: created straight as REJECTED
	fresh := testEvent(1, randomAddress(t))
	row, err := journal.RecordRejected(ctx, fresh, ether(10).String(), "insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, row.Status)
	got, err := journal.Get(ctx, fresh.Identity())
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", got.ErrorMsg)
	assert.Equal(t, fresh.BlockNumber, got.SourceBlock)

	pendingEv := testEvent(2, randomAddress(t))
	_, err = journal.CreatePending(ctx, pendingEv, "1", 21000)
	require.NoError(t, err)
	row, err = journal.RecordRejected(ctx, pendingEv, "1", "retries exhausted")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, row.Status)

	submittedEv := testEvent(3, randomAddress(t))
	submitted, err := journal.CreatePending(ctx, submittedEv, "1", 21000)
	require.NoError(t, err)
	require.NoError(t, journal.MarkSubmitted(ctx, submitted, "0xfeed", 0, "0x02"))
	row, err = journal.RecordRejected(ctx, submittedEv, "1", "retries exhausted")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSubmitted, row.Status, "a broadcast payout is left to the resolver")

	counts, err := journal.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{store.StatusRejected: 2, store.StatusSubmitted: 1}, counts)
}
