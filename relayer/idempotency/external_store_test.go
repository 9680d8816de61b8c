package idempotency

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/store"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("0xtest%d:0", time.Now().UnixNano())

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	stored, err := s.Save(ctx, Record{Key: key, Outcome: store.StatusRejected, Reason: "insufficient funds"})
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = s.Save(ctx, Record{Key: key, Outcome: store.StatusConfirmed})
	require.NoError(t, err)
	assert.False(t, stored)

	rec, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.StatusRejected, rec.Outcome)
	assert.Equal(t, "insufficient funds", rec.Reason)

	exerciseClaims(t, s)
}

func exerciseClaims(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("0xclaim%d:0", time.Now().UnixNano())

	claimed, err := s.Claim(ctx, key, "relay-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(ctx, key, "relay-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "live lease held by another owner")

	claimed, err = s.Claim(ctx, key, "relay-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "owner renews its own lease")

	require.NoError(t, s.Unclaim(ctx, key, "relay-b"))
	claimed, err = s.Claim(ctx, key, "relay-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "unclaim by a non-owner is ignored")

	require.NoError(t, s.Unclaim(ctx, key, "relay-a"))
	claimed, err = s.Claim(ctx, key, "relay-b", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed)

	time.Sleep(250 * time.Millisecond)
	claimed, err = s.Claim(ctx, key, "relay-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired lease can be taken over")
}

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRedisStoreLifecycle(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	s, err := NewRedisStore(context.Background(), url, "payout-relay-test")
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "")
	assert.Error(t, err)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", "x")
	assert.Error(t, err)
}
