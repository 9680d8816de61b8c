package payout

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/chains/common"
	"github.com/pushchain/payout-relay/relayer/chains/evm"
	"github.com/pushchain/payout-relay/relayer/db"
)

var (
	simulatedChainID = big.NewInt(1337)
	oneEther         = big.NewInt(1e18)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneEther)
}

// flakyClient lets tests inject broadcast failures in front of the simulated chain.
type flakyClient struct {
	simulated.Client

	mu    sync.Mutex
	sends int
	// sendHook, when set, decides each broadcast. forward sends to the real chain.
	sendHook func(attempt int, tx *types.Transaction, forward func() error) error
}

func (f *flakyClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	attempt := f.sends
	f.sends++
	hook := f.sendHook
	f.mu.Unlock()

	forward := func() error { return f.Client.SendTransaction(ctx, tx) }
	if hook != nil {
		return hook(attempt, tx, forward)
	}
	return forward()
}

func (f *flakyClient) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type testEnv struct {
	backend  *simulated.Backend
	client   *flakyClient
	key      *ecdsa.PrivateKey
	funder   ethcommon.Address
	builder  *evm.TxBuilder
	journal  *Journal
	executor *Executor
}

func newTestEnv(t *testing.T, funding *big.Int, cfg Config) *testEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	funder := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(types.GenesisAlloc{
		funder: {Balance: funding},
	})
	t.Cleanup(func() { _ = backend.Close() })

	builder, err := evm.NewTxBuilder(hexutil.Encode(crypto.FromECDSA(key)), simulatedChainID, 21000)
	require.NoError(t, err)

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = 5 * time.Millisecond
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 5 * time.Second
	}
	if cfg.SubmitRetryDelay == 0 {
		cfg.SubmitRetryDelay = time.Millisecond
	}
	if cfg.ResolveInterval == 0 {
		cfg.ResolveInterval = time.Hour
	}

	client := &flakyClient{Client: backend.Client()}
	journal := NewJournal(database)
	executor := NewExecutor(client, builder, journal, cfg, nil, zerolog.Nop())

	return &testEnv{
		backend:  backend,
		client:   client,
		key:      key,
		funder:   funder,
		builder:  builder,
		journal:  journal,
		executor: executor,
	}
}

// mine commits blocks until the test ends.
func (env *testEnv) mine(t *testing.T) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	env.executor.Start(context.Background())
	t.Cleanup(env.executor.Stop)
}

func (env *testEnv) balanceOf(t *testing.T, addr ethcommon.Address) *big.Int {
	t.Helper()
	balance, err := env.client.BalanceAt(context.Background(), addr, nil)
	require.NoError(t, err)
	return balance
}

func (env *testEnv) minedNonce(t *testing.T) uint64 {
	t.Helper()
	nonce, err := env.client.NonceAt(context.Background(), env.funder, nil)
	require.NoError(t, err)
	return nonce
}

func testEvent(n int, buyer ethcommon.Address) *common.PurchaseEvent {
	return &common.PurchaseEvent{
		Buyer:        buyer.Hex(),
		StableAmount: big.NewInt(1_000_000),
		PayoutAmount: ether(10),
		TxHash:       fmt.Sprintf("0x%064x", n+1),
		LogIndex:     0,
		BlockNumber:  uint64(100 + n),
	}
}

func randomAddress(t *testing.T) ethcommon.Address {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}
