package core

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/payout-relay/relayer/config"
	"github.com/pushchain/payout-relay/relayer/db"
)

var purchaseContract = ethcommon.HexToAddress("0x669AA9f2D877d8aa874256a6115f011970f9f8e7")

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type sourceSubscription struct {
	errCh chan error
}

func (s *sourceSubscription) Err() <-chan error { return s.errCh }
func (s *sourceSubscription) Unsubscribe()      {}

// sourceChain stands in for the source websocket node.
type sourceChain struct {
	mu         sync.Mutex
	head       uint64
	history    []types.Log
	sub        *sourceSubscription
	live       chan<- types.Log
	subscribed chan struct{}
}

func newSourceChain(head uint64) *sourceChain {
	return &sourceChain{head: head, subscribed: make(chan struct{}, 16)}
}

func (s *sourceChain) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *sourceChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range s.history {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *sourceChain) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = &sourceSubscription{errCh: make(chan error, 1)}
	s.live = ch
	s.subscribed <- struct{}{}
	return s.sub, nil
}

func (s *sourceChain) mine(lg types.Log, deliver bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, lg)
	if lg.BlockNumber > s.head {
		s.head = lg.BlockNumber
	}
	if deliver && s.live != nil {
		s.live <- lg
	}
}

func (s *sourceChain) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.errCh <- errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")
		s.live = nil
	}
}

func waitSubscribed(t *testing.T, s *sourceChain) {
	t.Helper()
	select {
	case <-s.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("relay never subscribed to the source chain")
	}
}

type destinationChain struct {
	backend *simulated.Backend
	key     *ecdsa.PrivateKey
	funder  ethcommon.Address
}

func newDestinationChain(t *testing.T, funding *big.Int) *destinationChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	funder := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(types.GenesisAlloc{funder: {Balance: funding}})
	t.Cleanup(func() { _ = backend.Close() })

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
				backend.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})

	return &destinationChain{backend: backend, key: key, funder: funder}
}

func (d *destinationChain) secrets() config.Secrets {
	return config.Secrets{
		PrivateKeyHex:  hexutil.Encode(crypto.FromECDSA(d.key)),
		ProviderAPIKey: "test",
	}
}

func (d *destinationChain) balanceOf(t *testing.T, addr ethcommon.Address) *big.Int {
	t.Helper()
	bal, err := d.backend.Client().BalanceAt(context.Background(), addr, nil)
	require.NoError(t, err)
	return bal
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadDefaultConfig()
	require.NoError(t, err)

	start := int64(0)
	cfg.NodeHome = t.TempDir()
	cfg.TxLogPath = filepath.Join(cfg.NodeHome, "relay-log.jsonl")
	cfg.SourceChain.ContractAddress = purchaseContract.Hex()
	cfg.SourceChain.EventStartFrom = &start
	cfg.DestinationChain.ChainID = 1337
	cfg.DestinationChain.ReceiptPollIntervalMs = 10
	cfg.DestinationChain.ReceiptTimeoutSeconds = 10
	cfg.Payout.EventRetryDelaySeconds = 1
	cfg.Idempotency.Backend = config.IdempotencyBackendSQLite
	cfg.Supervisor.ReconnectInitialDelayMs = 10
	cfg.Supervisor.ReconnectMaxDelayMs = 50
	cfg.Supervisor.MaxReconnectAttempts = 0
	require.NoError(t, config.Validate(cfg))

	// no HTTP server in tests; Validate would default the port
	cfg.QueryServerPort = 0
	return cfg
}

func testDatabase(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}
