package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// RPCClient provides EVM RPC operations with round-robin failover over several endpoints.
// Websocket URLs are required for log subscriptions.
type RPCClient struct {
	clients []*ethclient.Client
	index   uint64
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewRPCClient dials every URL and keeps the endpoints that report expectedChainID
func NewRPCClient(ctx context.Context, rpcURLs []string, expectedChainID int64, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "evm_rpc_client").Int64("chain_id", expectedChainID).Logger()
	clients := make([]*ethclient.Client, 0, len(rpcURLs))

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for i, url := range rpcURLs {
		endpoint := fmt.Sprintf("endpoint-%d", i)
		client, err := ethclient.DialContext(dialCtx, url)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(dialCtx)
		if err != nil {
			client.Close()
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to verify chain ID, skipping")
			continue
		}

		if clientChainID.Int64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("endpoint", endpoint).
				Int64("actual_chain_id", clientChainID.Int64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("endpoint", endpoint).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any valid RPC endpoints for chain %d", expectedChainID)
	}

	return &RPCClient{
		clients: clients,
		logger:  log,
	}, nil
}

// executeWithFailover runs fn against endpoints in round-robin order until one succeeds.
// ethereum.NotFound is a definitive answer and is returned without failing over.
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(*ethclient.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return fmt.Errorf("no RPC clients available for %s", operation)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]

		err := fn(client)
		if err == nil || errors.Is(err, ethereum.NotFound) {
			return err
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return fmt.Errorf("operation %s failed after trying %d endpoints: %w", operation, len(clients), lastErr)
}

// IsHealthy checks if any RPC in the pool answers
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	_, err := rc.BlockNumber(ctx)
	return err == nil
}

// BlockNumber returns the latest block number
func (rc *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := rc.executeWithFailover(ctx, "get_block_number", func(client *ethclient.Client) error {
		var innerErr error
		blockNum, innerErr = client.BlockNumber(ctx)
		return innerErr
	})
	return blockNum, err
}

// FilterLogs fetches logs matching the filter query
func (rc *RPCClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := rc.executeWithFailover(ctx, "filter_logs", func(client *ethclient.Client) error {
		var innerErr error
		logs, innerErr = client.FilterLogs(ctx, query)
		return innerErr
	})
	return logs, err
}

// SubscribeFilterLogs opens a live log subscription on the first endpoint that accepts it
func (rc *RPCClient) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	var sub ethereum.Subscription
	err := rc.executeWithFailover(ctx, "subscribe_filter_logs", func(client *ethclient.Client) error {
		var innerErr error
		sub, innerErr = client.SubscribeFilterLogs(ctx, query, ch)
		return innerErr
	})
	return sub, err
}

// ChainID returns the chain ID reported by the endpoints
func (rc *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := rc.executeWithFailover(ctx, "chain_id", func(client *ethclient.Client) error {
		var innerErr error
		id, innerErr = client.ChainID(ctx)
		return innerErr
	})
	return id, err
}

// PendingBalanceAt returns the spendable balance including pending transactions
func (rc *RPCClient) PendingBalanceAt(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	var balance *big.Int
	err := rc.executeWithFailover(ctx, "pending_balance_at", func(client *ethclient.Client) error {
		var innerErr error
		balance, innerErr = client.PendingBalanceAt(ctx, account)
		return innerErr
	})
	return balance, err
}

// PendingNonceAt returns the next nonce including pending transactions
func (rc *RPCClient) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := rc.executeWithFailover(ctx, "pending_nonce_at", func(client *ethclient.Client) error {
		var innerErr error
		nonce, innerErr = client.PendingNonceAt(ctx, account)
		return innerErr
	})
	return nonce, err
}

// NonceAt returns the account nonce at a block; nil means latest
func (rc *RPCClient) NonceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (uint64, error) {
	var nonce uint64
	err := rc.executeWithFailover(ctx, "nonce_at", func(client *ethclient.Client) error {
		var innerErr error
		nonce, innerErr = client.NonceAt(ctx, account, blockNumber)
		return innerErr
	})
	return nonce, err
}

// SuggestGasTipCap fetches the suggested priority fee
func (rc *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := rc.executeWithFailover(ctx, "suggest_gas_tip_cap", func(client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var innerErr error
		tip, innerErr = client.SuggestGasTipCap(callCtx)
		return innerErr
	})
	return tip, err
}

// SuggestGasPrice fetches the current legacy gas price
func (rc *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := rc.executeWithFailover(ctx, "get_gas_price", func(client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		var innerErr error
		gasPrice, innerErr = client.SuggestGasPrice(callCtx)
		return innerErr
	})
	return gasPrice, err
}

// HeaderByNumber returns a block header; nil means latest
func (rc *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := rc.executeWithFailover(ctx, "header_by_number", func(client *ethclient.Client) error {
		var innerErr error
		header, innerErr = client.HeaderByNumber(ctx, number)
		return innerErr
	})
	return header, err
}

// SendTransaction broadcasts a signed transaction. Re-sending the same signed
// transaction to another endpoint is harmless.
func (rc *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return rc.executeWithFailover(ctx, "send_transaction", func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt fetches a transaction receipt. Returns ethereum.NotFound while pending.
func (rc *RPCClient) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := rc.executeWithFailover(ctx, "get_transaction_receipt", func(client *ethclient.Client) error {
		var innerErr error
		receipt, innerErr = client.TransactionReceipt(ctx, txHash)
		return innerErr
	})
	return receipt, err
}

// EndpointCount returns the number of live endpoints.
func (rc *RPCClient) EndpointCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.clients)
}

// Close closes all RPC connections
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, client := range rc.clients {
		if client != nil {
			client.Close()
		}
	}
	rc.clients = nil
}
