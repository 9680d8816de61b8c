package config

import (
	"fmt"
	"time"
)

// PayoutPolicy decides which payout amount is authoritative when the event value and the
// locally computed value disagree.
type PayoutPolicy string

const (
	// PayoutPolicyStrict rejects events whose payout differs from the computed amount.
	PayoutPolicyStrict PayoutPolicy = "strict"

	// PayoutPolicyTrustEvent pays whatever the event carries.
	PayoutPolicyTrustEvent PayoutPolicy = "trust_event"
)

// IdempotencyBackend selects where the processed set is persisted.
type IdempotencyBackend string

const (
	IdempotencyBackendSQLite   IdempotencyBackend = "sqlite"
	IdempotencyBackendPostgres IdempotencyBackend = "postgres"
	IdempotencyBackendRedis    IdempotencyBackend = "redis"
	IdempotencyBackendMemory   IdempotencyBackend = "memory"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Relay home directory (default: ~/.payoutrelay)

	// Query Server Config
	QueryServerPort   int    `json:"query_server_port"`   // Port for the HTTP server (default: 3001)
	CORSAllowedOrigin string `json:"cors_allowed_origin"` // Origin allowed to read /tx-log (default: http://localhost:3000)

	// Relay log file; empty means <home>/logs/payout_tx_log.jsonl
	TxLogPath string `json:"tx_log_path"`

	SourceChain      SourceChainConfig      `json:"source_chain"`
	DestinationChain DestinationChainConfig `json:"destination_chain"`
	Payout           PayoutConfig           `json:"payout"`
	Idempotency      IdempotencyConfig      `json:"idempotency"`
	Supervisor       SupervisorConfig       `json:"supervisor"`
}

// SourceChainConfig describes where purchase events are observed.
type SourceChainConfig struct {
	ChainID         int64    `json:"chain_id"`
	WSURLs          []string `json:"ws_urls"`          // websocket endpoints, may contain {api_key}
	ContractAddress string   `json:"contract_address"` // contract emitting PurchaseOccurred

	// Event Start Cursor
	// If set to a non-negative value, the relay starts from this block when no
	// checkpoint is stored. If set to -1 or not present, it starts from the latest block.
	EventStartFrom *int64 `json:"event_start_from,omitempty"`

	ReplayBlockRange   uint64 `json:"replay_block_range"`  // max blocks per FilterLogs call (default: 9000)
	SubscriptionBuffer int    `json:"subscription_buffer"` // events buffered between subscriber and orchestrator (default: 256)
}

// DestinationChainConfig describes where payouts are sent.
type DestinationChainConfig struct {
	ChainID                int64    `json:"chain_id"`
	RPCURLs                []string `json:"rpc_urls"` // may contain {api_key}
	GasLimit               uint64   `json:"gas_limit"`
	MaxSubmitAttempts      int      `json:"max_submit_attempts"`
	ReceiptTimeoutSeconds  int      `json:"receipt_timeout_seconds"`
	ReceiptPollIntervalMs  int      `json:"receipt_poll_interval_ms"`
	ResolveIntervalSeconds int      `json:"resolve_interval_seconds"`
	MaxNotFoundChecks      int      `json:"max_not_found_checks"`
	FeeCapMultiplier       int64    `json:"fee_cap_multiplier"` // feeCap = baseFee*multiplier + tip (default: 2)
}

// PayoutConfig controls conversion and per-event processing.
type PayoutConfig struct {
	Policy                 PayoutPolicy `json:"policy"`
	StablePerPayoutUnit    string       `json:"stable_per_payout_unit"` // decimal string, e.g. "0.1"
	StableDecimals         int64        `json:"stable_decimals"`
	PayoutDecimals         int64        `json:"payout_decimals"`
	MaxEventAttempts       int          `json:"max_event_attempts"`
	EventRetryDelaySeconds int          `json:"event_retry_delay_seconds"`
	ParkedRetrySeconds     int          `json:"parked_retry_seconds"` // re-drive interval for events still in flight after MaxEventAttempts
	MaxConcurrentEvents    int          `json:"max_concurrent_events"`
}

// IdempotencyConfig selects the processed-set backend.
type IdempotencyConfig struct {
	Backend        IdempotencyBackend `json:"backend"`
	PostgresDSN    string             `json:"postgres_dsn,omitempty"`
	RedisURL       string             `json:"redis_url,omitempty"`
	RedisKeyPrefix string             `json:"redis_key_prefix,omitempty"`
	// RelayID names this relay in shared claims. It must stay the same across
	// restarts and differ between relays sharing a backend. Defaults to the hostname.
	RelayID           string `json:"relay_id,omitempty"`
	ClaimLeaseSeconds int    `json:"claim_lease_seconds"`
}

// SupervisorConfig controls reconnection backoff.
type SupervisorConfig struct {
	ReconnectInitialDelayMs int     `json:"reconnect_initial_delay_ms"`
	ReconnectMaxDelayMs     int     `json:"reconnect_max_delay_ms"`
	ReconnectBackoffFactor  float64 `json:"reconnect_backoff_factor"`
	MaxReconnectAttempts    int     `json:"max_reconnect_attempts"` // 0 retries forever
}

// ReceiptTimeout returns the confirmation wait budget.
func (d DestinationChainConfig) ReceiptTimeout() time.Duration {
	return time.Duration(d.ReceiptTimeoutSeconds) * time.Second
}

// ReceiptPollInterval returns the receipt polling cadence.
func (d DestinationChainConfig) ReceiptPollInterval() time.Duration {
	return time.Duration(d.ReceiptPollIntervalMs) * time.Millisecond
}

// ResolveInterval returns how often submitted payouts are reconciled.
func (d DestinationChainConfig) ResolveInterval() time.Duration {
	return time.Duration(d.ResolveIntervalSeconds) * time.Second
}

// EventRetryDelay returns the delay before a non-terminal event is retried.
func (p PayoutConfig) EventRetryDelay() time.Duration {
	return time.Duration(p.EventRetryDelaySeconds) * time.Second
}

// ParkedRetryInterval returns how often parked events are attempted again.
func (p PayoutConfig) ParkedRetryInterval() time.Duration {
	return time.Duration(p.ParkedRetrySeconds) * time.Second
}

// ClaimLease returns how long a claim on an event stays valid.
func (i IdempotencyConfig) ClaimLease() time.Duration {
	return time.Duration(i.ClaimLeaseSeconds) * time.Second
}

// ReconnectInitialDelay returns the first reconnect delay.
func (s SupervisorConfig) ReconnectInitialDelay() time.Duration {
	return time.Duration(s.ReconnectInitialDelayMs) * time.Millisecond
}

// ReconnectMaxDelay caps the reconnect delay.
func (s SupervisorConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(s.ReconnectMaxDelayMs) * time.Millisecond
}

// Secrets are read from the environment, never from the config file.
type Secrets struct {
	PrivateKeyHex  string
	ProviderAPIKey string
}

// String keeps secrets out of logs.
func (s Secrets) String() string {
	return fmt.Sprintf("Secrets{PrivateKeyHex: %t, ProviderAPIKey: %t}", s.PrivateKeyHex != "", s.ProviderAPIKey != "")
}
