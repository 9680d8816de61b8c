package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"cosmossdk.io/math"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/pushchain/payout-relay/relayer/constant"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 3001
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:3000"
	}

	if err := validateSourceChain(&cfg.SourceChain); err != nil {
		return err
	}
	if err := validateDestinationChain(&cfg.DestinationChain); err != nil {
		return err
	}
	if err := validatePayout(&cfg.Payout); err != nil {
		return err
	}

	// Set defaults for idempotency backend
	switch cfg.Idempotency.Backend {
	case "":
		cfg.Idempotency.Backend = IdempotencyBackendSQLite
	case IdempotencyBackendSQLite, IdempotencyBackendMemory:
	case IdempotencyBackendPostgres:
		if cfg.Idempotency.PostgresDSN == "" {
			return fmt.Errorf("idempotency backend 'postgres' requires postgres_dsn")
		}
	case IdempotencyBackendRedis:
		if cfg.Idempotency.RedisURL == "" {
			return fmt.Errorf("idempotency backend 'redis' requires redis_url")
		}
	default:
		return fmt.Errorf("idempotency backend must be one of sqlite, postgres, redis, memory")
	}
	if cfg.Idempotency.RedisKeyPrefix == "" {
		cfg.Idempotency.RedisKeyPrefix = "payout-relay"
	}
	if cfg.Idempotency.RelayID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "payout-relay"
		}
		cfg.Idempotency.RelayID = host
	}
	if cfg.Idempotency.ClaimLeaseSeconds == 0 {
		cfg.Idempotency.ClaimLeaseSeconds = 120
	}
	if cfg.Idempotency.ClaimLeaseSeconds < 3 {
		return fmt.Errorf("idempotency.claim_lease_seconds must be at least 3")
	}

	// Set defaults for reconnection
	if cfg.Supervisor.ReconnectInitialDelayMs == 0 {
		cfg.Supervisor.ReconnectInitialDelayMs = 1000
	}
	if cfg.Supervisor.ReconnectMaxDelayMs == 0 {
		cfg.Supervisor.ReconnectMaxDelayMs = 30000
	}
	if cfg.Supervisor.ReconnectBackoffFactor == 0 {
		cfg.Supervisor.ReconnectBackoffFactor = 2.0
	}
	if cfg.Supervisor.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}

	return nil
}

func validateSourceChain(src *SourceChainConfig) error {
	if src.ChainID <= 0 {
		return fmt.Errorf("source_chain.chain_id is required")
	}
	if len(src.WSURLs) == 0 {
		return fmt.Errorf("source_chain.ws_urls must contain at least one endpoint")
	}
	if !ethcommon.IsHexAddress(src.ContractAddress) {
		return fmt.Errorf("source_chain.contract_address %q is not a valid address", src.ContractAddress)
	}
	if src.EventStartFrom != nil && *src.EventStartFrom < -1 {
		return fmt.Errorf("source_chain.event_start_from must be -1 or a block number")
	}
	if src.ReplayBlockRange == 0 {
		src.ReplayBlockRange = 9000 // Safe under the 10000 RPC limit
	}
	if src.SubscriptionBuffer == 0 {
		src.SubscriptionBuffer = 256
	}
	return nil
}

func validateDestinationChain(dst *DestinationChainConfig) error {
	if dst.ChainID <= 0 {
		return fmt.Errorf("destination_chain.chain_id is required")
	}
	if len(dst.RPCURLs) == 0 {
		return fmt.Errorf("destination_chain.rpc_urls must contain at least one endpoint")
	}
	if dst.GasLimit == 0 {
		dst.GasLimit = constant.TransferGasLimit
	}
	if dst.GasLimit < constant.TransferGasLimit {
		return fmt.Errorf("destination_chain.gas_limit must be at least %d", constant.TransferGasLimit)
	}
	if dst.MaxSubmitAttempts == 0 {
		dst.MaxSubmitAttempts = 3
	}
	if dst.ReceiptTimeoutSeconds == 0 {
		dst.ReceiptTimeoutSeconds = 180
	}
	if dst.ReceiptPollIntervalMs == 0 {
		dst.ReceiptPollIntervalMs = 2000
	}
	if dst.ResolveIntervalSeconds == 0 {
		dst.ResolveIntervalSeconds = 30
	}
	if dst.MaxNotFoundChecks == 0 {
		dst.MaxNotFoundChecks = 10
	}
	if dst.FeeCapMultiplier == 0 {
		dst.FeeCapMultiplier = 2
	}
	return nil
}

func validatePayout(p *PayoutConfig) error {
	switch p.Policy {
	case "":
		p.Policy = PayoutPolicyStrict
	case PayoutPolicyStrict, PayoutPolicyTrustEvent:
	default:
		return fmt.Errorf("payout.policy must be 'strict' or 'trust_event'")
	}

	if p.StablePerPayoutUnit == "" {
		p.StablePerPayoutUnit = "0.1"
	}
	rate, err := math.LegacyNewDecFromStr(p.StablePerPayoutUnit)
	if err != nil {
		return fmt.Errorf("payout.stable_per_payout_unit: %w", err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("payout.stable_per_payout_unit must be positive")
	}

	if p.StableDecimals == 0 {
		p.StableDecimals = 6
	}
	if p.PayoutDecimals == 0 {
		p.PayoutDecimals = 18
	}
	if p.StableDecimals < 0 || p.StableDecimals > 36 || p.PayoutDecimals < 0 || p.PayoutDecimals > 36 {
		return fmt.Errorf("payout decimals must be between 0 and 36")
	}
	if p.MaxEventAttempts == 0 {
		p.MaxEventAttempts = 5
	}
	if p.EventRetryDelaySeconds == 0 {
		p.EventRetryDelaySeconds = 5
	}
	if p.ParkedRetrySeconds == 0 {
		p.ParkedRetrySeconds = 60
	}
	if p.MaxConcurrentEvents == 0 {
		p.MaxConcurrentEvents = 16
	}
	return nil
}

// Validate fills defaults and checks the config.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <basePath>/config/relayer_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, constant.ConfigSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, constant.ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates and returns the config from <basePath>/config/relayer_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = basePath
	}
	return cfg, nil
}

// LoadOrDefault loads the config file if present and falls back to the embedded defaults.
func LoadOrDefault(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		cfg, err := LoadDefaultConfig()
		if err != nil {
			return Config{}, err
		}
		if err := validateConfig(cfg); err != nil {
			return Config{}, fmt.Errorf("invalid default config: %w", err)
		}
		cfg.NodeHome = basePath
		return *cfg, nil
	}
	return Load(basePath)
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// LoadSecrets reads the funding key and provider API key from the environment.
// Missing either is a startup-fatal condition.
func LoadSecrets() (Secrets, error) {
	secrets := Secrets{
		PrivateKeyHex:  firstEnv(constant.EnvPrivateKey, constant.EnvPrivateKeyLegacy),
		ProviderAPIKey: firstEnv(constant.EnvProviderAPIKey, constant.EnvProviderAPIKeyLegacy),
	}

	var missing []string
	if secrets.PrivateKeyHex == "" {
		missing = append(missing, constant.EnvPrivateKey)
	}
	if secrets.ProviderAPIKey == "" {
		missing = append(missing, constant.EnvProviderAPIKey)
	}
	if len(missing) > 0 {
		return Secrets{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return secrets, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// ExpandURLs substitutes the provider API key into endpoint templates.
func ExpandURLs(urls []string, apiKey string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, strings.ReplaceAll(u, constant.APIKeyTemplate, apiKey))
	}
	return out
}

// DatabaseDir returns the directory holding the relay database.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.home(), constant.DatabasesSubdir)
}

// ResolvedTxLogPath returns the relay log location.
func (c *Config) ResolvedTxLogPath() string {
	if c.TxLogPath != "" {
		return c.TxLogPath
	}
	return filepath.Join(c.home(), constant.LogsSubdir, constant.TxLogFileName)
}

// PayoutRate parses the configured stable-per-payout-unit rate.
func (c *Config) PayoutRate() (math.LegacyDec, error) {
	return math.LegacyNewDecFromStr(c.Payout.StablePerPayoutUnit)
}

// DestinationChainID returns the destination chain ID as a big integer for signing.
func (c *Config) DestinationChainID() *big.Int {
	return big.NewInt(c.DestinationChain.ChainID)
}

func (c *Config) home() string {
	if c.NodeHome != "" {
		return c.NodeHome
	}
	return constant.DefaultNodeHome
}
