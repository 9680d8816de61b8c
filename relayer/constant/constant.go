package constant

import "os"

// <NodeDir>/                    (e.g., /home/relayer/.payoutrelay)
// └── config/
//	└── relayer_config.json
// └── databases/
//	└── relay.db
// └── logs/
//	└── payout_tx_log.jsonl

const (
	NodeDir = ".payoutrelay"

	ConfigSubdir   = "config"
	ConfigFileName = "relayer_config.json"

	DatabasesSubdir  = "databases"
	DatabaseFileName = "relay.db"

	LogsSubdir     = "logs"
	TxLogFileName  = "payout_tx_log.jsonl"
	APIKeyTemplate = "{api_key}"
)

// Environment variables read at startup. The legacy names are accepted as fallbacks.
const (
	EnvPrivateKey           = "RELAYER_PRIVATE_KEY"
	EnvPrivateKeyLegacy     = "PRIVATE_KEY"
	EnvProviderAPIKey       = "RELAYER_PROVIDER_API_KEY"
	EnvProviderAPIKeyLegacy = "ALCHEMY_API_KEY"
	EnvHome                 = "RELAYER_HOME"
)

// TransferGasLimit is the gas cost of a plain value transfer.
const TransferGasLimit uint64 = 21000

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
