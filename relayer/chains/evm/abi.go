package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// PurchaseEventName is the source contract event relayed into payouts.
const PurchaseEventName = "PurchaseOccurred"

// PurchaseEventABI declares PurchaseOccurred(address indexed buyer, uint256 stableAmount, uint256 payoutAmount).
const PurchaseEventABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "internalType": "address", "name": "buyer",        "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "stableAmount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "payoutAmount", "type": "uint256"}
    ],
    "name": "PurchaseOccurred",
    "type": "event"
  }
]`

var purchaseABI = mustParseABI(PurchaseEventABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
