package store

import (
	"fmt"
	"strings"
)

// FormatEventKey renders the canonical identity key for a source log.
func FormatEventKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex)
}
