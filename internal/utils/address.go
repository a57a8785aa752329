package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAccountAddress reports whether s is a well-formed account identifier
// (0x-prefixed 20-byte hex address).
func IsValidAccountAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress lowercases a hex account address so lookups and unique
// indexes are case-insensitive.
func NormalizeAddress(s string) string {
	return strings.ToLower(s)
}
