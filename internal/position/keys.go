package position

import (
	"PerpMetrics/internal/token"
	"strconv"
	"strings"
)

// Key joins account, collateral token, index token and side. It is the key
// used to roll positions up across adapters.
func Key(account, collateralToken, indexToken string, isLong bool, nativeTokenAddress string) string {
	return strings.Join([]string{
		account,
		token.ResolveAddress(collateralToken, nativeTokenAddress),
		token.ResolveAddress(indexToken, nativeTokenAddress),
		strconv.FormatBool(isLong),
	}, ":")
}

// AdapterKey is Key with the adapter placed after the account. An empty
// adapter yields the plain key.
func AdapterKey(account, adapter, collateralToken, indexToken string, isLong bool, nativeTokenAddress string) string {
	if adapter == "" {
		return Key(account, collateralToken, indexToken, isLong, nativeTokenAddress)
	}
	return strings.Join([]string{
		account,
		adapter,
		token.ResolveAddress(collateralToken, nativeTokenAddress),
		token.ResolveAddress(indexToken, nativeTokenAddress),
		strconv.FormatBool(isLong),
	}, ":")
}
