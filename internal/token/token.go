// Package token derives per-token market state from vault snapshots and
// an external index-price feed.
package token

import (
	fpmath "PerpMetrics/internal/math"
	"math/big"
	"strings"
)

// ZeroAddress stands for the chain's native asset in reader responses.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Token is static token metadata.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	IsStable bool   `json:"is_stable"`
	IsNative bool   `json:"is_native"`
}

// Info is a Token plus the market state derived for one computation cycle.
// A nil field means the value could not be derived; zero is a real value.
type Info struct {
	Token

	Balance *big.Int `json:"balance"`

	PoolAmount       *big.Int `json:"pool_amount"`
	ReservedAmount   *big.Int `json:"reserved_amount"`
	AvailableAmount  *big.Int `json:"available_amount"` // may be negative under abnormal ledger state
	UsdgAmount       *big.Int `json:"usdg_amount"`
	RedemptionAmount *big.Int `json:"redemption_amount"`
	Weight           *big.Int `json:"weight"`
	BufferAmount     *big.Int `json:"buffer_amount"`
	MaxUsdgAmount    *big.Int `json:"max_usdg_amount"`

	GlobalShortSize      *big.Int `json:"global_short_size"`
	MaxGlobalShortSize   *big.Int `json:"max_global_short_size"`
	MaxAvailableShort    *big.Int `json:"max_available_short"`
	HasMaxAvailableShort bool     `json:"has_max_available_short"`

	GuaranteedUsd       *big.Int `json:"guaranteed_usd"`
	MaxGlobalLongSize   *big.Int `json:"max_global_long_size"`
	MaxAvailableLong    *big.Int `json:"max_available_long"`
	HasMaxAvailableLong bool     `json:"has_max_available_long"`
	MaxLongCapacity     *big.Int `json:"max_long_capacity"`

	MinPrice         *big.Int `json:"min_price"`
	MaxPrice         *big.Int `json:"max_price"`
	ContractMinPrice *big.Int `json:"contract_min_price"`
	ContractMaxPrice *big.Int `json:"contract_max_price"`
	MinPrimaryPrice  *big.Int `json:"min_primary_price"`
	MaxPrimaryPrice  *big.Int `json:"max_primary_price"`
	Spread           *big.Int `json:"spread"` // PRECISION scale

	AvailableUsd  *big.Int `json:"available_usd"`
	ManagedUsd    *big.Int `json:"managed_usd"`
	ManagedAmount *big.Int `json:"managed_amount"`

	FundingRate           *big.Int `json:"funding_rate"`
	CumulativeFundingRate *big.Int `json:"cumulative_funding_rate"`
}

// NewInfo returns an Info carrying only the static metadata.
func NewInfo(t Token) *Info {
	return &Info{Token: t}
}

// ResolveAddress substitutes the native-asset address for the zero address.
func ResolveAddress(address, nativeTokenAddress string) string {
	if strings.EqualFold(address, ZeroAddress) {
		return nativeTokenAddress
	}
	return address
}

// UnitScale returns 10^decimals for the token.
func (t Token) UnitScale() *big.Int {
	return fpmath.ExpandDecimals(1, t.Decimals)
}

// Spread returns (max - min) * scale / midpoint, or nil when the midpoint
// is zero.
func Spread(minPrice, maxPrice, scale *big.Int) *big.Int {
	mid := fpmath.Midpoint(fpmath.OrZero(minPrice), fpmath.OrZero(maxPrice))
	v, err := fpmath.MulDiv(fpmath.Sub(maxPrice, minPrice), scale, mid)
	if err != nil {
		return nil
	}
	return v
}
