// Package display turns fixed-point engine values into strings for API
// responses. The engine itself never formats.
package display

import (
	fpmath "PerpMetrics/internal/math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Absent is rendered for values that could not be derived.
const Absent = "-"

// MaxLeverageLabel is shown instead of a negative (overleveraged) leverage.
const MaxLeverageLabel = "> 100.0x"

// FormatAmount renders v / 10^decimals with fixed display decimals.
func FormatAmount(v *big.Int, decimals, displayDecimals int32) string {
	if v == nil {
		return Absent
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(displayDecimals)
}

// FormatUSD renders a USD-scaled value with two decimals.
func FormatUSD(v *big.Int) string {
	if v == nil {
		return Absent
	}
	return "$" + FormatAmount(v, fpmath.USDDecimals, 2)
}

// FormatTokenAmount renders a token-unit value; stable tokens get two
// decimals, everything else four.
func FormatTokenAmount(v *big.Int, tokenDecimals int, isStable bool) string {
	display := int32(4)
	if isStable {
		display = 2
	}
	return FormatAmount(v, int32(tokenDecimals), display)
}

// FormatBps renders basis points as a percentage.
func FormatBps(v *big.Int) string {
	if v == nil {
		return Absent
	}
	return FormatAmount(v, 2, 2) + "%"
}

// FormatLeverage renders leverage bps as a multiple.
func FormatLeverage(lev *big.Int) string {
	if lev == nil {
		return Absent
	}
	if lev.Sign() < 0 {
		return MaxLeverageLabel
	}
	return FormatAmount(lev, 4, 2) + "x"
}

// FormatPnl renders a delta with its sign.
func FormatPnl(delta *big.Int, hasProfit bool) string {
	if delta == nil {
		return Absent
	}
	sign := "-"
	if hasProfit || delta.Sign() == 0 {
		sign = "+"
	}
	return sign + FormatUSD(new(big.Int).Abs(delta))
}
