// internal/math/funding.go
package math

import "math/big"

// DefaultFundingRatePrecision is the scale of cumulative funding rates.
const DefaultFundingRatePrecision = 1_000_000

// ComputeFundingFee returns size * (cumulativeRate - entryRate) / precision.
// ok is false when either rate is absent or zero; the fee is then zero.
func ComputeFundingFee(
	size *big.Int, // USD scale
	entryRate *big.Int, // funding-rate scale
	cumulativeRate *big.Int, // funding-rate scale
	ratePrecision int64,
) (fee *big.Int, ok bool) {
	if IsZero(entryRate) || IsZero(cumulativeRate) {
		return new(big.Int), false
	}

	diff := getInt()
	defer putInt(diff)
	diff.Sub(cumulativeRate, entryRate)

	product := getInt()
	defer putInt(product)
	product.Mul(OrZero(size), diff)

	return new(big.Int).Quo(product, big.NewInt(ratePrecision)), true
}

// ComputeMarginFee returns size * feeBps / 10000.
func ComputeMarginFee(size *big.Int, feeBps int64) *big.Int {
	return MulDivInt64(OrZero(size), feeBps, BasisPointsDivisor)
}
