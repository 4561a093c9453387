package position

import (
	fpmath "PerpMetrics/internal/math"
	"fmt"
	"math/big"
)

const (
	// DefaultLiquidationFeeUsd is charged by the keeper on liquidation (5 USD).
	DefaultLiquidationFeeUsd = 5

	// DefaultMaxLeverageBps is the leverage at which a position is
	// liquidated regardless of fees (100x).
	DefaultMaxLeverageBps = 100 * fpmath.BasisPointsDivisor
)

// LiquidationParams is the input of LiquidationPrice. All amounts are USD
// scaled.
type LiquidationParams struct {
	IsLong       bool
	Size         *big.Int
	Collateral   *big.Int
	AveragePrice *big.Int
	FundingFee   *big.Int

	MarginFeeBps   int64
	LiquidationFee *big.Int
	MaxLeverageBps int64
}

// LiquidationPrice returns the mark price at which the position is closed
// by a keeper: the first of the price where losses eat collateral down to
// the fees, and the price where leverage reaches the maximum.
func LiquidationPrice(p LiquidationParams) (*big.Int, error) {
	if fpmath.IsZero(p.Size) || fpmath.IsZero(p.Collateral) || fpmath.IsZero(p.AveragePrice) {
		return nil, fmt.Errorf("liquidation price: %w", ErrMissingInput)
	}
	if p.MaxLeverageBps <= 0 {
		return nil, fmt.Errorf("liquidation price: max leverage %d: %w", p.MaxLeverageBps, fpmath.ErrDivisionByZero)
	}

	fees := fpmath.ComputeMarginFee(p.Size, p.MarginFeeBps)
	fees.Add(fees, fpmath.OrZero(p.LiquidationFee))
	fees.Add(fees, fpmath.OrZero(p.FundingFee))

	byFees, err := priceFromLiquidationAmount(fees, p)
	if err != nil {
		return nil, err
	}

	maxLeverageAmount := fpmath.MulDivInt64(p.Size, fpmath.BasisPointsDivisor, p.MaxLeverageBps)
	byLeverage, err := priceFromLiquidationAmount(maxLeverageAmount, p)
	if err != nil {
		return nil, err
	}

	// Longs hit the higher price first, shorts the lower
	if p.IsLong {
		if byFees.Cmp(byLeverage) > 0 {
			return byFees, nil
		}
		return byLeverage, nil
	}
	if byFees.Cmp(byLeverage) < 0 {
		return byFees, nil
	}
	return byLeverage, nil
}

// priceFromLiquidationAmount moves the average price by the distance at
// which collateral drops to amount.
func priceFromLiquidationAmount(amount *big.Int, p LiquidationParams) (*big.Int, error) {
	cushion := fpmath.Sub(p.Collateral, amount)
	priceDelta, err := fpmath.MulDiv(fpmath.Abs(cushion), p.AveragePrice, p.Size)
	if err != nil {
		return nil, fmt.Errorf("liquidation price: %w", err)
	}

	// A negative cushion means the position is already past the threshold
	if (cushion.Sign() >= 0) == p.IsLong {
		return fpmath.Sub(p.AveragePrice, priceDelta), nil
	}
	return fpmath.Add(p.AveragePrice, priceDelta), nil
}
