package position

import (
	fpmath "PerpMetrics/internal/math"
	"fmt"
	"math/big"
)

// LeverageParams describes a position and an optional size/collateral
// change. Nil and zero deltas both mean "no change".
type LeverageParams struct {
	Size         *big.Int
	SizeDelta    *big.Int
	IncreaseSize bool

	Collateral         *big.Int
	CollateralDelta    *big.Int
	IncreaseCollateral bool

	FundingFee *big.Int

	HasProfit    bool
	Delta        *big.Int
	IncludeDelta bool

	MarginFeeBps int64
}

// Leverage returns nextSize * 10000 / remainingCollateral in basis points.
// A negative result means funding fees exceed the remaining collateral.
func Leverage(p LeverageParams) (*big.Int, error) {
	// A reported size of zero counts as absent: an empty position has no
	// leverage, so this returns nil where a 0 multiple could be computed.
	if fpmath.IsZero(p.Size) && fpmath.IsZero(p.SizeDelta) {
		return nil, fmt.Errorf("leverage: no size: %w", ErrMissingInput)
	}
	if fpmath.IsZero(p.Collateral) && fpmath.IsZero(p.CollateralDelta) {
		return nil, fmt.Errorf("leverage: no collateral: %w", ErrMissingInput)
	}

	nextSize, err := applyChange(p.Size, p.SizeDelta, p.IncreaseSize)
	if err != nil {
		return nil, fmt.Errorf("leverage: size %w", err)
	}

	remaining, err := applyChange(p.Collateral, p.CollateralDelta, p.IncreaseCollateral)
	if err != nil {
		return nil, fmt.Errorf("leverage: collateral %w", err)
	}

	if p.IncludeDelta && !fpmath.IsZero(p.Delta) {
		if p.HasProfit {
			remaining.Add(remaining, p.Delta)
		} else {
			if p.Delta.Cmp(remaining) > 0 {
				return nil, fmt.Errorf("leverage: loss exceeds collateral: %w", ErrInvalidPositionState)
			}
			remaining.Sub(remaining, p.Delta)
		}
	}

	if remaining.Sign() == 0 {
		return nil, fmt.Errorf("leverage: zero collateral: %w", fpmath.ErrDivisionByZero)
	}

	// The opening fee of a size change is taken from collateral
	if !fpmath.IsZero(p.SizeDelta) {
		remaining = fpmath.ApplyBps(remaining, -p.MarginFeeBps)
	}

	if !fpmath.IsZero(p.FundingFee) {
		remaining.Sub(remaining, p.FundingFee)
	}

	lev, err := fpmath.MulDiv(nextSize, fpmath.BasisPoints(), remaining)
	if err != nil {
		return nil, fmt.Errorf("leverage: zero collateral after fees: %w", err)
	}
	return lev, nil
}

// applyChange returns base ± delta as a new value. A decrease must stay
// strictly below base.
func applyChange(base, delta *big.Int, increase bool) (*big.Int, error) {
	next := new(big.Int).Set(fpmath.OrZero(base))
	if fpmath.IsZero(delta) {
		return next, nil
	}
	if increase {
		return next.Add(next, delta), nil
	}
	if delta.Cmp(next) >= 0 {
		return nil, fmt.Errorf("decrease %s >= current %s: %w", delta, next, ErrInvalidPositionState)
	}
	return next.Sub(next, delta), nil
}
