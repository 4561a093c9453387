// internal/position/engine.go
package position

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/snapshot"
	"fmt"
	"math/big"
)

const (
	DefaultMarginFeeBps          = 10
	DefaultLowCollateralLeverage = 50
)

// Config holds the platform constants used for valuation.
type Config struct {
	MarginFeeBps          int64
	FundingRatePrecision  int64
	LowCollateralLeverage int64 // size/collateral ratio above which collateral is low
	NativeTokenAddress    string
	LiquidationFeeUsd     *big.Int
	MaxLeverageBps        int64
}

// DefaultConfig returns the platform constants of the deployed vault.
func DefaultConfig() Config {
	return Config{
		MarginFeeBps:          DefaultMarginFeeBps,
		FundingRatePrecision:  fpmath.DefaultFundingRatePrecision,
		LowCollateralLeverage: DefaultLowCollateralLeverage,
		LiquidationFeeUsd:     fpmath.ExpandDecimals(DefaultLiquidationFeeUsd, fpmath.USDDecimals),
		MaxLeverageBps:        DefaultMaxLeverageBps,
	}
}

// Options are the caller's display preferences.
type Options struct {
	ShowPnlAfterFees bool // displayed delta is fee-adjusted
	IncludeDelta     bool // leverage folds in unrealized delta
}

// Engine derives valuations. It holds no state between calls and is safe
// for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.FundingRatePrecision == 0 {
		cfg.FundingRatePrecision = def.FundingRatePrecision
	}
	if cfg.LowCollateralLeverage == 0 {
		cfg.LowCollateralLeverage = def.LowCollateralLeverage
	}
	if cfg.LiquidationFeeUsd == nil {
		cfg.LiquidationFeeUsd = def.LiquidationFeeUsd
	}
	if cfg.MaxLeverageBps == 0 {
		cfg.MaxLeverageBps = def.MaxLeverageBps
	}
	return &Engine{cfg: cfg}
}

// Valuate derives every position in order. Positions without resolved
// tokens are rejected; everything else yields a valuation, with fields
// that cannot be computed left nil.
func (e *Engine) Valuate(account string, positions []Position, opts Options) (*Book, error) {
	book := &Book{
		Positions: make([]Valuation, len(positions)),
		ByKey:     make(map[string]*Valuation, len(positions)),
	}

	for i, p := range positions {
		if p.CollateralToken == nil || p.IndexToken == nil {
			return nil, fmt.Errorf("%w: position %d has unresolved tokens", snapshot.ErrMalformedSnapshot, i)
		}
		if p.Account == "" {
			p.Account = account
		}
		book.Positions[i] = e.derive(account, p, opts)
	}

	// Filled after the slice is final so the pointers stay valid
	for i := range book.Positions {
		book.ByKey[book.Positions[i].AdapterKey] = &book.Positions[i]
	}

	return book, nil
}

func (e *Engine) derive(account string, p Position, opts Options) Valuation {
	collateralAddr := p.CollateralToken.Address
	indexAddr := p.IndexToken.Address

	v := Valuation{
		Position:        p,
		Key:             Key(account, collateralAddr, indexAddr, p.IsLong, e.cfg.NativeTokenAddress),
		AdapterKey:      AdapterKey(account, p.Adapter, collateralAddr, indexAddr, p.IsLong, e.cfg.NativeTokenAddress),
		CollateralToken: collateralAddr,
		IndexToken:      indexAddr,
	}

	size := fpmath.OrZero(p.Size)
	collateral := fpmath.OrZero(p.Collateral)

	fundingFee, fundingApplied := fpmath.ComputeFundingFee(
		size, p.EntryFundingRate, p.CollateralToken.CumulativeFundingRate, e.cfg.FundingRatePrecision)
	v.FundingFee = fundingFee
	v.CollateralAfterFee = fpmath.Sub(collateral, fundingFee)

	v.ClosingFee = fpmath.ComputeMarginFee(size, e.cfg.MarginFeeBps)
	// Opening plus closing
	v.PositionFee = new(big.Int).Lsh(v.ClosingFee, 1)
	v.TotalFees = fpmath.Add(v.PositionFee, v.FundingFee)

	v.Delta = fpmath.Clone(fpmath.OrZero(p.Delta))
	v.PendingDelta = fpmath.Clone(v.Delta)
	v.HasProfit = p.HasProfit
	v.DisplayedDelta = v.PendingDelta
	v.DisplayedHasProfit = v.HasProfit

	if collateral.Sign() > 0 {
		v.HasLowCollateral = e.lowCollateral(size, v.CollateralAfterFee)

		if !fpmath.IsZero(p.AveragePrice) && !fpmath.IsZero(p.MarkPrice) {
			priceDelta := fpmath.Abs(fpmath.Sub(p.AveragePrice, p.MarkPrice))
			pending, _ := fpmath.MulDiv(size, priceDelta, p.AveragePrice)
			v.PendingDelta = pending
			v.Delta = fpmath.Clone(pending)
			if p.IsLong {
				v.HasProfit = p.MarkPrice.Cmp(p.AveragePrice) >= 0
			} else {
				v.HasProfit = p.MarkPrice.Cmp(p.AveragePrice) <= 0
			}
		}
		v.DeltaPercentage, _ = fpmath.MulDiv(v.PendingDelta, fpmath.BasisPoints(), collateral)

		e.applyFees(&v, collateral)

		if opts.ShowPnlAfterFees {
			v.DisplayedDelta = v.PendingDeltaAfterFees
			v.DisplayedHasProfit = *v.HasProfitAfterFees
			v.DisplayedDeltaPercentage = v.DeltaPercentageAfterFees
		} else {
			v.DisplayedDelta = v.PendingDelta
			v.DisplayedHasProfit = v.HasProfit
			v.DisplayedDeltaPercentage = v.DeltaPercentage
		}

		if v.HasProfit {
			v.NetValue = fpmath.Add(collateral, v.PendingDelta)
		} else {
			v.NetValue = fpmath.Sub(collateral, v.PendingDelta)
		}
		if fundingApplied {
			v.NetValue.Sub(v.NetValue, fpmath.Add(v.FundingFee, v.ClosingFee))
		}
	}

	lev, err := Leverage(LeverageParams{
		Size:         size,
		Collateral:   collateral,
		FundingFee:   v.FundingFee,
		HasProfit:    v.HasProfit,
		Delta:        v.Delta,
		IncludeDelta: opts.IncludeDelta,
		MarginFeeBps: e.cfg.MarginFeeBps,
	})
	if err == nil {
		v.Leverage = lev
	}

	liq, err := LiquidationPrice(LiquidationParams{
		IsLong:         p.IsLong,
		Size:           size,
		Collateral:     collateral,
		AveragePrice:   p.AveragePrice,
		FundingFee:     v.FundingFee,
		MarginFeeBps:   e.cfg.MarginFeeBps,
		LiquidationFee: e.cfg.LiquidationFeeUsd,
		MaxLeverageBps: e.cfg.MaxLeverageBps,
	})
	if err == nil {
		v.LiquidationPrice = liq
	}

	return v
}

// lowCollateral is nil when collateral after fees is exactly zero and the
// ratio is undefined.
func (e *Engine) lowCollateral(size, collateralAfterFee *big.Int) *bool {
	low := true
	if collateralAfterFee.Sign() < 0 {
		return &low
	}
	if collateralAfterFee.Sign() == 0 {
		return nil
	}
	ratio := new(big.Int).Quo(size, collateralAfterFee)
	low = ratio.Cmp(big.NewInt(e.cfg.LowCollateralLeverage)) > 0
	return &low
}

// applyFees derives the fee-adjusted delta. The percentage is taken over
// collateral plus the closing fee, since the opening fee was never deducted
// from stored collateral.
func (e *Engine) applyFees(v *Valuation, collateral *big.Int) {
	hasProfit := v.HasProfit
	switch {
	case v.HasProfit && v.PendingDelta.Cmp(v.TotalFees) > 0:
		v.PendingDeltaAfterFees = fpmath.Sub(v.PendingDelta, v.TotalFees)
	case v.HasProfit:
		hasProfit = false
		v.PendingDeltaAfterFees = fpmath.Sub(v.TotalFees, v.PendingDelta)
	default:
		v.PendingDeltaAfterFees = fpmath.Add(v.PendingDelta, v.TotalFees)
	}
	v.HasProfitAfterFees = &hasProfit

	v.DeltaPercentageAfterFees, _ = fpmath.MulDiv(
		v.PendingDeltaAfterFees, fpmath.BasisPoints(), fpmath.Add(collateral, v.ClosingFee))
}
