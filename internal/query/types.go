package query

import (
	"PerpMetrics/internal/display"
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"fmt"
	"math/big"
	"time"
)

// TokenResponse is one normalized token with display strings. Raw values
// keep full fixed-point precision.
type TokenResponse struct {
	*token.Info
	Display TokenDisplay `json:"display"`
}

type TokenDisplay struct {
	MinPrice          string `json:"min_price"`
	MaxPrice          string `json:"max_price"`
	Spread            string `json:"spread"`
	AvailableUsd      string `json:"available_usd"`
	MaxAvailableLong  string `json:"max_available_long"`
	MaxAvailableShort string `json:"max_available_short"`
	FundingRate       string `json:"funding_rate"`
	Balance           string `json:"balance"`
}

type TokensResponse struct {
	AsOf   time.Time        `json:"as_of"`
	Stats  token.BlendStats `json:"blend_stats"`
	Tokens []TokenResponse  `json:"tokens"`
}

// PositionResponse is one valuation with display strings.
type PositionResponse struct {
	position.Valuation
	Display PositionDisplay `json:"display"`
}

type PositionDisplay struct {
	Market             string `json:"market"`
	Side               string `json:"side"`
	CollateralSymbol   string `json:"collateral_symbol"`
	Size               string `json:"size"`
	Collateral         string `json:"collateral"`
	CollateralAfterFee string `json:"collateral_after_fee"`
	AveragePrice       string `json:"average_price"`
	MarkPrice          string `json:"mark_price"`
	LiquidationPrice   string `json:"liquidation_price"`
	Delta              string `json:"delta"`
	DeltaPercentage    string `json:"delta_percentage"`
	FundingFee         string `json:"funding_fee"`
	TotalFees          string `json:"total_fees"`
	NetValue           string `json:"net_value"`
	Leverage           string `json:"leverage"`
}

type PositionsResponse struct {
	Account   string             `json:"account"`
	AsOf      time.Time          `json:"as_of"`
	Positions []PositionResponse `json:"positions"`
	Summary   AccountSummary     `json:"summary"`
}

// LeverageRequest describes a prospective change to a position. Amounts are
// base-10 USD-scaled integers; empty strings mean absent.
type LeverageRequest struct {
	Size               string `json:"size"`
	SizeDelta          string `json:"size_delta,omitempty"`
	IncreaseSize       bool   `json:"increase_size"`
	Collateral         string `json:"collateral"`
	CollateralDelta    string `json:"collateral_delta,omitempty"`
	IncreaseCollateral bool   `json:"increase_collateral"`
	FundingFee         string `json:"funding_fee,omitempty"`
	Delta              string `json:"delta,omitempty"`
	HasProfit          bool   `json:"has_profit"`
	IncludeDelta       bool   `json:"include_delta"`
}

type LeverageResponse struct {
	Leverage      *big.Int `json:"leverage"`
	Overleveraged bool     `json:"overleveraged"`
	Display       string   `json:"display"`
}

func NewTokenResponse(info *token.Info) TokenResponse {
	r := TokenResponse{Info: info}
	r.Display = TokenDisplay{
		MinPrice:          display.FormatUSD(info.MinPrice),
		MaxPrice:          display.FormatUSD(info.MaxPrice),
		Spread:            formatSpread(info.Spread),
		AvailableUsd:      display.FormatUSD(info.AvailableUsd),
		MaxAvailableLong:  display.FormatUSD(info.MaxAvailableLong),
		MaxAvailableShort: display.Absent,
		FundingRate:       formatFundingRate(info.FundingRate),
		Balance:           display.Absent,
	}
	if info.HasMaxAvailableShort {
		r.Display.MaxAvailableShort = display.FormatUSD(info.MaxAvailableShort)
	}
	if info.Balance != nil {
		r.Display.Balance = display.FormatTokenAmount(info.Balance, info.Decimals, info.IsStable)
	}
	return r
}

func NewPositionResponse(v *position.Valuation) PositionResponse {
	p := &v.Position
	side := "Short"
	if p.IsLong {
		side = "Long"
	}

	r := PositionResponse{Valuation: *v}
	r.Display = PositionDisplay{
		Side:               side,
		Size:               display.FormatUSD(p.Size),
		Collateral:         display.FormatUSD(p.Collateral),
		CollateralAfterFee: display.FormatUSD(v.CollateralAfterFee),
		AveragePrice:       display.FormatUSD(p.AveragePrice),
		MarkPrice:          display.FormatUSD(p.MarkPrice),
		LiquidationPrice:   display.FormatUSD(v.LiquidationPrice),
		Delta:              display.FormatPnl(v.DisplayedDelta, v.DisplayedHasProfit),
		DeltaPercentage:    formatSignedBps(v.DisplayedDeltaPercentage, v.DisplayedHasProfit),
		FundingFee:         display.FormatUSD(v.FundingFee),
		TotalFees:          display.FormatUSD(v.TotalFees),
		NetValue:           display.FormatUSD(v.NetValue),
		Leverage:           display.FormatLeverage(v.Leverage),
	}
	if p.IndexToken != nil {
		r.Display.Market = p.IndexToken.Symbol + "/USD"
	}
	if p.CollateralToken != nil {
		r.Display.CollateralSymbol = p.CollateralToken.Symbol
	}
	return r
}

func NewLeverageResponse(lev *big.Int) *LeverageResponse {
	return &LeverageResponse{
		Leverage:      lev,
		Overleveraged: lev != nil && lev.Sign() < 0,
		Display:       display.FormatLeverage(lev),
	}
}

func (r LeverageRequest) params(marginFeeBps int64) (position.LeverageParams, error) {
	p := position.LeverageParams{
		IncreaseSize:       r.IncreaseSize,
		IncreaseCollateral: r.IncreaseCollateral,
		HasProfit:          r.HasProfit,
		IncludeDelta:       r.IncludeDelta,
		MarginFeeBps:       marginFeeBps,
	}
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"size", r.Size, &p.Size},
		{"size_delta", r.SizeDelta, &p.SizeDelta},
		{"collateral", r.Collateral, &p.Collateral},
		{"collateral_delta", r.CollateralDelta, &p.CollateralDelta},
		{"funding_fee", r.FundingFee, &p.FundingFee},
		{"delta", r.Delta, &p.Delta},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := snapshot.ParseUint256(f.raw)
		if err != nil {
			return p, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, f.name, err)
		}
		*f.dst = v
	}
	return p, nil
}

// formatSpread renders a PRECISION-scaled ratio as a percentage.
func formatSpread(spread *big.Int) string {
	if spread == nil {
		return display.Absent
	}
	return display.FormatAmount(spread, fpmath.USDDecimals-2, 2) + "%"
}

// formatFundingRate renders a rate at funding precision as a percentage.
func formatFundingRate(rate *big.Int) string {
	if rate == nil {
		return display.Absent
	}
	return display.FormatAmount(rate, 4, 4) + "%"
}

func formatSignedBps(bps *big.Int, positive bool) string {
	if bps == nil {
		return display.Absent
	}
	sign := "-"
	if positive || bps.Sign() == 0 {
		sign = "+"
	}
	return sign + display.FormatBps(bps)
}
