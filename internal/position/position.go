// internal/position/position.go
package position

import (
	"PerpMetrics/internal/token"
	"errors"
	"math/big"
)

var (
	// ErrInvalidPositionState marks a requested change the position cannot absorb.
	ErrInvalidPositionState = errors.New("invalid position state")

	// ErrMissingInput marks a computation whose required inputs are absent.
	ErrMissingInput = errors.New("missing input")
)

// Position is the raw ledger view of one position. It is never modified
// after assembly.
type Position struct {
	Account         string      `json:"account"`
	CollateralToken *token.Info `json:"-"`
	IndexToken      *token.Info `json:"-"`
	IsLong          bool        `json:"is_long"`
	Adapter         string      `json:"adapter,omitempty"`

	Size              *big.Int `json:"size"`          // USD scale
	Collateral        *big.Int `json:"collateral"`    // USD scale
	AveragePrice      *big.Int `json:"average_price"` // USD scale
	EntryFundingRate  *big.Int `json:"entry_funding_rate"`
	RealisedPnl       *big.Int `json:"realised_pnl"`
	HasRealisedProfit bool     `json:"has_realised_profit"`
	LastIncreasedTime int64    `json:"last_increased_time"`
	HasProfit         bool     `json:"has_profit"` // as reported by the ledger
	Delta             *big.Int `json:"delta"`      // as reported by the ledger

	// MarkPrice is selected from the index token by the assembler.
	MarkPrice *big.Int `json:"mark_price"`
}

// Valuation is the derived state of one position. Nil pointers mean the
// value is not applicable; they are never a stand-in for zero.
type Valuation struct {
	Position Position `json:"position"`

	Key             string `json:"key"`
	AdapterKey      string `json:"adapter_key"`
	CollateralToken string `json:"collateral_token"`
	IndexToken      string `json:"index_token"`

	FundingFee         *big.Int `json:"funding_fee"`
	CollateralAfterFee *big.Int `json:"collateral_after_fee"`
	ClosingFee         *big.Int `json:"closing_fee"`
	PositionFee        *big.Int `json:"position_fee"`
	TotalFees          *big.Int `json:"total_fees"`

	Delta           *big.Int `json:"delta"`
	PendingDelta    *big.Int `json:"pending_delta"`
	HasProfit       bool     `json:"has_profit"`
	DeltaPercentage *big.Int `json:"delta_percentage"` // bps of collateral

	PendingDeltaAfterFees    *big.Int `json:"pending_delta_after_fees"`
	HasProfitAfterFees       *bool    `json:"has_profit_after_fees"`
	DeltaPercentageAfterFees *big.Int `json:"delta_percentage_after_fees"`

	DisplayedDelta           *big.Int `json:"displayed_delta"`
	DisplayedHasProfit       bool     `json:"displayed_has_profit"`
	DisplayedDeltaPercentage *big.Int `json:"displayed_delta_percentage"`

	NetValue         *big.Int `json:"net_value"`
	Leverage         *big.Int `json:"leverage"` // bps; negative means overleveraged
	HasLowCollateral *bool    `json:"has_low_collateral"`
	LiquidationPrice *big.Int `json:"liquidation_price"`
}

// Overleveraged reports whether the leverage resolved to a negative value,
// which the display layer renders as beyond the maximum multiple.
func (v *Valuation) Overleveraged() bool {
	return v.Leverage != nil && v.Leverage.Sign() < 0
}

// Book is the derived position list plus its lookup by adapter key.
type Book struct {
	Positions []Valuation           `json:"positions"`
	ByKey     map[string]*Valuation `json:"-"`
}
