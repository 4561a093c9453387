package query

import (
	"PerpMetrics/internal/display"
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/position"
	"math/big"
)

// AccountSummary aggregates an account's valuations.
type AccountSummary struct {
	Positions       int `json:"positions"`
	LowCollateral   int `json:"low_collateral"`
	Overleveraged   int `json:"overleveraged"`
	LeverageUnknown int `json:"leverage_unknown"`

	TotalSize       *big.Int `json:"total_size"`
	TotalCollateral *big.Int `json:"total_collateral"`
	TotalNetValue   *big.Int `json:"total_net_value"`
	// NetPnl is signed: the sum of displayed deltas.
	NetPnl *big.Int `json:"net_pnl"`

	Display SummaryDisplay `json:"display"`
}

type SummaryDisplay struct {
	TotalSize       string `json:"total_size"`
	TotalCollateral string `json:"total_collateral"`
	TotalNetValue   string `json:"total_net_value"`
	NetPnl          string `json:"net_pnl"`
}

// Summarize totals a book. Net values that could not be derived are left
// out of TotalNetValue.
func Summarize(book *position.Book) AccountSummary {
	s := AccountSummary{
		TotalSize:       new(big.Int),
		TotalCollateral: new(big.Int),
		TotalNetValue:   new(big.Int),
		NetPnl:          new(big.Int),
	}
	if book == nil {
		s.Display = summaryDisplay(s)
		return s
	}

	for i := range book.Positions {
		v := &book.Positions[i]
		s.Positions++

		s.TotalSize.Add(s.TotalSize, fpmath.OrZero(v.Position.Size))
		s.TotalCollateral.Add(s.TotalCollateral, fpmath.OrZero(v.Position.Collateral))
		if v.NetValue != nil {
			s.TotalNetValue.Add(s.TotalNetValue, v.NetValue)
		}
		if v.DisplayedDelta != nil {
			if v.DisplayedHasProfit {
				s.NetPnl.Add(s.NetPnl, v.DisplayedDelta)
			} else {
				s.NetPnl.Sub(s.NetPnl, v.DisplayedDelta)
			}
		}

		if v.HasLowCollateral != nil && *v.HasLowCollateral {
			s.LowCollateral++
		}
		switch {
		case v.Leverage == nil:
			s.LeverageUnknown++
		case v.Overleveraged():
			s.Overleveraged++
		}
	}

	s.Display = summaryDisplay(s)
	return s
}

func summaryDisplay(s AccountSummary) SummaryDisplay {
	return SummaryDisplay{
		TotalSize:       display.FormatUSD(s.TotalSize),
		TotalCollateral: display.FormatUSD(s.TotalCollateral),
		TotalNetValue:   display.FormatUSD(s.TotalNetValue),
		NetPnl:          display.FormatPnl(new(big.Int).Abs(s.NetPnl), s.NetPnl.Sign() >= 0),
	}
}
