package position_test

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/position"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liquidationParams(isLong bool) position.LiquidationParams {
	return position.LiquidationParams{
		IsLong:         isLong,
		Size:           usd(1000),
		Collateral:     usd(100),
		AveragePrice:   usd(2000),
		MarginFeeBps:   position.DefaultMarginFeeBps,
		LiquidationFee: usd(position.DefaultLiquidationFeeUsd),
		MaxLeverageBps: position.DefaultMaxLeverageBps,
	}
}

func TestLiquidationPrice(t *testing.T) {
	tests := []struct {
		name   string
		params func() position.LiquidationParams
		want   *big.Int
	}{
		{
			// fees 6 USD leave a 94 cushion (188 in price); 100x leaves 90 (180)
			name:   "long takes the higher price",
			params: func() position.LiquidationParams { return liquidationParams(true) },
			want:   usd(1820),
		},
		{
			name:   "short takes the lower price",
			params: func() position.LiquidationParams { return liquidationParams(false) },
			want:   usd(2180),
		},
		{
			// fees 56 USD leave a 44 cushion, tighter than the 90 of max leverage
			name: "funding fee moves the long threshold",
			params: func() position.LiquidationParams {
				p := liquidationParams(true)
				p.FundingFee = usd(50)
				return p
			},
			want: usd(1912),
		},
		{
			// fees 106 USD exceed collateral: already past entry
			name: "fees beyond collateral",
			params: func() position.LiquidationParams {
				p := liquidationParams(true)
				p.FundingFee = usd(100)
				return p
			},
			want: usd(2012),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := position.LiquidationPrice(tt.params())
			require.NoError(t, err)
			requireBig(t, tt.want, got)
		})
	}
}

func TestLiquidationPrice_MissingInputs(t *testing.T) {
	for _, mutate := range []func(*position.LiquidationParams){
		func(p *position.LiquidationParams) { p.Size = nil },
		func(p *position.LiquidationParams) { p.Collateral = new(big.Int) },
		func(p *position.LiquidationParams) { p.AveragePrice = nil },
	} {
		p := liquidationParams(true)
		mutate(&p)

		got, err := position.LiquidationPrice(p)
		require.ErrorIs(t, err, position.ErrMissingInput)
		assert.Nil(t, got)
	}

	p := liquidationParams(true)
	p.MaxLeverageBps = 0
	_, err := position.LiquidationPrice(p)
	require.ErrorIs(t, err, fpmath.ErrDivisionByZero)
}
