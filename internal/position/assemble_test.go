package position_test

import (
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pricedToken(address string, minPrice, maxPrice int64) *token.Info {
	info := token.NewInfo(token.Token{Address: address, Decimals: 18})
	info.MinPrice = usd(minPrice)
	info.MaxPrice = usd(maxPrice)
	return info
}

func record(size int64) snapshot.PositionRecord {
	return snapshot.PositionRecord{
		Size:              usd(size),
		Collateral:        usd(size / 10),
		AveragePrice:      usd(2000),
		EntryFundingRate:  big.NewInt(100),
		RealisedPnl:       new(big.Int),
		LastIncreasedTime: 1_700_000_000,
		Delta:             new(big.Int),
	}
}

func TestAssemble_MarkPriceBySide(t *testing.T) {
	tokens := map[string]*token.Info{
		usdcAddr:          pricedToken(usdcAddr, 1, 1),
		btcAddr:           pricedToken(btcAddr, 1990, 2010),
		token.ZeroAddress: pricedToken(token.ZeroAddress, 3000, 3002),
	}
	queries := []snapshot.PositionQuery{
		{CollateralToken: usdcAddr, IndexToken: btcAddr, IsLong: true},
		{CollateralToken: usdcAddr, IndexToken: btcAddr, IsLong: false, Adapter: adapterA},
		{CollateralToken: nativeAddr, IndexToken: nativeAddr, IsLong: true},
	}
	records := []snapshot.PositionRecord{record(1000), record(2000), record(3000)}

	positions, err := position.Assemble(account, queries, records, tokens, nativeAddr)
	require.NoError(t, err)
	require.Len(t, positions, 3)

	requireBig(t, usd(2010), positions[0].MarkPrice)
	requireBig(t, usd(1990), positions[1].MarkPrice)
	assert.Equal(t, adapterA, positions[1].Adapter)
	assert.False(t, positions[1].IsLong)

	// Native token resolved through the zero-address entry
	assert.Same(t, tokens[token.ZeroAddress], positions[2].IndexToken)
	requireBig(t, usd(3002), positions[2].MarkPrice)

	assert.Equal(t, account, positions[0].Account)
	requireBig(t, usd(1000), positions[0].Size)
	assert.Equal(t, int64(1_700_000_000), positions[0].LastIncreasedTime)

	// Records are copied, not shared
	positions[0].Size.SetInt64(1)
	requireBig(t, usd(1000), records[0].Size)
}

func TestAssemble_Errors(t *testing.T) {
	tokens := map[string]*token.Info{
		usdcAddr: pricedToken(usdcAddr, 1, 1),
		btcAddr:  pricedToken(btcAddr, 1990, 2010),
	}

	t.Run("length mismatch", func(t *testing.T) {
		_, err := position.Assemble(account,
			[]snapshot.PositionQuery{{CollateralToken: usdcAddr, IndexToken: btcAddr}},
			nil, tokens, nativeAddr)
		require.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
		require.ErrorIs(t, err, snapshot.ErrIndexOutOfRange)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := position.Assemble(account,
			[]snapshot.PositionQuery{{CollateralToken: usdcAddr, IndexToken: nativeAddr}},
			[]snapshot.PositionRecord{record(1000)}, tokens, nativeAddr)
		require.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
	})
}

func TestAssemble_CaseInsensitiveLookup(t *testing.T) {
	tokens := map[string]*token.Info{
		usdcAddr: pricedToken(usdcAddr, 1, 1),
		btcAddr:  pricedToken(btcAddr, 1990, 2010),
	}
	queries := []snapshot.PositionQuery{{
		CollateralToken: "0xff970a61a04b1ca14834a43f5de4533ebddb5cc8",
		IndexToken:      btcAddr,
		IsLong:          true,
	}}

	positions, err := position.Assemble(account, queries, []snapshot.PositionRecord{record(1000)}, tokens, nativeAddr)
	require.NoError(t, err)
	assert.Same(t, tokens[usdcAddr], positions[0].CollateralToken)
}
