package query_test

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/query"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/testutil"
	"PerpMetrics/internal/token"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	in    *core.Inputs
	err   error
	block bool
}

func (f *fakeLedger) TokenState(ctx context.Context) (*core.TokenState, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.in.Tokens, nil
}

func (f *fakeLedger) AccountState(ctx context.Context, account string) (*core.AccountState, error) {
	if f.err != nil {
		return nil, f.err
	}
	if account != f.in.Account.Account {
		return &core.AccountState{Account: account}, nil
	}
	return f.in.Account, nil
}

type fakeFeed struct {
	prices map[string]*big.Int
	err    error
}

func (f *fakeFeed) IndexPrices(ctx context.Context) (map[string]*big.Int, error) {
	return f.prices, f.err
}

func newService(t *testing.T, ledger *fakeLedger, feed query.PriceFeed, metrics *observability.Metrics) *query.QueryService {
	t.Helper()
	pc := position.DefaultConfig()
	pc.NativeTokenAddress = testutil.NativeAddr
	pipeline := core.NewPipeline(token.Config{
		NativeTokenAddress: testutil.NativeAddr,
		StableUnitAddress:  testutil.UsdgAddr,
	}, pc, nil, zerolog.Nop())

	return query.NewQueryService(ledger, feed, pipeline, query.Options{
		RequestTimeout: 50 * time.Millisecond,
		Metrics:        metrics,
		Logger:         zerolog.Nop(),
	})
}

func fixtureSources(t *testing.T) (*fakeLedger, *fakeFeed) {
	t.Helper()
	in, err := testutil.Snapshot().Decode(snapshot.DefaultVaultStride)
	require.NoError(t, err)
	return &fakeLedger{in: in}, &fakeFeed{prices: in.IndexPrices}
}

func TestGetTokens(t *testing.T) {
	ledger, feed := fixtureSources(t)
	resp, err := newService(t, ledger, feed, nil).GetTokens(context.Background())
	require.NoError(t, err)

	require.Len(t, resp.Tokens, 4)
	assert.Equal(t, token.ZeroAddress, resp.Tokens[0].Address)
	assert.Equal(t, token.BlendStats{Blended: 2, Skipped: 1}, resp.Stats)

	eth := resp.Tokens[0]
	assert.Equal(t, "$1999.00", eth.Display.MinPrice)
	assert.Equal(t, "$2001.00", eth.Display.MaxPrice)
	assert.Equal(t, "0.0100%", eth.Display.FundingRate)
	assert.Equal(t, "-", eth.Display.Balance)
}

func TestGetTokens_PriceFeedDown(t *testing.T) {
	ledger, _ := fixtureSources(t)
	feed := &fakeFeed{err: errors.New("feed down")}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	resp, err := newService(t, ledger, feed, metrics).GetTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token.BlendStats{Skipped: 3}, resp.Stats)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PriceFallbacks.WithLabelValues("query")))

	for _, tok := range resp.Tokens {
		if tok.Address == testutil.BtcAddr {
			assert.Equal(t, "$30050.00", tok.Display.MaxPrice)
			return
		}
	}
	t.Fatal("BTC missing from response")
}

func TestGetPositions(t *testing.T) {
	ledger, feed := fixtureSources(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	resp, err := newService(t, ledger, feed, metrics).GetPositions(
		context.Background(), testutil.Account, position.Options{ShowPnlAfterFees: true})
	require.NoError(t, err)

	require.Len(t, resp.Positions, 2)
	long, short := resp.Positions[0], resp.Positions[1]
	assert.Equal(t, "Long", long.Display.Side)
	assert.Equal(t, "ETH/USD", long.Display.Market)
	assert.Equal(t, "$2001.00", long.Display.MarkPrice)
	assert.Equal(t, "$100.00", long.Display.FundingFee)
	assert.Equal(t, "Short", short.Display.Side)
	assert.Equal(t, "BTC/USD", short.Display.Market)
	assert.Equal(t, "USDC", short.Display.CollateralSymbol)

	assert.Equal(t, 2, resp.Summary.Positions)
	assert.Equal(t, "$40000.00", resp.Summary.Display.TotalSize)
	assert.Equal(t, "$3000.00", resp.Summary.Display.TotalCollateral)

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("positions", "ok")))
}

func TestGetPositions_UnknownAccountIsEmpty(t *testing.T) {
	ledger, feed := fixtureSources(t)
	resp, err := newService(t, ledger, feed, nil).GetPositions(
		context.Background(), "0x00000000000000000000000000000000000000aa", position.Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Positions)
	assert.Equal(t, "+$0.00", resp.Summary.Display.NetPnl)
}

func TestGetPositions_InvalidAccount(t *testing.T) {
	ledger, feed := fixtureSources(t)
	svc := newService(t, ledger, feed, nil)

	for _, account := range []string{"", "0x123", "9f4D4ab5fB7E3b1C0c3fB9E9aA2b1a7dCc5A11E1", "0xZZ4D4ab5fB7E3b1C0c3fB9E9aA2b1a7dCc5A11E1"} {
		_, err := svc.GetPositions(context.Background(), account, position.Options{})
		assert.ErrorIs(t, err, query.ErrInvalidRequest, account)
	}
}

func TestGetPositions_LedgerError(t *testing.T) {
	ledger, feed := fixtureSources(t)
	ledger.err = errors.New("connection refused")
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	_, err := newService(t, ledger, feed, metrics).GetPositions(context.Background(), testutil.Account, position.Options{})
	require.Error(t, err)
	assert.Equal(t, query.CodeInternal, query.ErrorCode(err))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryErrors.WithLabelValues("positions", query.CodeInternal)))
}

func TestGetPositions_Timeout(t *testing.T) {
	ledger, feed := fixtureSources(t)
	ledger.block = true

	_, err := newService(t, ledger, feed, nil).GetTokens(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, query.CodeTimeout, query.ErrorCode(err))
}

func TestGetPosition(t *testing.T) {
	ledger, feed := fixtureSources(t)
	svc := newService(t, ledger, feed, nil)

	all, err := svc.GetPositions(context.Background(), testutil.Account, position.Options{})
	require.NoError(t, err)
	key := all.Positions[1].AdapterKey

	got, err := svc.GetPosition(context.Background(), testutil.Account, key, position.Options{})
	require.NoError(t, err)
	assert.Equal(t, key, got.AdapterKey)
	assert.Equal(t, testutil.AdapterA, got.Position.Adapter)

	_, err = svc.GetPosition(context.Background(), testutil.Account, "missing", position.Options{})
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestPreviewLeverage(t *testing.T) {
	ledger, feed := fixtureSources(t)
	svc := newService(t, ledger, feed, nil)

	tests := []struct {
		name    string
		req     query.LeverageRequest
		display string
		code    string
	}{
		{
			name:    "current",
			req:     query.LeverageRequest{Size: testutil.USD(10_000).String(), Collateral: testutil.USD(1_000).String()},
			display: "10.00x",
		},
		{
			name: "add collateral",
			req: query.LeverageRequest{
				Size: testutil.USD(10_000).String(), Collateral: testutil.USD(1_000).String(),
				CollateralDelta: testutil.USD(1_000).String(), IncreaseCollateral: true,
			},
			display: "5.00x",
		},
		{
			name: "not a number",
			req:  query.LeverageRequest{Size: "ten", Collateral: "1"},
			code: query.CodeInvalidRequest,
		},
		{
			name: "withdraw everything",
			req: query.LeverageRequest{
				Size: testutil.USD(10_000).String(), Collateral: testutil.USD(1_000).String(),
				CollateralDelta: testutil.USD(1_000).String(),
			},
			code: query.CodeInvalidPosition,
		},
		{
			name: "missing collateral",
			req:  query.LeverageRequest{Size: testutil.USD(10_000).String()},
			code: query.CodeInvalidPosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.PreviewLeverage(context.Background(), tt.req)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, query.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.display, resp.Display)
			assert.False(t, resp.Overleveraged)
		})
	}
}

func TestSummarize_Nil(t *testing.T) {
	s := query.Summarize(nil)
	assert.Equal(t, 0, s.Positions)
	assert.Equal(t, "$0.00", s.Display.TotalNetValue)
	assert.Equal(t, "+$0.00", s.Display.NetPnl)
}
