package testutil

import (
	"PerpMetrics/internal/core"
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"math/big"
)

// Addresses used by fixtures.
const (
	Account    = "0x9f4D4ab5fB7E3b1C0c3fB9E9aA2b1a7dCc5A11E1"
	NativeAddr = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	UsdgAddr   = "0x45096e7aA921f27590f8F19e457794EB09678141"
	UsdcAddr   = "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"
	BtcAddr    = "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f"
	AdapterA   = "0x1111111111111111111111111111111111111111"
)

// USD returns n at USD precision.
func USD(n int64) *big.Int { return fpmath.ExpandDecimals(n, fpmath.USDDecimals) }

// Units returns n whole tokens at the given decimals.
func Units(n int64, decimals int) *big.Int { return fpmath.ExpandDecimals(n, decimals) }

// Tokens returns the fixture token list: native ETH (zero address), BTC,
// USDC and the USDG unit of account.
func Tokens() []token.Token {
	return []token.Token{
		{Address: token.ZeroAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
		{Address: BtcAddr, Symbol: "BTC", Decimals: 8},
		{Address: UsdcAddr, Symbol: "USDC", Decimals: 6, IsStable: true},
		{Address: UsdgAddr, Symbol: "USDG", Decimals: 18},
	}
}

// Whitelisted returns the vault-indexed tokens (no USDG).
func Whitelisted() []token.Token {
	return Tokens()[:3]
}

// VaultFields returns one vault record in reader order with the given
// prices; other fields hold plausible liquidity.
func VaultFields(decimals int, pool, reserved int64, minPrice, maxPrice *big.Int) []*big.Int {
	zero := new(big.Int)
	return []*big.Int{
		Units(pool, decimals),     // pool
		Units(reserved, decimals), // reserved
		Units(1_000_000, 18),      // usdg
		Units(1, decimals),        // redemption
		big.NewInt(10_000),        // weight
		Units(pool/10, decimals),  // buffer
		zero,                      // maxUsdg, defaulted
		USD(250_000),              // global short
		USD(1_000_000),            // max global short
		zero,                      // no long cap
		minPrice,                  // min price
		maxPrice,                  // max price
		USD(400_000),              // guaranteed
		maxPrice,                  // max primary
		minPrice,                  // min primary
	}
}

// Snapshot returns a complete two-position snapshot for Account.
func Snapshot() *core.Snapshot {
	var vault []*big.Int
	vault = append(vault, VaultFields(18, 1_000, 400, USD(1_999), USD(2_001))...)
	vault = append(vault, VaultFields(8, 50, 10, USD(29_950), USD(30_050))...)
	vault = append(vault, VaultFields(6, 2_000_000, 500_000, USD(1), USD(1))...)

	funding := []*big.Int{
		big.NewInt(100), big.NewInt(150_000),
		big.NewInt(80), big.NewInt(90_000),
		big.NewInt(50), big.NewInt(40_000),
	}

	positions := []*big.Int{
		// Long ETH with ETH collateral
		USD(10_000), USD(1_000), USD(1_800), big.NewInt(140_000),
		big.NewInt(0), new(big.Int), big.NewInt(1_700_000_000), big.NewInt(1), USD(0),
		// Short BTC with USDC collateral
		USD(30_000), USD(2_000), USD(31_000), big.NewInt(35_000),
		big.NewInt(1), USD(15), big.NewInt(1_700_000_500), big.NewInt(1), USD(0),
	}

	return &core.Snapshot{
		Tokens:            Tokens(),
		WhitelistedTokens: Whitelisted(),
		VaultStride:       snapshot.DefaultVaultStride,
		VaultWords:        Strings(vault),
		FundingWords:      Strings(funding),
		Account:           Account,
		Balances: Strings([]*big.Int{
			Units(3, 18), Units(1, 7), Units(5_000, 6), new(big.Int),
		}),
		PositionQueries: []snapshot.PositionQuery{
			{CollateralToken: token.ZeroAddress, IndexToken: token.ZeroAddress, IsLong: true},
			{CollateralToken: UsdcAddr, IndexToken: BtcAddr, IsLong: false, Adapter: AdapterA},
		},
		PositionWords: Strings(positions),
		IndexPrices: map[string]string{
			NativeAddr: USD(2_000).String(),
			BtcAddr:    USD(30_000).String(),
		},
	}
}

// Strings renders words as decimal strings.
func Strings(words []*big.Int) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.String()
	}
	return out
}
