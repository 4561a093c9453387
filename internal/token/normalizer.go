package token

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/snapshot"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultMaxPriceDeviationBps bounds how far the index feed may sit from
	// the primary price before only one bound is overridden.
	DefaultMaxPriceDeviationBps = 750

	// deviationMarginBps is subtracted from the deviation bound before the
	// spread is compared against it.
	deviationMarginBps = 50
)

// DefaultMaxUsdgAmount is used when the vault reports no USDG cap
// (200,000,000 USDG at 18 decimals).
var DefaultMaxUsdgAmount = fpmath.ExpandDecimals(200_000_000, 18)

// Config holds the platform constants the normalizer depends on.
type Config struct {
	NativeTokenAddress   string
	StableUnitAddress    string // USDG, always priced at exactly one USD
	MaxPriceDeviationBps int64
}

// Input is one fully materialized vault snapshot.
type Input struct {
	Tokens            []Token
	WhitelistedTokens []Token
	Balances          []*big.Int // aligned with Tokens; nil when no account is queried
	Vault             []snapshot.VaultRecord
	Funding           []snapshot.FundingRecord // aligned with WhitelistedTokens; may be nil
	IndexPrices       map[string]*big.Int
}

// BlendStats counts how the index feed was applied.
type BlendStats struct {
	Blended   int // both bounds replaced by index ± half spread
	Divergent int // only one bound replaced
	Skipped   int // no usable index price
}

// Result is the normalized token map for one cycle.
type Result struct {
	Tokens map[string]*Info
	Stats  BlendStats
}

// Normalizer builds Info records. It holds no state between calls.
type Normalizer struct {
	cfg Config
}

func NewNormalizer(cfg Config) *Normalizer {
	if cfg.MaxPriceDeviationBps == 0 {
		cfg.MaxPriceDeviationBps = DefaultMaxPriceDeviationBps
	}
	return &Normalizer{cfg: cfg}
}

// Normalize derives the token map. Whitelisted tokens overwrite entries of
// the tracked list but keep their wallet balance.
func (n *Normalizer) Normalize(in Input) (*Result, error) {
	if in.Balances != nil && len(in.Balances) < len(in.Tokens) {
		return nil, fmt.Errorf("%w: %d balances for %d tokens: %w",
			snapshot.ErrMalformedSnapshot, len(in.Balances), len(in.Tokens), snapshot.ErrIndexOutOfRange)
	}
	if len(in.Vault) < len(in.WhitelistedTokens) {
		return nil, fmt.Errorf("%w: %d vault records for %d whitelisted tokens: %w",
			snapshot.ErrMalformedSnapshot, len(in.Vault), len(in.WhitelistedTokens), snapshot.ErrIndexOutOfRange)
	}
	if in.Funding != nil && len(in.Funding) < len(in.WhitelistedTokens) {
		return nil, fmt.Errorf("%w: %d funding records for %d whitelisted tokens: %w",
			snapshot.ErrMalformedSnapshot, len(in.Funding), len(in.WhitelistedTokens), snapshot.ErrIndexOutOfRange)
	}

	result := &Result{Tokens: make(map[string]*Info, len(in.Tokens)+len(in.WhitelistedTokens))}
	indexPrices := foldAddresses(in.IndexPrices)

	for i, t := range in.Tokens {
		info := NewInfo(t)
		if in.Balances != nil {
			info.Balance = fpmath.Clone(in.Balances[i])
		}
		if n.isStableUnit(t.Address) {
			info.MinPrice = fpmath.Precision()
			info.MaxPrice = fpmath.Precision()
		}
		result.Tokens[t.Address] = info
	}

	for i, t := range in.WhitelistedTokens {
		info := NewInfo(t)
		applyVault(info, in.Vault[i])

		switch n.blend(info, indexPrices) {
		case blendBoth:
			result.Stats.Blended++
		case blendOne:
			result.Stats.Divergent++
		default:
			result.Stats.Skipped++
		}

		if in.Funding != nil {
			info.FundingRate = fpmath.Clone(in.Funding[i].FundingRate)
			info.CumulativeFundingRate = fpmath.Clone(in.Funding[i].CumulativeFundingRate)
		}

		if n.isStableUnit(t.Address) {
			info.MinPrice = fpmath.Precision()
			info.MaxPrice = fpmath.Precision()
		}

		if existing, ok := result.Tokens[t.Address]; ok {
			info.Balance = existing.Balance
		}
		result.Tokens[t.Address] = info
	}

	return result, nil
}

// foldAddresses lowercases the feed keys so checksummed and plain
// addresses resolve to the same entry.
func foldAddresses(prices map[string]*big.Int) map[string]*big.Int {
	if prices == nil {
		return nil
	}
	out := make(map[string]*big.Int, len(prices))
	for addr, price := range prices {
		out[strings.ToLower(addr)] = price
	}
	return out
}

func (n *Normalizer) isStableUnit(address string) bool {
	return n.cfg.StableUnitAddress != "" && strings.EqualFold(address, n.cfg.StableUnitAddress)
}

// applyVault copies the vault fields and derives liquidity and capacity.
func applyVault(info *Info, v snapshot.VaultRecord) {
	info.PoolAmount = fpmath.Clone(v.PoolAmount)
	info.ReservedAmount = fpmath.Clone(v.ReservedAmount)
	info.AvailableAmount = fpmath.Sub(v.PoolAmount, v.ReservedAmount)
	info.UsdgAmount = fpmath.Clone(v.UsdgAmount)
	info.RedemptionAmount = fpmath.Clone(v.RedemptionAmount)
	info.Weight = fpmath.Clone(v.Weight)
	info.BufferAmount = fpmath.Clone(v.BufferAmount)
	info.MaxUsdgAmount = fpmath.Clone(v.MaxUsdgAmount)
	if fpmath.IsZero(info.MaxUsdgAmount) {
		info.MaxUsdgAmount = fpmath.Clone(DefaultMaxUsdgAmount)
	}

	info.GlobalShortSize = fpmath.Clone(v.GlobalShortSize)
	info.MaxGlobalShortSize = fpmath.Clone(v.MaxGlobalShortSize)
	info.MaxGlobalLongSize = fpmath.Clone(v.MaxGlobalLongSize)
	info.GuaranteedUsd = fpmath.Clone(v.GuaranteedUsd)

	info.MinPrice = fpmath.Clone(v.MinPrice)
	info.MaxPrice = fpmath.Clone(v.MaxPrice)
	info.Spread = Spread(info.MinPrice, info.MaxPrice, fpmath.Precision())
	info.MaxPrimaryPrice = fpmath.Clone(v.MaxPrimaryPrice)
	info.MinPrimaryPrice = fpmath.Clone(v.MinPrimaryPrice)

	// Saved before the index feed may override the working prices
	info.ContractMinPrice = fpmath.Clone(v.MinPrice)
	info.ContractMaxPrice = fpmath.Clone(v.MaxPrice)

	info.MaxAvailableShort = new(big.Int)
	info.HasMaxAvailableShort = false
	if fpmath.IsPositive(info.MaxGlobalShortSize) {
		info.HasMaxAvailableShort = true
		info.MaxAvailableShort = fpmath.FloorZero(fpmath.Sub(info.MaxGlobalShortSize, info.GlobalShortSize))
	}

	// Stable tokens back the whole pool; others only what is not reserved
	unit := info.UnitScale()
	if info.IsStable {
		info.AvailableUsd, _ = fpmath.MulDiv(info.PoolAmount, info.MinPrice, unit)
	} else {
		info.AvailableUsd, _ = fpmath.MulDiv(info.AvailableAmount, info.MinPrice, unit)
	}

	info.MaxAvailableLong = new(big.Int)
	info.HasMaxAvailableLong = false
	if fpmath.IsPositive(info.MaxGlobalLongSize) {
		info.HasMaxAvailableLong = true
		if info.MaxGlobalLongSize.Cmp(info.GuaranteedUsd) > 0 {
			remaining := fpmath.Sub(info.MaxGlobalLongSize, info.GuaranteedUsd)
			info.MaxAvailableLong = fpmath.FloorZero(fpmath.Min(remaining, info.AvailableUsd))
		}
	} else {
		info.MaxAvailableLong = fpmath.Clone(info.AvailableUsd)
	}

	info.ManagedUsd = fpmath.Add(info.AvailableUsd, info.GuaranteedUsd)
	info.MaxLongCapacity = fpmath.Clone(info.ManagedUsd)
	if fpmath.IsPositive(info.MaxGlobalLongSize) && info.MaxGlobalLongSize.Cmp(info.ManagedUsd) < 0 {
		info.MaxLongCapacity = fpmath.Clone(info.MaxGlobalLongSize)
	}

	managedAmount, err := fpmath.MulDiv(info.ManagedUsd, unit, info.MinPrice)
	if err == nil {
		info.ManagedAmount = managedAmount
	}
}

type blendOutcome int

const (
	blendNone blendOutcome = iota
	blendOne
	blendBoth
)

// blend overrides the working prices with the index feed. indexPrices must
// be keyed by lowercase address. When the primary
// spread is wide, only the bound on the index side moves; otherwise both
// bounds become index ± half the primary spread.
func (n *Normalizer) blend(info *Info, indexPrices map[string]*big.Int) blendOutcome {
	if indexPrices == nil {
		return blendNone
	}
	indexPrice := indexPrices[strings.ToLower(ResolveAddress(info.Address, n.cfg.NativeTokenAddress))]
	if fpmath.IsZero(indexPrice) {
		return blendNone
	}

	spreadBps := Spread(info.MinPrice, info.MaxPrice, fpmath.BasisPoints())
	if spreadBps == nil {
		return blendNone
	}

	if spreadBps.Cmp(big.NewInt(n.cfg.MaxPriceDeviationBps-deviationMarginBps)) > 0 {
		if indexPrice.Cmp(fpmath.OrZero(info.MinPrimaryPrice)) > 0 {
			info.MaxPrice = fpmath.Clone(indexPrice)
		} else {
			info.MinPrice = fpmath.Clone(indexPrice)
		}
		return blendOne
	}

	halfSpreadBps := new(big.Int).Quo(spreadBps, big.NewInt(2)).Int64()
	info.MaxPrice = fpmath.ApplyBps(indexPrice, halfSpreadBps)
	info.MinPrice = fpmath.ApplyBps(indexPrice, -halfSpreadBps)
	return blendBoth
}
