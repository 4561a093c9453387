// Package snapshot decodes the flat word sequences returned by the vault
// reader contract into typed records. Every decoder validates the sequence
// length against the stride before reading a single field.
package snapshot

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrMalformedSnapshot marks structurally invalid ledger input.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrIndexOutOfRange marks a stride unpack past the end of a sequence.
	ErrIndexOutOfRange = errors.New("index out of range")
)

const (
	// VaultFieldCount is the number of named vault fields per token.
	VaultFieldCount = 15

	// DefaultVaultStride is the reader's props length per token.
	DefaultVaultStride = VaultFieldCount

	// FundingStride is the number of funding-rate fields per token.
	FundingStride = 2

	// PositionStride is the number of numeric fields per position.
	PositionStride = 9
)

// Vault field offsets within one stride.
const (
	vaultPoolAmount = iota
	vaultReservedAmount
	vaultUsdgAmount
	vaultRedemptionAmount
	vaultWeight
	vaultBufferAmount
	vaultMaxUsdgAmount
	vaultGlobalShortSize
	vaultMaxGlobalShortSize
	vaultMaxGlobalLongSize
	vaultMinPrice
	vaultMaxPrice
	vaultGuaranteedUsd
	vaultMaxPrimaryPrice
	vaultMinPrimaryPrice
)

// VaultRecord is the vault state of one whitelisted token.
type VaultRecord struct {
	PoolAmount         *big.Int
	ReservedAmount     *big.Int
	UsdgAmount         *big.Int
	RedemptionAmount   *big.Int
	Weight             *big.Int
	BufferAmount       *big.Int
	MaxUsdgAmount      *big.Int
	GlobalShortSize    *big.Int
	MaxGlobalShortSize *big.Int
	MaxGlobalLongSize  *big.Int
	MinPrice           *big.Int // USD scale
	MaxPrice           *big.Int // USD scale
	GuaranteedUsd      *big.Int
	MaxPrimaryPrice    *big.Int
	MinPrimaryPrice    *big.Int
}

// FundingRecord is the funding-rate state of one whitelisted token.
type FundingRecord struct {
	FundingRate           *big.Int
	CumulativeFundingRate *big.Int
}

// PositionRecord is the numeric ledger state of one position.
type PositionRecord struct {
	Size              *big.Int
	Collateral        *big.Int
	AveragePrice      *big.Int
	EntryFundingRate  *big.Int
	HasRealisedProfit bool
	RealisedPnl       *big.Int
	LastIncreasedTime int64 // unix seconds
	HasProfit         bool
	Delta             *big.Int
}

// PositionQuery identifies the position a record belongs to. The ledger
// returns records in the same order as the queries it was asked for.
type PositionQuery struct {
	CollateralToken string `json:"collateral_token"`
	IndexToken      string `json:"index_token"`
	IsLong          bool   `json:"is_long"`
	Adapter         string `json:"adapter,omitempty"`
}

// DecodeVault unpacks count records of the given stride. Strides wider than
// VaultFieldCount are allowed; trailing fields are ignored.
func DecodeVault(words []*big.Int, count, stride int) ([]VaultRecord, error) {
	if stride < VaultFieldCount {
		return nil, fmt.Errorf("%w: vault stride %d < %d fields", ErrMalformedSnapshot, stride, VaultFieldCount)
	}
	if err := checkBounds("vault", len(words), count, stride); err != nil {
		return nil, err
	}

	records := make([]VaultRecord, count)
	for i := 0; i < count; i++ {
		w := words[i*stride : i*stride+VaultFieldCount]
		if idx := firstNil(w); idx >= 0 {
			return nil, fmt.Errorf("%w: vault record %d field %d missing", ErrMalformedSnapshot, i, idx)
		}
		records[i] = VaultRecord{
			PoolAmount:         w[vaultPoolAmount],
			ReservedAmount:     w[vaultReservedAmount],
			UsdgAmount:         w[vaultUsdgAmount],
			RedemptionAmount:   w[vaultRedemptionAmount],
			Weight:             w[vaultWeight],
			BufferAmount:       w[vaultBufferAmount],
			MaxUsdgAmount:      w[vaultMaxUsdgAmount],
			GlobalShortSize:    w[vaultGlobalShortSize],
			MaxGlobalShortSize: w[vaultMaxGlobalShortSize],
			MaxGlobalLongSize:  w[vaultMaxGlobalLongSize],
			MinPrice:           w[vaultMinPrice],
			MaxPrice:           w[vaultMaxPrice],
			GuaranteedUsd:      w[vaultGuaranteedUsd],
			MaxPrimaryPrice:    w[vaultMaxPrimaryPrice],
			MinPrimaryPrice:    w[vaultMinPrimaryPrice],
		}
	}
	return records, nil
}

// DecodeFunding unpacks count funding-rate pairs. A pair with exactly one
// side present is malformed; a pair with both sides absent is kept as-is.
func DecodeFunding(words []*big.Int, count int) ([]FundingRecord, error) {
	if err := checkBounds("funding", len(words), count, FundingStride); err != nil {
		return nil, err
	}

	records := make([]FundingRecord, count)
	for i := 0; i < count; i++ {
		rate, cumulative := words[i*FundingStride], words[i*FundingStride+1]
		if (rate == nil) != (cumulative == nil) {
			return nil, fmt.Errorf("%w: funding pair %d partially present", ErrMalformedSnapshot, i)
		}
		records[i] = FundingRecord{FundingRate: rate, CumulativeFundingRate: cumulative}
	}
	return records, nil
}

// DecodePositions unpacks count position records.
func DecodePositions(words []*big.Int, count int) ([]PositionRecord, error) {
	if err := checkBounds("position", len(words), count, PositionStride); err != nil {
		return nil, err
	}

	records := make([]PositionRecord, count)
	for i := 0; i < count; i++ {
		w := words[i*PositionStride : (i+1)*PositionStride]
		if idx := firstNil(w); idx >= 0 {
			return nil, fmt.Errorf("%w: position record %d field %d missing", ErrMalformedSnapshot, i, idx)
		}
		if !w[6].IsInt64() {
			return nil, fmt.Errorf("%w: position record %d timestamp overflows", ErrMalformedSnapshot, i)
		}
		records[i] = PositionRecord{
			Size:              w[0],
			Collateral:        w[1],
			AveragePrice:      w[2],
			EntryFundingRate:  w[3],
			HasRealisedProfit: w[4].Sign() != 0,
			RealisedPnl:       w[5],
			LastIncreasedTime: w[6].Int64(),
			HasProfit:         w[7].Sign() != 0,
			Delta:             w[8],
		}
	}
	return records, nil
}

func checkBounds(kind string, have, count, stride int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative %s record count %d", ErrMalformedSnapshot, kind, count)
	}
	if need := count * stride; have < need {
		return fmt.Errorf("%w: %s sequence needs %d words for %d records, have %d: %w",
			ErrMalformedSnapshot, kind, need, count, have, ErrIndexOutOfRange)
	}
	return nil
}

func firstNil(words []*big.Int) int {
	for i, w := range words {
		if w == nil {
			return i
		}
	}
	return -1
}
