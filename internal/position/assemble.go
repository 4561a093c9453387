package position

import (
	fpmath "PerpMetrics/internal/math"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"fmt"
	"strings"
)

// Assemble pairs decoded ledger records with the queries that produced them
// and resolves token references. The mark price is the index token's
// MinPrice for shorts and MaxPrice for longs.
func Assemble(
	account string,
	queries []snapshot.PositionQuery,
	records []snapshot.PositionRecord,
	tokens map[string]*token.Info,
	nativeTokenAddress string,
) ([]Position, error) {
	if len(records) != len(queries) {
		return nil, fmt.Errorf("%w: %d position records for %d queries: %w",
			snapshot.ErrMalformedSnapshot, len(records), len(queries), snapshot.ErrIndexOutOfRange)
	}

	positions := make([]Position, 0, len(records))
	for i, q := range queries {
		collateral, ok := lookupToken(tokens, q.CollateralToken, nativeTokenAddress)
		if !ok {
			return nil, fmt.Errorf("%w: position %d: unknown collateral token %s",
				snapshot.ErrMalformedSnapshot, i, q.CollateralToken)
		}
		index, ok := lookupToken(tokens, q.IndexToken, nativeTokenAddress)
		if !ok {
			return nil, fmt.Errorf("%w: position %d: unknown index token %s",
				snapshot.ErrMalformedSnapshot, i, q.IndexToken)
		}

		r := records[i]
		markPrice := index.MaxPrice
		if !q.IsLong {
			markPrice = index.MinPrice
		}

		positions = append(positions, Position{
			Account:           account,
			CollateralToken:   collateral,
			IndexToken:        index,
			IsLong:            q.IsLong,
			Adapter:           q.Adapter,
			Size:              fpmath.Clone(r.Size),
			Collateral:        fpmath.Clone(r.Collateral),
			AveragePrice:      fpmath.Clone(r.AveragePrice),
			EntryFundingRate:  fpmath.Clone(r.EntryFundingRate),
			RealisedPnl:       fpmath.Clone(r.RealisedPnl),
			HasRealisedProfit: r.HasRealisedProfit,
			LastIncreasedTime: r.LastIncreasedTime,
			HasProfit:         r.HasProfit,
			Delta:             fpmath.Clone(r.Delta),
			MarkPrice:         fpmath.Clone(markPrice),
		})
	}
	return positions, nil
}

// lookupToken finds a token by exact address, then case-insensitively, then
// via the zero address when the query names the native token.
func lookupToken(tokens map[string]*token.Info, address, nativeTokenAddress string) (*token.Info, bool) {
	if info, ok := tokens[address]; ok {
		return info, true
	}
	for addr, info := range tokens {
		if strings.EqualFold(addr, address) {
			return info, true
		}
	}
	if nativeTokenAddress != "" && strings.EqualFold(address, nativeTokenAddress) {
		info, ok := tokens[token.ZeroAddress]
		return info, ok
	}
	return nil, false
}
