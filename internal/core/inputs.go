package core

import (
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/token"
	"fmt"
	"math/big"
)

// TokenState is the vault-wide part of a snapshot.
type TokenState struct {
	Tokens            []token.Token
	WhitelistedTokens []token.Token
	Vault             []snapshot.VaultRecord
	Funding           []snapshot.FundingRecord
}

// AccountState is the per-account part of a snapshot: wallet balances
// aligned with TokenState.Tokens and the account's positions.
type AccountState struct {
	Account  string
	Balances []*big.Int
	Queries  []snapshot.PositionQuery
	Records  []snapshot.PositionRecord
}

// Inputs is one fully materialized pipeline input. Account is nil when
// only the token map is wanted.
type Inputs struct {
	Tokens      *TokenState
	Account     *AccountState
	IndexPrices map[string]*big.Int
}

// Snapshot is the JSON form of Inputs. Numeric fields are decimal strings
// of unsigned 256-bit words, the way the reader contract returns them.
type Snapshot struct {
	Tokens            []token.Token `json:"tokens"`
	WhitelistedTokens []token.Token `json:"whitelisted_tokens"`
	VaultStride       int           `json:"vault_stride,omitempty"`
	VaultWords        []string      `json:"vault_words"`
	FundingWords      []string      `json:"funding_words,omitempty"`

	Account         string                   `json:"account,omitempty"`
	Balances        []string                 `json:"balances,omitempty"`
	PositionQueries []snapshot.PositionQuery `json:"position_queries,omitempty"`
	PositionWords   []string                 `json:"position_words,omitempty"`

	IndexPrices map[string]string `json:"index_prices,omitempty"`
}

// Decode validates and unpacks the snapshot. defaultStride is used when the
// snapshot does not carry its own.
func (s *Snapshot) Decode(defaultStride int) (*Inputs, error) {
	stride := s.VaultStride
	if stride == 0 {
		stride = defaultStride
	}

	vaultWords, err := snapshot.ParseWords(s.VaultWords)
	if err != nil {
		return nil, fmt.Errorf("vault words: %w", err)
	}
	vault, err := snapshot.DecodeVault(vaultWords, len(s.WhitelistedTokens), stride)
	if err != nil {
		return nil, err
	}

	ts := &TokenState{
		Tokens:            s.Tokens,
		WhitelistedTokens: s.WhitelistedTokens,
		Vault:             vault,
	}

	if len(s.FundingWords) > 0 {
		fundingWords, err := snapshot.ParseWords(s.FundingWords)
		if err != nil {
			return nil, fmt.Errorf("funding words: %w", err)
		}
		ts.Funding, err = snapshot.DecodeFunding(fundingWords, len(s.WhitelistedTokens))
		if err != nil {
			return nil, err
		}
	}

	in := &Inputs{Tokens: ts, IndexPrices: make(map[string]*big.Int, len(s.IndexPrices))}

	for addr, price := range s.IndexPrices {
		v, err := snapshot.ParseUint256(price)
		if err != nil {
			return nil, fmt.Errorf("index price %s: %w", addr, err)
		}
		in.IndexPrices[addr] = v
	}

	if s.Account == "" {
		return in, nil
	}

	as := &AccountState{Account: s.Account, Queries: s.PositionQueries}
	if len(s.Balances) > 0 {
		as.Balances, err = snapshot.ParseWords(s.Balances)
		if err != nil {
			return nil, fmt.Errorf("balances: %w", err)
		}
	}
	positionWords, err := snapshot.ParseWords(s.PositionWords)
	if err != nil {
		return nil, fmt.Errorf("position words: %w", err)
	}
	as.Records, err = snapshot.DecodePositions(positionWords, len(s.PositionQueries))
	if err != nil {
		return nil, err
	}
	in.Account = as

	return in, nil
}
