package snapshot_test

import (
	"PerpMetrics/internal/snapshot"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqWords(n int) []*big.Int {
	words := make([]*big.Int, n)
	for i := range words {
		words[i] = big.NewInt(int64(i))
	}
	return words
}

func TestDecodeVault_FieldOrder(t *testing.T) {
	records, err := snapshot.DecodeVault(seqWords(30), 2, snapshot.DefaultVaultStride)
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[1]
	assert.Equal(t, int64(15), r.PoolAmount.Int64())
	assert.Equal(t, int64(16), r.ReservedAmount.Int64())
	assert.Equal(t, int64(21), r.MaxUsdgAmount.Int64())
	assert.Equal(t, int64(25), r.MinPrice.Int64())
	assert.Equal(t, int64(26), r.MaxPrice.Int64())
	assert.Equal(t, int64(27), r.GuaranteedUsd.Int64())
	assert.Equal(t, int64(29), r.MinPrimaryPrice.Int64())
}

func TestDecodeVault_WideStride(t *testing.T) {
	records, err := snapshot.DecodeVault(seqWords(34), 2, 17)
	require.NoError(t, err)
	assert.Equal(t, int64(17), records[1].PoolAmount.Int64())
}

func TestDecodeVault_ShortSequence(t *testing.T) {
	_, err := snapshot.DecodeVault(seqWords(29), 2, snapshot.DefaultVaultStride)
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
	assert.ErrorIs(t, err, snapshot.ErrIndexOutOfRange)
}

func TestDecodeVault_NarrowStride(t *testing.T) {
	_, err := snapshot.DecodeVault(seqWords(30), 2, 14)
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}

func TestDecodeVault_MissingField(t *testing.T) {
	words := seqWords(15)
	words[3] = nil
	_, err := snapshot.DecodeVault(words, 1, snapshot.DefaultVaultStride)
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}

func TestDecodeFunding(t *testing.T) {
	records, err := snapshot.DecodeFunding(seqWords(4), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), records[1].FundingRate.Int64())
	assert.Equal(t, int64(3), records[1].CumulativeFundingRate.Int64())

	words := seqWords(2)
	words[1] = nil
	_, err = snapshot.DecodeFunding(words, 1)
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)

	_, err = snapshot.DecodeFunding(seqWords(3), 2)
	assert.ErrorIs(t, err, snapshot.ErrIndexOutOfRange)
}

func TestDecodePositions(t *testing.T) {
	words := []*big.Int{
		big.NewInt(1000), big.NewInt(100), big.NewInt(50), big.NewInt(7),
		big.NewInt(1), big.NewInt(3), big.NewInt(1700000000), big.NewInt(0), big.NewInt(12),
	}
	records, err := snapshot.DecodePositions(words, 1)
	require.NoError(t, err)

	r := records[0]
	assert.Equal(t, int64(1000), r.Size.Int64())
	assert.Equal(t, int64(100), r.Collateral.Int64())
	assert.True(t, r.HasRealisedProfit)
	assert.False(t, r.HasProfit)
	assert.Equal(t, int64(1700000000), r.LastIncreasedTime)
	assert.Equal(t, int64(12), r.Delta.Int64())

	_, err = snapshot.DecodePositions(words[:8], 1)
	assert.ErrorIs(t, err, snapshot.ErrIndexOutOfRange)
}

func TestDecodeWords(t *testing.T) {
	raw := make([]byte, 64)
	raw[31] = 0x2a
	raw[32] = 0x01
	words, err := snapshot.DecodeWords(raw)
	require.NoError(t, err)
	require.Len(t, words, 2)
	assert.Equal(t, int64(42), words[0].Int64())
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 248).String(), words[1].String())

	_, err = snapshot.DecodeWords(raw[:40])
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}

func TestDecodeHexWords(t *testing.T) {
	words, err := snapshot.DecodeHexWords("0x" + strings.Repeat("0", 62) + "ff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), words[0].Int64())

	_, err = snapshot.DecodeHexWords("0xzz")
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}

func TestParseWords(t *testing.T) {
	words, err := snapshot.ParseWords([]string{"1000000000000000000000000000000", "", "7"})
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000000000", words[0].String())
	assert.Nil(t, words[1])
	assert.Equal(t, int64(7), words[2].Int64())

	_, err = snapshot.ParseWords([]string{"-1"})
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}

func TestEncodeWords_RoundTrip(t *testing.T) {
	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	raw, err := snapshot.EncodeWords([]*big.Int{big.NewInt(42), nil, maxWord})
	require.NoError(t, err)
	require.Len(t, raw, 3*snapshot.WordSize)

	words, err := snapshot.DecodeWords(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), words[0].Int64())
	assert.Zero(t, words[1].Sign())
	assert.Equal(t, maxWord.String(), words[2].String())

	_, err = snapshot.EncodeWords([]*big.Int{big.NewInt(-1)})
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
	_, err = snapshot.EncodeWords([]*big.Int{new(big.Int).Lsh(big.NewInt(1), 256)})
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)
}
