package snapshot

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// WordSize is the byte width of one ABI-encoded uint256.
const WordSize = 32

// DecodeWords splits ABI-encoded return data into unsigned 256-bit words.
func DecodeWords(raw []byte) ([]*big.Int, error) {
	if len(raw)%WordSize != 0 {
		return nil, fmt.Errorf("%w: return data length %d is not a multiple of %d",
			ErrMalformedSnapshot, len(raw), WordSize)
	}

	words := make([]*big.Int, 0, len(raw)/WordSize)
	var w uint256.Int
	for off := 0; off < len(raw); off += WordSize {
		w.SetBytes32(raw[off : off+WordSize])
		words = append(words, w.ToBig())
	}
	return words, nil
}

// DecodeHexWords is DecodeWords over a 0x-prefixed hex string.
func DecodeHexWords(s string) ([]*big.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return DecodeWords(raw)
}

// ParseWords parses base-10 strings, the representation used in stored
// snapshots. Empty strings decode to nil (absent field).
func ParseWords(values []string) ([]*big.Int, error) {
	words := make([]*big.Int, len(values))
	for i, s := range values {
		if s == "" {
			continue
		}
		v, err := ParseUint256(s)
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", i, err)
		}
		words[i] = v
	}
	return words, nil
}

// ParseUint256 parses a base-10 string bounded to the uint256 range.
func ParseUint256(s string) (*big.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedSnapshot, s, err)
	}
	return v.ToBig(), nil
}

// EncodeWords is the inverse of DecodeWords. Nil words encode as zero.
func EncodeWords(words []*big.Int) ([]byte, error) {
	raw := make([]byte, 0, len(words)*WordSize)
	for i, w := range words {
		if w == nil {
			raw = append(raw, make([]byte, WordSize)...)
			continue
		}
		u, overflow := uint256.FromBig(w)
		if overflow || w.Sign() < 0 {
			return nil, fmt.Errorf("%w: word %d does not fit uint256", ErrMalformedSnapshot, i)
		}
		b := u.Bytes32()
		raw = append(raw, b[:]...)
	}
	return raw, nil
}
