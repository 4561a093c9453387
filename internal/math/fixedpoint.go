// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"
)

const (
	// USDDecimals is the fixed-point precision of every USD amount and price.
	USDDecimals = 30

	// BasisPointsDivisor is 100% in basis points.
	BasisPointsDivisor = 10_000
)

// ErrDivisionByZero is returned when a derived denominator resolves to zero.
var ErrDivisionByZero = errors.New("division by zero")

var (
	bpsDivisor = big.NewInt(BasisPointsDivisor)
	precision  = ExpandDecimals(1, USDDecimals)
)

// Scratch big.Ints for intermediate products
var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigIntPool.Put(v)
}

// ExpandDecimals returns n * 10^decimals.
func ExpandDecimals(n int64, decimals int) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return exp.Mul(exp, big.NewInt(n))
}

// Precision returns a fresh copy of 10^30 (one USD).
func Precision() *big.Int {
	return new(big.Int).Set(precision)
}

// BasisPoints returns a fresh copy of the basis-point divisor.
func BasisPoints() *big.Int {
	return new(big.Int).Set(bpsDivisor)
}

// MulDiv computes a * b / denominator, truncating toward zero the way the
// on-chain contracts do. The intermediate product never overflows.
func MulDiv(a, b, denominator *big.Int) (*big.Int, error) {
	if IsZero(denominator) {
		return nil, ErrDivisionByZero
	}

	product := getInt()
	defer putInt(product)

	product.Mul(a, b)
	return new(big.Int).Quo(product, denominator), nil
}

// MulDivInt64 is MulDiv with a small constant multiplier and divisor.
func MulDivInt64(a *big.Int, mul, div int64) *big.Int {
	if div == 0 {
		panic("math: MulDivInt64 with zero divisor")
	}
	product := getInt()
	defer putInt(product)

	product.Mul(a, big.NewInt(mul))
	return new(big.Int).Quo(product, big.NewInt(div))
}

// ApplyBps returns v * (10000 + bps) / 10000. Negative bps shrink v.
func ApplyBps(v *big.Int, bps int64) *big.Int {
	return MulDivInt64(v, BasisPointsDivisor+bps, BasisPointsDivisor)
}

// Midpoint returns (a + b) / 2.
func Midpoint(a, b *big.Int) *big.Int {
	sum := new(big.Int).Add(a, b)
	return sum.Quo(sum, big.NewInt(2))
}

// IsZero treats nil as zero, mirroring how absent ledger fields are reported.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// IsPositive reports v > 0; nil is not positive.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Clone returns an independent copy of v, preserving nil.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Abs returns |v| as a new value.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(OrZero(v))
}

// Sub returns a - b as a new value.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(OrZero(a), OrZero(b))
}

// Add returns a + b as a new value.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(OrZero(a), OrZero(b))
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// FloorZero returns max(v, 0) as a new value.
func FloorZero(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
