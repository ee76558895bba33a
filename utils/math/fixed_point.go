// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import "math/big"

// RatioOne is the denominator of every ratio parameter (1e6 == 100%).
const RatioOne = 1_000_000

var (
	// Q96 is the scale of X96 fixed-point values.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// E18 is the scale of closed-position ratios.
	E18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	bigRatioOne = big.NewInt(RatioOne)
)

// Big returns a new big.Int holding v.
func Big(v int64) *big.Int {
	return big.NewInt(v)
}

// Zero returns a new zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MulDiv returns floor(x*y/d). d must be positive.
func MulDiv(x, y, d *big.Int) *big.Int {
	n := new(big.Int).Mul(x, y)
	// Div is Euclidean, which equals floor for a positive divisor.
	return n.Div(n, d)
}

// MulDivRoundingUp returns ceil(x*y/d). d must be positive.
func MulDivRoundingUp(x, y, d *big.Int) *big.Int {
	n := new(big.Int).Mul(x, y)
	q, m := new(big.Int).DivMod(n, d, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulDivTrunc returns x*y/d rounded toward zero. d must be positive.
func MulDivTrunc(x, y, d *big.Int) *big.Int {
	n := new(big.Int).Mul(x, y)
	return n.Quo(n, d)
}

// DivRoundingUp returns ceil(x/d). d must be positive.
func DivRoundingUp(x, d *big.Int) *big.Int {
	return MulDivRoundingUp(x, big.NewInt(1), d)
}

// MulRatio returns floor(x*ratio/RatioOne).
func MulRatio(x *big.Int, ratio uint32) *big.Int {
	return MulDiv(x, big.NewInt(int64(ratio)), bigRatioOne)
}

// MulRatioRoundingUp returns ceil(x*ratio/RatioOne).
func MulRatioRoundingUp(x *big.Int, ratio uint32) *big.Int {
	return MulDivRoundingUp(x, big.NewInt(int64(ratio)), bigRatioOne)
}

// Abs returns |v| as a new value.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// Neg returns -v as a new value.
func Neg(v *big.Int) *big.Int {
	return new(big.Int).Neg(v)
}

// Sum returns the sum of values as a new value.
func Sum(values ...*big.Int) *big.Int {
	s := new(big.Int)
	for _, v := range values {
		s.Add(s, v)
	}
	return s
}

// Diff returns a-b as a new value.
func Diff(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxBig returns the larger of a and b.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// SqrtFloor returns floor(sqrt(v)) for v >= 0.
func SqrtFloor(v *big.Int) *big.Int {
	return new(big.Int).Sqrt(v)
}

// ScaleRatio returns base*(RatioOne±ratio)/RatioOne, rounding toward the
// side that keeps the band narrower.
func ScaleRatio(base *big.Int, ratio uint32, up bool) *big.Int {
	if up {
		return MulDiv(base, big.NewInt(RatioOne+int64(ratio)), bigRatioOne)
	}
	if ratio >= RatioOne {
		return new(big.Int)
	}
	return MulDivRoundingUp(base, big.NewInt(RatioOne-int64(ratio)), bigRatioOne)
}
