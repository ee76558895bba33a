// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package math

import (
	"errors"
	"math/big"
)

// Unsigned is a constraint that permits any unsigned integer type.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

var (
	ErrOverflow       = errors.New("overflow")
	ErrUnderflow      = errors.New("underflow")
	ErrDivisionByZero = errors.New("division by zero")

	// MaxInt256 and MinInt256 bound every signed ledger figure.
	MaxInt256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	MinInt256 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))

	// MaxAmount bounds user supplied amounts and prices.
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// Add returns:
// 1) a + b
// 2) If there is overflow, an error
func Add[T Unsigned](a, b T) (T, error) {
	if a > ^T(0)-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns:
// 1) a - b
// 2) If there is underflow, an error
func Sub[T Unsigned](a, b T) (T, error) {
	if a < b {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// CheckInt256 returns ErrOverflow or ErrUnderflow when any value leaves the
// signed 256-bit range.
func CheckInt256(values ...*big.Int) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		if v.Cmp(MaxInt256) > 0 {
			return ErrOverflow
		}
		if v.Cmp(MinInt256) < 0 {
			return ErrUnderflow
		}
	}
	return nil
}

// CheckAmount returns ErrOverflow when v exceeds MaxAmount.
func CheckAmount(v *big.Int) error {
	if v.Cmp(MaxAmount) > 0 {
		return ErrOverflow
	}
	return nil
}
