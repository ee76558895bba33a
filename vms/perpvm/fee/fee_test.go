// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fee

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var testConfig = Config{
	FixedFeeRatio: 1_000,
	AtrFeeRatio:   4_000_000,
	AtrEmaBlocks:  16,
}

func price(num, den int64) *big.Int {
	return safemath.MulDiv(safemath.Q96, big.NewInt(num), big.NewInt(den))
}

func TestFeeRatioWithoutHistory(t *testing.T) {
	s := NewState()
	require.Equal(t, uint32(1_000), s.FeeRatio(testConfig, 50_000))
}

func TestUpdateWidensWithinStep(t *testing.T) {
	require := require.New(t)

	s := NewState()
	s.Update(testConfig, price(100, 1), price(101, 1), 10)
	require.Equal(uint64(10), s.ReferenceTimestamp)
	require.Equal(price(101, 1), s.CurrentHighX96)
	require.Equal(price(100, 1), s.CurrentLowX96)

	s.Update(testConfig, price(101, 1), price(99, 1), 10)
	require.Equal(price(101, 1), s.CurrentHighX96)
	require.Equal(price(99, 1), s.CurrentLowX96)
	require.Zero(s.AtrX96.Sign())
}

func TestUpdateFoldsTrueRangeOnNewStep(t *testing.T) {
	require := require.New(t)

	s := NewState()
	s.Update(testConfig, price(100, 1), price(116, 1), 10)
	s.Update(testConfig, price(116, 1), price(116, 1), 11)

	// true range 16% folded with a 16 block window
	require.Equal(safemath.MulDiv(safemath.Q96, big.NewInt(16), big.NewInt(1_600)), s.AtrX96)
	require.Equal(uint64(11), s.ReferenceTimestamp)
	require.Equal(price(116, 1), s.CurrentHighX96)
	require.Equal(price(116, 1), s.CurrentLowX96)

	// 1% atr * 4 is just under 4%, capped at half of the 5% limit
	require.Equal(uint32(25_000), s.FeeRatio(testConfig, 50_000))
	require.Equal(uint32(40_999), s.FeeRatio(testConfig, 100_000))
}

func TestCloneIsIndependent(t *testing.T) {
	require := require.New(t)

	s := NewState()
	s.Update(testConfig, price(1, 1), price(2, 1), 1)
	c := s.Clone()
	c.Update(testConfig, price(2, 1), price(3, 1), 1)
	require.Equal(price(2, 1), s.CurrentHighX96)
	require.Equal(price(3, 1), c.CurrentHighX96)
}
