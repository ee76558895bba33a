// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	safemath "github.com/luxfi/perpdex/utils/math"
)

func TestIndexPriceX96(t *testing.T) {
	require := require.New(t)

	base := NewStaticFeed(big.NewInt(250_000_000), 8) // 2.5
	quote := NewStaticFeed(big.NewInt(500_000), 6)    // 0.5

	index, err := IndexPriceX96(base, quote)
	require.NoError(err)
	require.Equal(new(big.Int).Mul(safemath.Q96, big.NewInt(5)), index)

	index, err = IndexPriceX96(base, nil)
	require.NoError(err)
	require.Equal(safemath.MulDiv(safemath.Q96, big.NewInt(5), big.NewInt(2)), index)

	_, err = IndexPriceX96(nil, quote)
	require.ErrorIs(err, ErrNoBaseFeed)

	base.Set(big.NewInt(0))
	_, err = IndexPriceX96(base, quote)
	require.ErrorIs(err, ErrZeroPrice)
}

func TestTWAPFeed(t *testing.T) {
	require := require.New(t)

	now := uint64(1_000)
	feed, err := NewTWAPFeed(100, 0, func() uint64 { return now })
	require.NoError(err)

	_, err = feed.GetPrice()
	require.ErrorIs(err, ErrNoPrice)

	feed.Record(big.NewInt(10), 900)
	feed.Record(big.NewInt(20), 950)

	// 50s at 10, 50s at 20
	price, err := feed.GetPrice()
	require.NoError(err)
	require.Equal(big.NewInt(15), price)

	// stale observations are ignored
	feed.Record(big.NewInt(1_000), 940)
	price, err = feed.GetPrice()
	require.NoError(err)
	require.Equal(big.NewInt(15), price)

	// single observation at the query time
	price, err = feed.GetPriceAt(900)
	require.NoError(err)
	require.Equal(big.NewInt(10), price)
}

func TestTWAPFeedRestore(t *testing.T) {
	require := require.New(t)

	feed, err := NewTWAPFeed(60, 6, func() uint64 { return 100 })
	require.NoError(err)
	feed.Record(big.NewInt(7), 50)

	restored, err := NewTWAPFeed(60, 6, func() uint64 { return 100 })
	require.NoError(err)
	restored.Restore(feed.Observations())

	price, err := restored.GetPrice()
	require.NoError(err)
	require.Equal(big.NewInt(7), price)
	require.Equal(uint8(6), restored.Decimals())
}

func TestNewTWAPFeedInvalidWindow(t *testing.T) {
	_, err := NewTWAPFeed(0, 0, nil)
	require.ErrorIs(t, err, ErrInvalidWindow)
}
