// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	safemath "github.com/luxfi/perpdex/utils/math"
)

func newPool(t *testing.T, base, quote int64) *Pool {
	p := New()
	_, _, _, err := p.AddLiquidity(big.NewInt(base), big.NewInt(quote))
	require.NoError(t, err)
	return p
}

func TestAddLiquidityInitial(t *testing.T) {
	require := require.New(t)

	p := New()
	usedBase, usedQuote, liquidity, err := p.AddLiquidity(big.NewInt(10_000), big.NewInt(10_000))
	require.NoError(err)
	require.Equal(big.NewInt(10_000), usedBase)
	require.Equal(big.NewInt(10_000), usedQuote)
	require.Equal(big.NewInt(9_000), liquidity)
	require.Equal(big.NewInt(10_000), p.TotalLiquidity)
}

func TestAddLiquidityInitialTooSmall(t *testing.T) {
	require := require.New(t)

	p := New()
	_, _, _, err := p.AddLiquidity(big.NewInt(1_000), big.NewInt(1_000))
	require.ErrorIs(err, ErrZeroLiquidity)
	require.Zero(p.TotalLiquidity.Sign())
}

func TestAddLiquidityProportional(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 10_000, 40_000)
	usedBase, usedQuote, liquidity, err := p.AddLiquidity(big.NewInt(1_000), big.NewInt(10_000))
	require.NoError(err)
	// base is the binding side
	require.Equal(big.NewInt(2_000), liquidity)
	require.Equal(big.NewInt(1_000), usedBase)
	require.Equal(big.NewInt(4_000), usedQuote)
	require.Equal(big.NewInt(11_000), p.Base)
	require.Equal(big.NewInt(44_000), p.Quote)

	_, _, _, err = p.AddLiquidity(big.NewInt(0), big.NewInt(10_000))
	require.ErrorIs(err, ErrZeroLiquidity)
}

func TestRemoveLiquidity(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 10_000, 40_000)
	base, quote, err := p.RemoveLiquidity(big.NewInt(5_000))
	require.NoError(err)
	require.Equal(big.NewInt(2_500), base)
	require.Equal(big.NewInt(10_000), quote)
	require.Equal(big.NewInt(15_000), p.TotalLiquidity)

	_, _, err = p.RemoveLiquidity(big.NewInt(0))
	require.ErrorIs(err, ErrZeroLiquidity)

	_, _, err = p.RemoveLiquidity(p.TotalLiquidity)
	require.ErrorIs(err, ErrInsufficientLiquidity)
}

func TestSwapExactInputQuoteToBase(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 10_000, 10_000)
	out, err := p.Swap(SwapParams{
		IsBaseToQuote: false,
		IsExactInput:  true,
		Amount:        big.NewInt(10_000),
	})
	require.NoError(err)
	require.Equal(big.NewInt(5_000), out)
	require.Equal(big.NewInt(5_000), p.Base)
	require.Equal(big.NewInt(20_000), p.Quote)
}

func TestSwapExactOutput(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 10_000, 10_000)
	in, err := p.PreviewSwap(SwapParams{
		IsBaseToQuote: true,
		IsExactInput:  false,
		Amount:        big.NewInt(5_000),
	})
	require.NoError(err)
	require.Equal(big.NewInt(10_000), in)

	_, err = p.PreviewSwap(SwapParams{
		IsBaseToQuote: true,
		IsExactInput:  false,
		Amount:        big.NewInt(10_000),
	})
	require.ErrorIs(err, ErrInsufficientLiquidity)
}

func TestSwapFeeRoundsAgainstTrader(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 10_000, 10_000)
	noFee, err := p.PreviewSwap(SwapParams{IsBaseToQuote: true, IsExactInput: true, Amount: big.NewInt(1_000)})
	require.NoError(err)
	withFee, err := p.PreviewSwap(SwapParams{IsBaseToQuote: true, IsExactInput: true, Amount: big.NewInt(1_000), FeeRatio: 3_000})
	require.NoError(err)
	require.Negative(withFee.Cmp(noFee))

	inNoFee, err := p.PreviewSwap(SwapParams{IsBaseToQuote: true, Amount: big.NewInt(1_000)})
	require.NoError(err)
	inWithFee, err := p.PreviewSwap(SwapParams{IsBaseToQuote: true, Amount: big.NewInt(1_000), FeeRatio: 3_000})
	require.NoError(err)
	require.Positive(inWithFee.Cmp(inNoFee))
}

func TestSwapEmptyPool(t *testing.T) {
	_, err := New().Swap(SwapParams{IsExactInput: true, Amount: big.NewInt(1)})
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestApplyFundingKeepsMarkPrice(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 1_000_000, 4_000_000)
	markBefore := p.MarkPriceX96()

	// 1% positive rate
	rate := safemath.MulDiv(safemath.Q96, big.NewInt(1), big.NewInt(100))
	deleveragedBase, deleveragedQuote := p.ApplyFunding(rate)
	require.Zero(deleveragedBase.Sign())
	require.Equal(big.NewInt(39_999), deleveragedQuote)
	require.Equal(big.NewInt(3_960_001), p.Quote)
	require.Positive(p.CumQuotePerLiquidityX96.Sign())

	markAfter := p.MarkPriceX96()
	diff := safemath.Abs(safemath.Diff(markBefore, markAfter))
	require.LessOrEqual(diff.Cmp(safemath.MulDiv(markBefore, big.NewInt(1), big.NewInt(1_000_000))), 0)

	deleveragedBase, _ = p.ApplyFunding(safemath.Neg(rate))
	require.Positive(deleveragedBase.Sign())
	require.Positive(p.CumBasePerLiquidityX96.Sign())
}

func TestMaxSwapReachesBound(t *testing.T) {
	require := require.New(t)

	p := newPool(t, 1_000_000, 1_000_000)
	bound := safemath.MulDiv(safemath.Q96, big.NewInt(121), big.NewInt(100))

	amount := p.MaxSwap(false, false, 0, bound)
	require.Equal(big.NewInt(90_909), amount)

	_, err := p.Swap(SwapParams{Amount: amount})
	require.NoError(err)
	require.LessOrEqual(p.SharePriceX96().Cmp(bound), 0)

	require.Zero(p.MaxSwap(false, true, 0, bound).Sign())
}

func TestSwapConstantProductProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(10_000, 1_000_000_000).Draw(t, "base")
		quote := rapid.Int64Range(10_000, 1_000_000_000).Draw(t, "quote")
		amount := rapid.Int64Range(1, 1_000_000_000).Draw(t, "amount")
		fee := rapid.Uint32Range(0, 50_000).Draw(t, "fee")
		isBaseToQuote := rapid.Bool().Draw(t, "isBaseToQuote")
		isExactInput := rapid.Bool().Draw(t, "isExactInput")

		p := New()
		_, _, _, err := p.AddLiquidity(big.NewInt(base), big.NewInt(quote))
		if err != nil {
			t.Fatalf("add liquidity: %v", err)
		}
		kBefore := new(big.Int).Mul(p.Base, p.Quote)

		_, err = p.Swap(SwapParams{
			IsBaseToQuote: isBaseToQuote,
			IsExactInput:  isExactInput,
			Amount:        big.NewInt(amount),
			FeeRatio:      fee,
		})
		if err != nil {
			return
		}
		kAfter := new(big.Int).Mul(p.Base, p.Quote)
		if kAfter.Cmp(kBefore) < 0 {
			t.Fatalf("k decreased: %s -> %s", kBefore, kAfter)
		}
	})
}

func TestApplyFundingKeepsMarkPriceBothSigns(t *testing.T) {
	onePercent := safemath.MulDiv(safemath.Q96, big.NewInt(1), big.NewInt(100))
	tests := []struct {
		name string
		rate *big.Int
	}{
		{
			name: "positive",
			rate: onePercent,
		},
		{
			name: "negative",
			rate: safemath.Neg(onePercent),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			p := newPool(t, 1_000_000_000, 1_000_000_000)
			markBefore := p.MarkPriceX96()
			p.ApplyFunding(tt.rate)

			// less than one part per billion
			drift := safemath.Abs(safemath.Diff(p.MarkPriceX96(), markBefore))
			require.LessOrEqual(drift.Cmp(safemath.MulDiv(markBefore, big.NewInt(1), big.NewInt(1_000_000_000))), 0)
		})
	}
}

func TestMaxSwapWithFeeStaysWithinBound(t *testing.T) {
	const fee = 10_000 // 1%
	var (
		lower = safemath.MulDiv(safemath.Q96, big.NewInt(1), big.NewInt(2))
		upper = new(big.Int).Mul(safemath.Q96, big.NewInt(2))
	)
	tests := []struct {
		name          string
		isBaseToQuote bool
		isExactInput  bool
		bound         *big.Int
	}{
		{
			name:          "sell exact input",
			isBaseToQuote: true,
			isExactInput:  true,
			bound:         lower,
		},
		{
			name:          "sell exact output",
			isBaseToQuote: true,
			bound:         lower,
		},
		{
			name:         "buy exact input",
			isExactInput: true,
			bound:        upper,
		},
		{
			name:  "buy exact output",
			bound: upper,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			p := newPool(t, 1_000_000, 1_000_000)
			amount := p.MaxSwap(tt.isBaseToQuote, tt.isExactInput, fee, tt.bound)
			require.Positive(amount.Sign())

			_, err := p.Swap(SwapParams{
				IsBaseToQuote: tt.isBaseToQuote,
				IsExactInput:  tt.isExactInput,
				Amount:        amount,
				FeeRatio:      fee,
			})
			require.NoError(err)

			// within the bound and no more than 0.01% short of it
			price := p.SharePriceX96()
			slack := safemath.MulDiv(tt.bound, big.NewInt(1), big.NewInt(10_000))
			if tt.isBaseToQuote {
				require.GreaterOrEqual(price.Cmp(tt.bound), 0)
				require.LessOrEqual(price.Cmp(safemath.Sum(tt.bound, slack)), 0)
			} else {
				require.LessOrEqual(price.Cmp(tt.bound), 0)
				require.GreaterOrEqual(price.Cmp(safemath.Diff(tt.bound, slack)), 0)
			}
		})
	}
}

func TestMaxSwapNeverCrossesBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(10_000, 1_000_000_000).Draw(t, "base")
		quote := rapid.Int64Range(10_000, 1_000_000_000).Draw(t, "quote")
		fee := rapid.Uint32Range(0, 100_000).Draw(t, "fee")
		isBaseToQuote := rapid.Bool().Draw(t, "isBaseToQuote")
		isExactInput := rapid.Bool().Draw(t, "isExactInput")
		move := rapid.Int64Range(1, 900).Draw(t, "move")

		p := New()
		if _, _, _, err := p.AddLiquidity(big.NewInt(base), big.NewInt(quote)); err != nil {
			t.Fatalf("add liquidity: %v", err)
		}
		// move is the price change in tenths of a percent
		bound := safemath.MulDiv(p.SharePriceX96(), big.NewInt(1000+move), big.NewInt(1000))
		if isBaseToQuote {
			bound = safemath.MulDiv(p.SharePriceX96(), big.NewInt(1000), big.NewInt(1000+move))
		}

		amount := p.MaxSwap(isBaseToQuote, isExactInput, fee, bound)
		if amount.Sign() == 0 {
			return
		}
		if _, err := p.Swap(SwapParams{
			IsBaseToQuote: isBaseToQuote,
			IsExactInput:  isExactInput,
			Amount:        amount,
			FeeRatio:      fee,
		}); err != nil {
			t.Fatalf("swap %s: %v", amount, err)
		}
		price := p.SharePriceX96()
		if isBaseToQuote && price.Cmp(bound) < 0 {
			t.Fatalf("price %s below bound %s", price, bound)
		}
		if !isBaseToQuote && price.Cmp(bound) > 0 {
			t.Fatalf("price %s above bound %s", price, bound)
		}
	})
}
