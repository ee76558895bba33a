// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the constant-product liquidity pool backing each
// perpetual market.
//
// Reserves are held in funding-adjusted shares. The pool also carries the
// base-per-share multiplier and the cumulative per-liquidity accumulators
// used to redistribute deleveraged reserves to makers.
package pool

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	safemath "github.com/luxfi/perpdex/utils/math"
)

const (
	// MinimumLiquidity is locked forever by the first liquidity provider.
	MinimumLiquidity = 1000

	maxBoundSteps = 64
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrZeroLiquidity         = errors.New("zero liquidity")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidFeeRatio       = errors.New("invalid fee ratio")

	minimumLiquidity = big.NewInt(MinimumLiquidity)
	ratioOne         = uint256.NewInt(safemath.RatioOne)
)

// Pool is the state of one market's constant-product pool.
type Pool struct {
	Base           *big.Int `json:"base"`
	Quote          *big.Int `json:"quote"`
	TotalLiquidity *big.Int `json:"totalLiquidity"`

	// Cumulative deleveraged amounts per unit of liquidity. Never decrease.
	CumBasePerLiquidityX96  *big.Int `json:"cumBasePerLiquidityX96"`
	CumQuotePerLiquidityX96 *big.Int `json:"cumQuotePerLiquidityX96"`

	// BaseBalancePerShareX96 converts shares to raw base units.
	BaseBalancePerShareX96 *big.Int `json:"baseBalancePerShareX96"`
}

// SwapParams describes one swap against the pool.
type SwapParams struct {
	IsBaseToQuote bool
	IsExactInput  bool
	Amount        *big.Int
	FeeRatio      uint32
}

// New returns an empty pool with a base-per-share multiplier of one.
func New() *Pool {
	return &Pool{
		Base:                    new(big.Int),
		Quote:                   new(big.Int),
		TotalLiquidity:          new(big.Int),
		CumBasePerLiquidityX96:  new(big.Int),
		CumQuotePerLiquidityX96: new(big.Int),
		BaseBalancePerShareX96:  new(big.Int).Set(safemath.Q96),
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	return &Pool{
		Base:                    safemath.Clone(p.Base),
		Quote:                   safemath.Clone(p.Quote),
		TotalLiquidity:          safemath.Clone(p.TotalLiquidity),
		CumBasePerLiquidityX96:  safemath.Clone(p.CumBasePerLiquidityX96),
		CumQuotePerLiquidityX96: safemath.Clone(p.CumQuotePerLiquidityX96),
		BaseBalancePerShareX96:  safemath.Clone(p.BaseBalancePerShareX96),
	}
}

// SharePriceX96 returns quote per share. Zero for an empty pool.
func (p *Pool) SharePriceX96() *big.Int {
	if p.Base.Sign() == 0 {
		return new(big.Int)
	}
	return safemath.MulDiv(p.Quote, safemath.Q96, p.Base)
}

// MarkPriceX96 returns quote per raw base unit.
func (p *Pool) MarkPriceX96() *big.Int {
	return safemath.MulDiv(p.SharePriceX96(), safemath.Q96, p.BaseBalancePerShareX96)
}

// PreviewSwap returns the amount on the opposite side of the swap without
// changing the pool.
func (p *Pool) PreviewSwap(params SwapParams) (*big.Int, error) {
	if params.FeeRatio >= safemath.RatioOne {
		return nil, ErrInvalidFeeRatio
	}
	if params.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if p.Base.Sign() == 0 || p.Quote.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	base, err := toU256(p.Base)
	if err != nil {
		return nil, err
	}
	quote, err := toU256(p.Quote)
	if err != nil {
		return nil, err
	}
	amount, err := toU256(params.Amount)
	if err != nil {
		return nil, err
	}

	// input reserve and output reserve from the trader's point of view
	in, out := quote, base
	if params.IsBaseToQuote {
		in, out = base, quote
	}
	fee := uint256.NewInt(uint64(params.FeeRatio))
	oneSubFee := new(uint256.Int).Sub(ratioOne, fee)

	if params.IsExactInput {
		amountSubFee, overflow := new(uint256.Int).MulDivOverflow(amount, oneSubFee, ratioOne)
		if overflow {
			return nil, safemath.ErrOverflow
		}
		denom, overflow := new(uint256.Int).AddOverflow(in, amountSubFee)
		if overflow {
			return nil, safemath.ErrOverflow
		}
		outAfter, err := mulDivRoundingUp(in, out, denom)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).Sub(out, outAfter).ToBig(), nil
	}

	if !amount.Lt(out) {
		return nil, ErrInsufficientLiquidity
	}
	inAfter, err := mulDivRoundingUp(in, out, new(uint256.Int).Sub(out, amount))
	if err != nil {
		return nil, err
	}
	amountSubFee := new(uint256.Int).Sub(inAfter, in)
	gross, err := mulDivRoundingUp(amountSubFee, ratioOne, oneSubFee)
	if err != nil {
		return nil, err
	}
	return gross.ToBig(), nil
}

// Swap executes the swap and returns the opposite amount. The full input,
// including the fee, stays in the pool.
func (p *Pool) Swap(params SwapParams) (*big.Int, error) {
	opposite, err := p.PreviewSwap(params)
	if err != nil {
		return nil, err
	}
	baseAfter, quoteAfter := p.after(params.IsBaseToQuote, params.IsExactInput, params.Amount, opposite)
	if baseAfter.Sign() <= 0 || quoteAfter.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	p.Base, p.Quote = baseAfter, quoteAfter
	return opposite, nil
}

func (p *Pool) after(isBaseToQuote, isExactInput bool, amount, opposite *big.Int) (*big.Int, *big.Int) {
	in, out := amount, opposite
	if !isExactInput {
		in, out = opposite, amount
	}
	if isBaseToQuote {
		return safemath.Sum(p.Base, in), safemath.Diff(p.Quote, out)
	}
	return safemath.Diff(p.Base, out), safemath.Sum(p.Quote, in)
}

// AddLiquidity deposits up to (base, quote) and returns the amounts used and
// the liquidity issued. Excess over the current ratio is refused.
func (p *Pool) AddLiquidity(base, quote *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	if base.Sign() < 0 || quote.Sign() < 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	if p.TotalLiquidity.Sign() == 0 {
		total := safemath.SqrtFloor(new(big.Int).Mul(base, quote))
		liquidity := safemath.Diff(total, minimumLiquidity)
		if liquidity.Sign() <= 0 {
			return nil, nil, nil, ErrZeroLiquidity
		}
		p.Base = safemath.Clone(base)
		p.Quote = safemath.Clone(quote)
		p.TotalLiquidity = total
		return safemath.Clone(base), safemath.Clone(quote), liquidity, nil
	}

	liquidity := safemath.MinBig(
		safemath.MulDiv(base, p.TotalLiquidity, p.Base),
		safemath.MulDiv(quote, p.TotalLiquidity, p.Quote),
	)
	if liquidity.Sign() == 0 {
		return nil, nil, nil, ErrZeroLiquidity
	}
	usedBase := safemath.MulDivRoundingUp(liquidity, p.Base, p.TotalLiquidity)
	usedQuote := safemath.MulDivRoundingUp(liquidity, p.Quote, p.TotalLiquidity)

	p.Base = safemath.Sum(p.Base, usedBase)
	p.Quote = safemath.Sum(p.Quote, usedQuote)
	p.TotalLiquidity = safemath.Sum(p.TotalLiquidity, liquidity)
	return usedBase, usedQuote, safemath.Clone(liquidity), nil
}

// RemoveLiquidity burns liquidity and returns the redeemed amounts, rounded
// down.
func (p *Pool) RemoveLiquidity(liquidity *big.Int) (*big.Int, *big.Int, error) {
	if liquidity.Sign() <= 0 {
		return nil, nil, ErrZeroLiquidity
	}
	if liquidity.Cmp(p.TotalLiquidity) >= 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	base, quote := p.LiquidityValue(liquidity)
	if base.Sign() == 0 && quote.Sign() == 0 {
		return nil, nil, ErrZeroLiquidity
	}
	p.Base = safemath.Diff(p.Base, base)
	p.Quote = safemath.Diff(p.Quote, quote)
	p.TotalLiquidity = safemath.Diff(p.TotalLiquidity, liquidity)
	return base, quote, nil
}

// LiquidityValue returns the reserves redeemable for liquidity.
func (p *Pool) LiquidityValue(liquidity *big.Int) (*big.Int, *big.Int) {
	if p.TotalLiquidity.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	return safemath.MulDiv(liquidity, p.Base, p.TotalLiquidity),
		safemath.MulDiv(liquidity, p.Quote, p.TotalLiquidity)
}

// Accumulators returns copies of the cumulative per-liquidity accumulators.
func (p *Pool) Accumulators() (*big.Int, *big.Int) {
	return safemath.Clone(p.CumBasePerLiquidityX96), safemath.Clone(p.CumQuotePerLiquidityX96)
}

// Deleveraged returns the amounts accrued by liquidity since the given
// accumulator markers.
func (p *Pool) Deleveraged(liquidity, baseMarkerX96, quoteMarkerX96 *big.Int) (*big.Int, *big.Int) {
	return safemath.MulDiv(liquidity, safemath.Diff(p.CumBasePerLiquidityX96, baseMarkerX96), safemath.Q96),
		safemath.MulDiv(liquidity, safemath.Diff(p.CumQuotePerLiquidityX96, quoteMarkerX96), safemath.Q96)
}

// ApplyFunding rebases the pool by fundingRateX96. A positive rate moves
// quote out of the pool, a negative rate moves base out. Both are credited
// to makers through the accumulators. The multiplier is rescaled so the mark
// price per raw base unit is unchanged.
func (p *Pool) ApplyFunding(fundingRateX96 *big.Int) (*big.Int, *big.Int) {
	deleveragedBase, deleveragedQuote := new(big.Int), new(big.Int)
	if fundingRateX96.Sign() == 0 || p.TotalLiquidity.Sign() == 0 {
		return deleveragedBase, deleveragedQuote
	}
	rate := fundingRateX96
	if rate.CmpAbs(safemath.Q96) >= 0 {
		// a full-reserve rebase would empty the pool
		return deleveragedBase, deleveragedQuote
	}

	if rate.Sign() > 0 {
		deleveragedQuote = safemath.MulDiv(p.Quote, rate, safemath.Q96)
		p.Quote = safemath.Diff(p.Quote, deleveragedQuote)
		p.CumQuotePerLiquidityX96 = safemath.Sum(
			p.CumQuotePerLiquidityX96,
			safemath.MulDiv(deleveragedQuote, safemath.Q96, p.TotalLiquidity),
		)
	} else {
		// base*|r|/(1+|r|) scales the share price by exactly 1+|r|
		absRate := safemath.Abs(rate)
		deleveragedBase = safemath.MulDiv(p.Base, absRate, safemath.Sum(safemath.Q96, absRate))
		p.Base = safemath.Diff(p.Base, deleveragedBase)
		p.CumBasePerLiquidityX96 = safemath.Sum(
			p.CumBasePerLiquidityX96,
			safemath.MulDiv(deleveragedBase, safemath.Q96, p.TotalLiquidity),
		)
	}
	p.BaseBalancePerShareX96 = safemath.MulDiv(
		p.BaseBalancePerShareX96,
		safemath.Diff(safemath.Q96, rate),
		safemath.Q96,
	)
	return deleveragedBase, deleveragedQuote
}

// MaxSwap returns the largest amount whose swap leaves the share price at or
// before priceBoundX96. The fee stays in the pool, so the bound is solved on
// the gross input. Zero if the price is already at or beyond the bound in the
// swap direction.
func (p *Pool) MaxSwap(isBaseToQuote, isExactInput bool, feeRatio uint32, priceBoundX96 *big.Int) *big.Int {
	if p.Base.Sign() == 0 || p.Quote.Sign() == 0 || priceBoundX96.Sign() <= 0 || feeRatio >= safemath.RatioOne {
		return new(big.Int)
	}
	price := p.SharePriceX96()
	if isBaseToQuote && priceBoundX96.Cmp(price) >= 0 {
		return new(big.Int)
	}
	if !isBaseToQuote && priceBoundX96.Cmp(price) <= 0 {
		return new(big.Int)
	}

	input := p.maxInput(isBaseToQuote, feeRatio, priceBoundX96)
	if input.Sign() == 0 || isExactInput {
		return input
	}
	// buying back the output of input costs at most input, so the exact
	// output swap stays inside the bound too
	output, err := p.PreviewSwap(SwapParams{
		IsBaseToQuote: isBaseToQuote,
		IsExactInput:  true,
		Amount:        input,
		FeeRatio:      feeRatio,
	})
	if err != nil {
		return new(big.Int)
	}
	return output
}

// maxInput returns the largest gross input a with
//
//	(x + a*(1-fee)) * (x + a) <= target
//
// where x is the input reserve. The target is k/bound when selling base and
// k*bound when buying it.
func (p *Pool) maxInput(isBaseToQuote bool, feeRatio uint32, priceBoundX96 *big.Int) *big.Int {
	k := new(big.Int).Mul(p.Base, p.Quote)
	reserve, target := p.Quote, safemath.MulDiv(k, priceBoundX96, safemath.Q96)
	if isBaseToQuote {
		reserve, target = p.Base, safemath.MulDiv(k, safemath.Q96, priceBoundX96)
	}

	var (
		r = big.NewInt(safemath.RatioOne)
		g = big.NewInt(int64(safemath.RatioOne - feeRatio))
		f = big.NewInt(int64(feeRatio))
	)
	// g*a^2 + (r+g)*x*a + r*(x^2-target) <= 0, scaled by r
	disc := new(big.Int).Mul(f, reserve)
	disc.Mul(disc, disc)
	disc.Add(disc, new(big.Int).Mul(new(big.Int).Mul(big.NewInt(4), g), new(big.Int).Mul(r, target)))
	num := safemath.Diff(safemath.SqrtFloor(disc), new(big.Int).Mul(safemath.Sum(r, g), reserve))
	input := new(big.Int)
	if num.Sign() > 0 {
		input = num.Div(num, new(big.Int).Mul(big.NewInt(2), g))
	}

	// the swap rounds in the pool's favour, so the candidate can be off by
	// a few units either way
	step := big.NewInt(1)
	for input.Sign() > 0 && p.crossesBound(isBaseToQuote, feeRatio, input, priceBoundX96) {
		input = safemath.MaxBig(safemath.Diff(input, step), new(big.Int))
		step.Lsh(step, 1)
	}
	for range maxBoundSteps {
		next := safemath.Sum(input, big.NewInt(1))
		if p.crossesBound(isBaseToQuote, feeRatio, next, priceBoundX96) {
			break
		}
		input = next
	}
	return input
}

// crossesBound reports whether swapping input moves the share price past
// priceBoundX96.
func (p *Pool) crossesBound(isBaseToQuote bool, feeRatio uint32, input, priceBoundX96 *big.Int) bool {
	output, err := p.PreviewSwap(SwapParams{
		IsBaseToQuote: isBaseToQuote,
		IsExactInput:  true,
		Amount:        input,
		FeeRatio:      feeRatio,
	})
	if err != nil {
		return true
	}
	base, quote := p.after(isBaseToQuote, true, input, output)
	if base.Sign() <= 0 || quote.Sign() <= 0 {
		return true
	}
	price := safemath.MulDiv(quote, safemath.Q96, base)
	if isBaseToQuote {
		return price.Cmp(priceBoundX96) < 0
	}
	return price.Cmp(priceBoundX96) > 0
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, safemath.ErrUnderflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, safemath.ErrOverflow
	}
	return u, nil
}

func mulDivRoundingUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, safemath.ErrDivisionByZero
	}
	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, safemath.ErrOverflow
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if q, overflow = new(uint256.Int).AddOverflow(q, uint256.NewInt(1)); overflow {
			return nil, safemath.ErrOverflow
		}
	}
	return q, nil
}
