// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package account

import (
	"math/big"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// MarketView is the read-only part of a market the ledger values positions
// against. *pool.Pool satisfies it.
type MarketView interface {
	SharePriceX96() *big.Int
	LiquidityValue(liquidity *big.Int) (*big.Int, *big.Int)
	Deleveraged(liquidity, baseMarkerX96, quoteMarkerX96 *big.Int) (*big.Int, *big.Int)
	Accumulators() (*big.Int, *big.Int)
}

// MarketSource resolves a market symbol to its view.
type MarketSource interface {
	MarketView(market string) (MarketView, error)
}

// MakerPosition returns the base share and quote a maker position is
// entitled to: its pool share plus everything deleveraged to it since its
// markers were taken.
func MakerPosition(view MarketView, maker MakerInfo) (*big.Int, *big.Int) {
	if maker.Liquidity.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	poolBase, poolQuote := view.LiquidityValue(maker.Liquidity)
	delevBase, delevQuote := view.Deleveraged(
		maker.Liquidity,
		maker.CumBaseSharePerLiquidityX96,
		maker.CumQuotePerLiquidityX96,
	)
	return safemath.Sum(poolBase, delevBase), safemath.Sum(poolQuote, delevQuote)
}

// PositionShare returns the net base share held in a market.
func PositionShare(view MarketView, p *Position) *big.Int {
	makerBase, _ := MakerPosition(view, p.Maker)
	return safemath.Sum(p.Taker.BaseBalanceShare, makerBase)
}

// PositionValue returns the quote value of a position at the share price.
func PositionValue(view MarketView, p *Position) *big.Int {
	makerBase, makerQuote := MakerPosition(view, p.Maker)
	share := safemath.Sum(p.Taker.BaseBalanceShare, makerBase)
	notional := safemath.MulDiv(share, view.SharePriceX96(), safemath.Q96)
	return safemath.Sum(p.Taker.QuoteBalance, makerQuote, notional)
}

// OpenPositionShare returns |net share| plus the base locked in the pool.
func OpenPositionShare(view MarketView, p *Position) *big.Int {
	poolBase, _ := view.LiquidityValue(p.Maker.Liquidity)
	return safemath.Sum(safemath.Abs(PositionShare(view, p)), poolBase)
}

// OpenPositionNotional prices OpenPositionShare.
func OpenPositionNotional(view MarketView, p *Position) *big.Int {
	return safemath.MulDiv(OpenPositionShare(view, p), view.SharePriceX96(), safemath.Q96)
}

// initialOpenPositionNotional is the open notional if every resting order
// on the worse side were filled.
func initialOpenPositionNotional(view MarketView, p *Position) *big.Int {
	share := PositionShare(view, p)
	worst := safemath.MaxBig(
		safemath.Abs(safemath.Sum(share, p.Orders.BidBase)),
		safemath.Abs(safemath.Diff(share, p.Orders.AskBase)),
	)
	poolBase, _ := view.LiquidityValue(p.Maker.Liquidity)
	return safemath.MulDiv(safemath.Sum(worst, poolBase), view.SharePriceX96(), safemath.Q96)
}

// TotalAccountValue returns collateral plus the value of every position.
func (a *Account) TotalAccountValue(src MarketSource) (*big.Int, error) {
	value := safemath.Clone(a.Collateral)
	for market, p := range a.Positions {
		view, err := src.MarketView(market)
		if err != nil {
			return nil, err
		}
		value.Add(value, PositionValue(view, p))
	}
	return value, nil
}

// MarginRequirement sums the ratio-weighted open notional over every market.
// With includeOrders the worst case over resting orders is used.
func (a *Account) MarginRequirement(src MarketSource, ratio uint32, includeOrders bool) (*big.Int, error) {
	required := new(big.Int)
	for market, p := range a.Positions {
		view, err := src.MarketView(market)
		if err != nil {
			return nil, err
		}
		notional := OpenPositionNotional(view, p)
		if includeOrders {
			notional = initialOpenPositionNotional(view, p)
		}
		required.Add(required, safemath.MulRatio(notional, ratio))
	}
	return required, nil
}

// HasEnoughMaintenanceMargin reports whether the account value covers the
// maintenance requirement of its positions.
func (a *Account) HasEnoughMaintenanceMargin(src MarketSource, mmRatio uint32) (bool, error) {
	value, err := a.TotalAccountValue(src)
	if err != nil {
		return false, err
	}
	required, err := a.MarginRequirement(src, mmRatio, false)
	if err != nil {
		return false, err
	}
	return value.Cmp(required) >= 0, nil
}

// HasEnoughInitialMargin reports whether the account value covers the
// initial requirement including resting orders. A liquidation free account
// always passes.
func (a *Account) HasEnoughInitialMargin(src MarketSource, imRatio uint32) (bool, error) {
	value, err := a.TotalAccountValue(src)
	if err != nil {
		return false, err
	}
	required, err := a.MarginRequirement(src, imRatio, true)
	if err != nil {
		return false, err
	}
	return value.Cmp(required) >= 0 || a.IsLiquidationFree(), nil
}

// IsLiquidationFree reports whether no price move can make the account
// value negative: long-only taker positions whose quote debt is covered by
// collateral, with no maker position and no resting orders.
func (a *Account) IsLiquidationFree() bool {
	quote := safemath.Clone(a.Collateral)
	for _, p := range a.Positions {
		if p.Maker.Liquidity.Sign() != 0 || p.HasOrders() || p.Taker.BaseBalanceShare.Sign() < 0 {
			return false
		}
		quote.Add(quote, p.Taker.QuoteBalance)
	}
	return quote.Sign() >= 0
}

// RealizeDeleveraged moves what a maker position accrued since its markers
// into the taker position and resets the markers.
func (a *Account) RealizeDeleveraged(market string, view MarketView) (*big.Int, *big.Int) {
	p := a.Position(market)
	cumBase, cumQuote := view.Accumulators()
	base, quote := view.Deleveraged(p.Maker.Liquidity, p.Maker.CumBaseSharePerLiquidityX96, p.Maker.CumQuotePerLiquidityX96)
	p.Maker.CumBaseSharePerLiquidityX96 = cumBase
	p.Maker.CumQuotePerLiquidityX96 = cumQuote
	if base.Sign() != 0 || quote.Sign() != 0 {
		a.AddToTakerBalance(market, base, quote)
	}
	return base, quote
}
