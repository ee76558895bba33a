// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/account"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// AddLiquidityParams describes a deposit of base and quote into a pool.
type AddLiquidityParams struct {
	Trader ids.ShortID `json:"trader"`
	Market string      `json:"market"`
	Base   *big.Int    `json:"base"`
	Quote  *big.Int    `json:"quote"`
	// MinBase and MinQuote bound the amounts actually used. Nil means zero.
	MinBase  *big.Int `json:"minBase"`
	MinQuote *big.Int `json:"minQuote"`
	Deadline uint64   `json:"deadline"`
}

// RemoveLiquidityParams describes a redemption of pool liquidity.
type RemoveLiquidityParams struct {
	// Caller differs from Trader only when force-closing the maker
	// position of an account below maintenance margin.
	Caller    ids.ShortID `json:"caller"`
	Trader    ids.ShortID `json:"trader"`
	Market    string      `json:"market"`
	Liquidity *big.Int    `json:"liquidity"`
	MinBase   *big.Int    `json:"minBase"`
	MinQuote  *big.Int    `json:"minQuote"`
	Deadline  uint64      `json:"deadline"`
}

// LiquidityResult is the outcome of a liquidity operation.
type LiquidityResult struct {
	Base      *big.Int `json:"base"`
	Quote     *big.Int `json:"quote"`
	Liquidity *big.Int `json:"liquidity"`
}

// AddLiquidity mints pool liquidity against the trader's taker position.
func (e *Engine) AddLiquidity(p AddLiquidityParams) (*LiquidityResult, []Event, error) {
	var res *LiquidityResult
	events, err := e.run("add_liquidity", func(o *overlay) error {
		var err error
		res, err = o.addLiquidity(p)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

// RemoveLiquidity burns pool liquidity into the trader's taker position.
func (e *Engine) RemoveLiquidity(p RemoveLiquidityParams) (*LiquidityResult, []Event, error) {
	var res *LiquidityResult
	events, err := e.run("remove_liquidity", func(o *overlay) error {
		var err error
		res, err = o.removeLiquidity(p)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

func (o *overlay) addLiquidity(p AddLiquidityParams) (*LiquidityResult, error) {
	if err := checkPositive(p.Base); err != nil {
		return nil, err
	}
	if err := checkPositive(p.Quote); err != nil {
		return nil, err
	}
	if err := checkDeadline(o.now, p.Deadline); err != nil {
		return nil, err
	}
	m, err := o.openMarket(p.Market)
	if err != nil {
		return nil, err
	}
	a := o.account(p.Trader)
	if err := o.beginMakerUpdate(m, a); err != nil {
		return nil, err
	}

	usedBase, usedQuote, liquidity, err := m.Pool.AddLiquidity(p.Base, p.Quote)
	if err != nil {
		return nil, err
	}
	if err := checkMinimums(usedBase, usedQuote, p.MinBase, p.MinQuote); err != nil {
		return nil, err
	}

	a.AddToTakerBalance(p.Market, safemath.Neg(usedBase), safemath.Neg(usedQuote))
	maker := &a.Position(p.Market).Maker
	maker.Liquidity = safemath.Sum(maker.Liquidity, liquidity)

	if err := o.requireInitialMargin(a); err != nil {
		return nil, err
	}
	if err := a.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return nil, err
	}
	o.emit(&LiquidityAdded{
		Trader:    p.Trader,
		Market:    p.Market,
		Base:      usedBase,
		Quote:     usedQuote,
		Liquidity: liquidity,
	})
	return &LiquidityResult{Base: usedBase, Quote: usedQuote, Liquidity: liquidity}, nil
}

func (o *overlay) removeLiquidity(p RemoveLiquidityParams) (*LiquidityResult, error) {
	if err := checkPositive(p.Liquidity); err != nil {
		return nil, err
	}
	if err := checkDeadline(o.now, p.Deadline); err != nil {
		return nil, err
	}
	m, err := o.openMarket(p.Market)
	if err != nil {
		return nil, err
	}
	caller := p.Caller
	if caller == ids.ShortEmpty {
		caller = p.Trader
	}
	a := o.account(p.Trader)
	if err := o.beginMakerUpdate(m, a); err != nil {
		return nil, err
	}
	if err := o.requireLiquidatable(caller, a); err != nil {
		return nil, err
	}

	maker := &a.Position(p.Market).Maker
	if p.Liquidity.Cmp(maker.Liquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	base, quote, err := m.Pool.RemoveLiquidity(p.Liquidity)
	if err != nil {
		return nil, err
	}
	if err := checkMinimums(base, quote, p.MinBase, p.MinQuote); err != nil {
		return nil, err
	}
	maker.Liquidity = safemath.Diff(maker.Liquidity, p.Liquidity)
	a.AddToTakerBalance(p.Market, base, quote)

	if caller == p.Trader {
		if err := o.requireMaintenanceMargin(a); err != nil {
			return nil, err
		}
	}
	if err := a.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return nil, err
	}
	o.emit(&LiquidityRemoved{
		Caller:    caller,
		Trader:    p.Trader,
		Market:    p.Market,
		Base:      base,
		Quote:     quote,
		Liquidity: safemath.Clone(p.Liquidity),
	})
	return &LiquidityResult{Base: base, Quote: quote, Liquidity: safemath.Clone(p.Liquidity)}, nil
}

// beginMakerUpdate settles a, applies funding to m and realizes everything
// deleveraged to the maker position since it was last touched, so the
// markers match the pool before liquidity changes.
func (o *overlay) beginMakerUpdate(m *Market, a *account.Account) error {
	if err := o.settle(a); err != nil {
		return err
	}
	if err := o.prepare(m); err != nil {
		return err
	}
	a.RealizeDeleveraged(m.Symbol, m.Pool)
	return nil
}

func checkMinimums(base, quote, minBase, minQuote *big.Int) error {
	if minBase != nil && base.Cmp(minBase) < 0 {
		return ErrSlippageExceeded
	}
	if minQuote != nil && quote.Cmp(minQuote) < 0 {
		return ErrSlippageExceeded
	}
	return nil
}
