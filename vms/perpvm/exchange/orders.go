// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/orderbook"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// LimitOrderParams describes a new limit order.
type LimitOrderParams struct {
	Trader   ids.ShortID `json:"trader"`
	Market   string      `json:"market"`
	IsBid    bool        `json:"isBid"`
	Base     *big.Int    `json:"base"`
	PriceX96 *big.Int    `json:"priceX96"`
	// PostOnly rejects an order that would execute on arrival.
	PostOnly bool   `json:"postOnly"`
	Deadline uint64 `json:"deadline"`
}

// LimitOrderResult is the outcome of placing a limit order.
type LimitOrderResult struct {
	// OrderID is zero when nothing was left to rest on the book.
	OrderID     uint64   `json:"orderId"`
	FilledBase  *big.Int `json:"filledBase"`
	FilledQuote *big.Int `json:"filledQuote"`
	RestingBase *big.Int `json:"restingBase"`
}

// CreateLimitOrder executes the marketable part of an order and rests the
// remainder on the book.
func (e *Engine) CreateLimitOrder(p LimitOrderParams) (*LimitOrderResult, []Event, error) {
	var res *LimitOrderResult
	events, err := e.run("create_limit_order", func(o *overlay) error {
		var err error
		res, err = o.createLimitOrder(p)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

// CancelLimitOrder removes a resting order of trader. Another caller may
// cancel it only while trader is below maintenance margin.
func (e *Engine) CancelLimitOrder(caller, trader ids.ShortID, market string, orderID, deadline uint64) ([]Event, error) {
	return e.run("cancel_limit_order", func(o *overlay) error {
		return o.cancelLimitOrder(caller, trader, market, orderID, deadline)
	})
}

// SettleLimitOrders credits every executed order of trader.
func (e *Engine) SettleLimitOrders(trader ids.ShortID) ([]Event, error) {
	return e.run("settle_limit_orders", func(o *overlay) error {
		return o.settle(o.account(trader))
	})
}

func (o *overlay) createLimitOrder(p LimitOrderParams) (*LimitOrderResult, error) {
	if err := checkPositive(p.Base); err != nil {
		return nil, err
	}
	if p.PriceX96 == nil || p.PriceX96.Sign() <= 0 || safemath.CheckAmount(p.PriceX96) != nil {
		return nil, ErrInvalidPrice
	}
	if err := checkDeadline(o.now, p.Deadline); err != nil {
		return nil, err
	}
	m, err := o.openMarket(p.Market)
	if err != nil {
		return nil, err
	}
	trader := o.account(p.Trader)
	if err := o.settle(trader); err != nil {
		return nil, err
	}
	if err := o.prepare(m); err != nil {
		return nil, err
	}

	res := &LimitOrderResult{
		FilledBase:  new(big.Int),
		FilledQuote: new(big.Int),
		RestingBase: safemath.Clone(p.Base),
	}
	if wouldCross(m, p.IsBid, p.PriceX96) {
		if p.PostOnly {
			return nil, ErrPostOnlyWouldCross
		}
		if err := o.fillMarketable(m, trader, p, res); err != nil {
			return nil, err
		}
	}

	if res.RestingBase.Sign() > 0 {
		side := orderbook.SideOf(p.IsBid)
		id, err := m.Book.Insert(p.Trader, side, res.RestingBase, p.PriceX96)
		if err != nil {
			return nil, err
		}
		if err := trader.AddOrder(p.Market, p.IsBid, id, res.RestingBase, o.cfg.MaxOrdersPerAccount); err != nil {
			return nil, err
		}
		res.OrderID = id
		o.emit(&LimitOrderCreated{
			Trader:   p.Trader,
			Market:   p.Market,
			OrderID:  id,
			IsBid:    p.IsBid,
			Base:     safemath.Clone(res.RestingBase),
			PriceX96: safemath.Clone(p.PriceX96),
		})
	}

	if err := o.requireInitialMargin(trader); err != nil {
		return nil, err
	}
	if err := trader.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return nil, err
	}
	return res, nil
}

// wouldCross reports whether an order at priceX96 is marketable against the
// pool or the opposite side of the book.
func wouldCross(m *Market, isBid bool, priceX96 *big.Int) bool {
	sharePrice := m.Pool.SharePriceX96()
	opposite, ok := m.Book.Best(orderbook.SideOf(isBid).Opposite())
	if isBid {
		return (sharePrice.Sign() > 0 && priceX96.Cmp(sharePrice) > 0) ||
			(ok && opposite.PriceX96.Cmp(priceX96) <= 0)
	}
	return (sharePrice.Sign() > 0 && priceX96.Cmp(sharePrice) < 0) ||
		(ok && opposite.PriceX96.Cmp(priceX96) >= 0)
}

// fillMarketable executes the part of an order that crosses, up to the
// order price.
func (o *overlay) fillMarketable(m *Market, trader *account.Account, p LimitOrderParams, res *LimitOrderResult) error {
	isBaseToQuote := !p.IsBid
	bound := p.PriceX96
	if limit := m.priceBound(isBaseToQuote, false); limit != nil {
		if p.IsBid {
			bound = safemath.MinBig(bound, limit)
		} else {
			bound = safemath.MaxBig(bound, limit)
		}
	}

	// the amount is the order base: exact output for a bid, exact input
	// for an ask
	x, err := o.execute(m, trader, isBaseToQuote, isBaseToQuote, p.Base, bound, true, false)
	if err != nil {
		return err
	}
	if x.plan.kind == PlanNone {
		return nil
	}
	base, quote, protocolFee := o.creditTaker(trader, p.Market, isBaseToQuote, x)
	o.emitTraded(p.Trader, m, isBaseToQuote, isBaseToQuote, x, base, quote, protocolFee)

	res.FilledBase = x.totalBase
	res.FilledQuote = x.totalQuote
	res.RestingBase = safemath.Diff(p.Base, x.totalBase)
	return nil
}

func (o *overlay) cancelLimitOrder(caller, trader ids.ShortID, market string, orderID, deadline uint64) error {
	if err := checkDeadline(o.now, deadline); err != nil {
		return err
	}
	m, err := o.openMarket(market)
	if err != nil {
		return err
	}
	order, ok := m.Book.Order(orderID)
	if !ok || order.Owner != trader {
		return ErrOrderNotFound
	}
	if order.Executed() {
		return ErrAlreadyExecuted
	}

	a := o.account(trader)
	if err := o.settle(a); err != nil {
		return err
	}
	if err := o.requireLiquidatable(caller, a); err != nil {
		return err
	}
	if _, err := m.Book.Cancel(orderID); err != nil {
		return err
	}
	isBid := order.Side == orderbook.Bid
	if err := a.RemoveOrder(market, isBid, orderID, order.Base); err != nil {
		return err
	}
	if err := a.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return err
	}
	o.emit(&LimitOrderCanceled{
		Caller:  caller,
		Trader:  trader,
		Market:  market,
		OrderID: orderID,
		IsBid:   isBid,
		Base:    safemath.Clone(order.Base),
	})
	return nil
}
