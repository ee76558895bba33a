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

// CloseMarket withdraws the trader's whole position from a closed market at
// its last share price. Resting orders are dropped and the position value
// is credited to collateral.
func (e *Engine) CloseMarket(trader ids.ShortID, market string) ([]Event, error) {
	return e.run("close_market", func(o *overlay) error {
		m, err := o.market(market)
		if err != nil {
			return err
		}
		if m.Status != Closed {
			return ErrMarketNotClosed
		}
		a := o.account(trader)
		if err := o.settle(a); err != nil {
			return err
		}
		p, ok := a.Peek(market)
		if !ok {
			return nil
		}

		for _, isBid := range []bool{false, true} {
			for _, id := range a.OrderIDs(market, isBid) {
				order, err := m.Book.Cancel(id)
				if err != nil {
					return err
				}
				if err := a.RemoveOrder(market, isBid, id, order.Base); err != nil {
					return err
				}
				o.emit(&LimitOrderCanceled{
					Caller:  trader,
					Trader:  trader,
					Market:  market,
					OrderID: id,
					IsBid:   order.Side == orderbook.Bid,
					Base:    safemath.Clone(order.Base),
				})
			}
		}

		a.RealizeDeleveraged(market, m.Pool)
		value := account.PositionValue(m.Pool, p)
		a.Collateral = safemath.Sum(a.Collateral, value)
		p.Taker.BaseBalanceShare = new(big.Int)
		p.Taker.QuoteBalance = new(big.Int)
		p.Maker.Liquidity = new(big.Int)
		if err := a.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
			return err
		}
		o.emit(&PositionClosed{Trader: trader, Market: market, Value: value})
		return nil
	})
}
