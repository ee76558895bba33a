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

// MarketInfo is a read-only summary of one market.
type MarketInfo struct {
	Symbol                  string   `json:"symbol"`
	Status                  string   `json:"status"`
	Base                    *big.Int `json:"base"`
	Quote                   *big.Int `json:"quote"`
	TotalLiquidity          *big.Int `json:"totalLiquidity"`
	CumBasePerLiquidityX96  *big.Int `json:"cumBasePerLiquidityX96"`
	CumQuotePerLiquidityX96 *big.Int `json:"cumQuotePerLiquidityX96"`
	BaseBalancePerShareX96  *big.Int `json:"baseBalancePerShareX96"`
	SharePriceX96           *big.Int `json:"sharePriceX96"`
	MarkPriceX96            *big.Int `json:"markPriceX96"`
	FeeRatio                uint32   `json:"feeRatio"`
	AskOrders               int      `json:"askOrders"`
	BidOrders               int      `json:"bidOrders"`

	// Price-limit band for normal trades. Nil without an index price feed.
	LowerPriceX96 *big.Int `json:"lowerPriceX96,omitempty"`
	UpperPriceX96 *big.Int `json:"upperPriceX96,omitempty"`
}

// MarginInfo is the margin state of an account.
type MarginInfo struct {
	Collateral                   *big.Int `json:"collateral"`
	TotalAccountValue            *big.Int `json:"totalAccountValue"`
	InitialMarginRequirement     *big.Int `json:"initialMarginRequirement"`
	MaintenanceMarginRequirement *big.Int `json:"maintenanceMarginRequirement"`
	HasEnoughInitialMargin       bool     `json:"hasEnoughInitialMargin"`
	HasEnoughMaintenanceMargin   bool     `json:"hasEnoughMaintenanceMargin"`
	IsLiquidationFree            bool     `json:"isLiquidationFree"`
}

// PositionInfo is an account's position in one market, valued at the
// current share price.
type PositionInfo struct {
	Market               string            `json:"market"`
	Taker                account.TakerInfo `json:"taker"`
	Maker                account.MakerInfo `json:"maker"`
	AskIDs               []uint64          `json:"askIds"`
	BidIDs               []uint64          `json:"bidIds"`
	PositionShare        *big.Int          `json:"positionShare"`
	PositionNotional     *big.Int          `json:"positionNotional"`
	OpenPositionShare    *big.Int          `json:"openPositionShare"`
	OpenPositionNotional *big.Int          `json:"openPositionNotional"`
	PositionValue        *big.Int          `json:"positionValue"`
}

// view runs fn against a discarded overlay in which trader's executed
// orders are already settled, so views match what the next operation would
// see.
func (e *Engine) view(trader ids.ShortID, fn func(*overlay, *account.Account) error) error {
	return e.simulate(func(o *overlay) error {
		a := o.account(trader)
		if err := o.settle(a); err != nil {
			return err
		}
		return fn(o, a)
	})
}

// MarketInfo returns a summary of market.
func (e *Engine) MarketInfo(market string) (*MarketInfo, error) {
	var info *MarketInfo
	err := e.simulate(func(o *overlay) error {
		m, err := o.market(market)
		if err != nil {
			return err
		}
		p := m.Pool
		info = &MarketInfo{
			Symbol:                  m.Symbol,
			Status:                  m.Status.String(),
			Base:                    safemath.Clone(p.Base),
			Quote:                   safemath.Clone(p.Quote),
			TotalLiquidity:          safemath.Clone(p.TotalLiquidity),
			CumBasePerLiquidityX96:  safemath.Clone(p.CumBasePerLiquidityX96),
			CumQuotePerLiquidityX96: safemath.Clone(p.CumQuotePerLiquidityX96),
			BaseBalancePerShareX96:  safemath.Clone(p.BaseBalancePerShareX96),
			SharePriceX96:           p.SharePriceX96(),
			MarkPriceX96:            p.MarkPriceX96(),
			FeeRatio:                m.feeRatio(),
			AskOrders:               m.Book.Len(orderbook.Ask),
			BidOrders:               m.Book.Len(orderbook.Bid),
		}
		if m.hasPriceFeed() {
			info.LowerPriceX96, info.UpperPriceX96 = m.PriceLimit.Bounds(m.Config.PriceLimit, false)
		}
		return nil
	})
	return info, err
}

// ShareMarkPriceX96 returns the pool price in quote per share.
func (e *Engine) ShareMarkPriceX96(market string) (*big.Int, error) {
	info, err := e.MarketInfo(market)
	if err != nil {
		return nil, err
	}
	return info.SharePriceX96, nil
}

// MarkPriceX96 returns the pool price in quote per raw base unit.
func (e *Engine) MarkPriceX96(market string) (*big.Int, error) {
	info, err := e.MarketInfo(market)
	if err != nil {
		return nil, err
	}
	return info.MarkPriceX96, nil
}

// OrderBookDepth returns up to limit aggregated resting levels on one side.
func (e *Engine) OrderBookDepth(market string, isBid bool, limit int) ([]orderbook.Level, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[market]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m.Book.Depth(orderbook.SideOf(isBid), limit), nil
}

// LimitOrderInfo returns an order by id, resting or executed but not yet
// settled.
func (e *Engine) LimitOrderInfo(market string, orderID uint64) (orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[market]
	if !ok {
		return orderbook.Order{}, ErrMarketNotFound
	}
	order, ok := m.Book.Order(orderID)
	if !ok {
		return orderbook.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// LimitOrderIDs returns the order ids referenced by the account on one side
// of market. Executed orders stay listed until they are settled.
func (e *Engine) LimitOrderIDs(trader ids.ShortID, market string, isBid bool) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[trader]
	if !ok {
		return nil
	}
	return a.OrderIDs(market, isBid)
}

// Account returns a settled copy of the account.
func (e *Engine) Account(trader ids.ShortID) (*account.Account, error) {
	var out *account.Account
	err := e.view(trader, func(_ *overlay, a *account.Account) error {
		out = a.Clone()
		return nil
	})
	return out, err
}

// Position returns the account's position in market. A market the account
// holds nothing in yields an empty position.
func (e *Engine) Position(trader ids.ShortID, market string) (*PositionInfo, error) {
	var info *PositionInfo
	err := e.view(trader, func(o *overlay, a *account.Account) error {
		view, err := o.MarketView(market)
		if err != nil {
			return err
		}
		p, ok := a.Peek(market)
		if !ok {
			p = account.New(trader).Position(market)
		}
		price := view.SharePriceX96()
		share := account.PositionShare(view, p)
		info = &PositionInfo{
			Market:               market,
			Taker:                p.Taker,
			Maker:                p.Maker,
			AskIDs:               a.OrderIDs(market, false),
			BidIDs:               a.OrderIDs(market, true),
			PositionShare:        share,
			PositionNotional:     safemath.MulDiv(share, price, safemath.Q96),
			OpenPositionShare:    account.OpenPositionShare(view, p),
			OpenPositionNotional: account.OpenPositionNotional(view, p),
			PositionValue:        account.PositionValue(view, p),
		}
		return nil
	})
	return info, err
}

// TakerInfo returns the taker part of the account's position in market.
func (e *Engine) TakerInfo(trader ids.ShortID, market string) (account.TakerInfo, error) {
	info, err := e.Position(trader, market)
	if err != nil {
		return account.TakerInfo{}, err
	}
	return info.Taker, nil
}

// MakerInfo returns the maker part of the account's position in market.
func (e *Engine) MakerInfo(trader ids.ShortID, market string) (account.MakerInfo, error) {
	info, err := e.Position(trader, market)
	if err != nil {
		return account.MakerInfo{}, err
	}
	return info.Maker, nil
}

// PositionShare returns the net base share held in market.
func (e *Engine) PositionShare(trader ids.ShortID, market string) (*big.Int, error) {
	info, err := e.Position(trader, market)
	if err != nil {
		return nil, err
	}
	return info.PositionShare, nil
}

// PositionNotional prices PositionShare at the share price.
func (e *Engine) PositionNotional(trader ids.ShortID, market string) (*big.Int, error) {
	info, err := e.Position(trader, market)
	if err != nil {
		return nil, err
	}
	return info.PositionNotional, nil
}

// OpenPositionShare returns |net share| plus the base locked in the pool.
func (e *Engine) OpenPositionShare(trader ids.ShortID, market string) (*big.Int, error) {
	info, err := e.Position(trader, market)
	if err != nil {
		return nil, err
	}
	return info.OpenPositionShare, nil
}

// MarginInfo returns the margin state of the account.
func (e *Engine) MarginInfo(trader ids.ShortID) (*MarginInfo, error) {
	var info *MarginInfo
	err := e.view(trader, func(o *overlay, a *account.Account) error {
		value, err := a.TotalAccountValue(o)
		if err != nil {
			return err
		}
		im, err := a.MarginRequirement(o, o.cfg.ImRatio, true)
		if err != nil {
			return err
		}
		mm, err := a.MarginRequirement(o, o.cfg.MmRatio, false)
		if err != nil {
			return err
		}
		free := a.IsLiquidationFree()
		info = &MarginInfo{
			Collateral:                   safemath.Clone(a.Collateral),
			TotalAccountValue:            value,
			InitialMarginRequirement:     im,
			MaintenanceMarginRequirement: mm,
			HasEnoughInitialMargin:       value.Cmp(im) >= 0 || free,
			HasEnoughMaintenanceMargin:   value.Cmp(mm) >= 0,
			IsLiquidationFree:            free,
		}
		return nil
	})
	return info, err
}

// TotalAccountValue returns collateral plus the value of every position.
func (e *Engine) TotalAccountValue(trader ids.ShortID) (*big.Int, error) {
	info, err := e.MarginInfo(trader)
	if err != nil {
		return nil, err
	}
	return info.TotalAccountValue, nil
}

// HasEnoughInitialMargin reports whether the account could open more.
func (e *Engine) HasEnoughInitialMargin(trader ids.ShortID) (bool, error) {
	info, err := e.MarginInfo(trader)
	if err != nil {
		return false, err
	}
	return info.HasEnoughInitialMargin, nil
}

// HasEnoughMaintenanceMargin reports whether the account is safe from
// liquidation.
func (e *Engine) HasEnoughMaintenanceMargin(trader ids.ShortID) (bool, error) {
	info, err := e.MarginInfo(trader)
	if err != nil {
		return false, err
	}
	return info.HasEnoughMaintenanceMargin, nil
}

// IsLiquidationFree reports whether no price move can make the account
// value negative.
func (e *Engine) IsLiquidationFree(trader ids.ShortID) (bool, error) {
	info, err := e.MarginInfo(trader)
	if err != nil {
		return false, err
	}
	return info.IsLiquidationFree, nil
}
