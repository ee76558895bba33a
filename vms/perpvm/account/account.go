// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package account implements the per-account position ledger and the margin
// predicates evaluated over it.
package account

import (
	"errors"
	"math/big"
	"slices"

	"github.com/luxfi/ids"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var (
	ErrTooManyMarkets = errors.New("too many markets")
	ErrTooManyOrders  = errors.New("too many orders")
	ErrOrderNotFound  = errors.New("order not found in account")
)

// TakerInfo is the directional exposure built by trading.
type TakerInfo struct {
	BaseBalanceShare *big.Int `json:"baseBalanceShare"`
	QuoteBalance     *big.Int `json:"quoteBalance"`
}

// MakerInfo is a liquidity position and its accumulator markers.
type MakerInfo struct {
	Liquidity                   *big.Int `json:"liquidity"`
	CumBaseSharePerLiquidityX96 *big.Int `json:"cumBaseSharePerLiquidityX96"`
	CumQuotePerLiquidityX96     *big.Int `json:"cumQuotePerLiquidityX96"`
}

// OrderInfo references the account's resting orders in one market.
type OrderInfo struct {
	AskIDs  []uint64 `json:"askIds"`
	BidIDs  []uint64 `json:"bidIds"`
	AskBase *big.Int `json:"askBase"`
	BidBase *big.Int `json:"bidBase"`
}

// Position is everything an account holds in one market.
type Position struct {
	Taker  TakerInfo `json:"taker"`
	Maker  MakerInfo `json:"maker"`
	Orders OrderInfo `json:"orders"`
}

func newPosition() *Position {
	return &Position{
		Taker: TakerInfo{
			BaseBalanceShare: new(big.Int),
			QuoteBalance:     new(big.Int),
		},
		Maker: MakerInfo{
			Liquidity:                   new(big.Int),
			CumBaseSharePerLiquidityX96: new(big.Int),
			CumQuotePerLiquidityX96:     new(big.Int),
		},
		Orders: OrderInfo{
			AskBase: new(big.Int),
			BidBase: new(big.Int),
		},
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Taker: TakerInfo{
			BaseBalanceShare: safemath.Clone(p.Taker.BaseBalanceShare),
			QuoteBalance:     safemath.Clone(p.Taker.QuoteBalance),
		},
		Maker: MakerInfo{
			Liquidity:                   safemath.Clone(p.Maker.Liquidity),
			CumBaseSharePerLiquidityX96: safemath.Clone(p.Maker.CumBaseSharePerLiquidityX96),
			CumQuotePerLiquidityX96:     safemath.Clone(p.Maker.CumQuotePerLiquidityX96),
		},
		Orders: OrderInfo{
			AskIDs:  slices.Clone(p.Orders.AskIDs),
			BidIDs:  slices.Clone(p.Orders.BidIDs),
			AskBase: safemath.Clone(p.Orders.AskBase),
			BidBase: safemath.Clone(p.Orders.BidBase),
		},
	}
}

// HasOrders reports whether any order, on either side, is referenced.
func (p *Position) HasOrders() bool {
	return len(p.Orders.AskIDs)+len(p.Orders.BidIDs) > 0
}

// IsZero reports whether the position holds nothing at all.
func (p *Position) IsZero() bool {
	return p.Taker.BaseBalanceShare.Sign() == 0 &&
		p.Taker.QuoteBalance.Sign() == 0 &&
		p.Maker.Liquidity.Sign() == 0 &&
		!p.HasOrders()
}

// Account is one trader's ledger.
type Account struct {
	ID              ids.ShortID          `json:"id"`
	Collateral      *big.Int             `json:"collateral"`
	Markets         []string             `json:"markets"`
	Positions       map[string]*Position `json:"positions"`
	LimitOrderCount uint32               `json:"limitOrderCount"`
}

// New returns an empty account.
func New(id ids.ShortID) *Account {
	return &Account{
		ID:         id,
		Collateral: new(big.Int),
		Positions:  make(map[string]*Position),
	}
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	c := &Account{
		ID:              a.ID,
		Collateral:      safemath.Clone(a.Collateral),
		Markets:         slices.Clone(a.Markets),
		Positions:       make(map[string]*Position, len(a.Positions)),
		LimitOrderCount: a.LimitOrderCount,
	}
	for m, p := range a.Positions {
		c.Positions[m] = p.clone()
	}
	return c
}

// Position returns the position in market, creating an empty one if needed.
// Empty positions are dropped again by Sync.
func (a *Account) Position(market string) *Position {
	p, ok := a.Positions[market]
	if !ok {
		p = newPosition()
		a.Positions[market] = p
	}
	return p
}

// Peek returns the position in market without creating it.
func (a *Account) Peek(market string) (*Position, bool) {
	p, ok := a.Positions[market]
	return p, ok
}

// Sync drops empty positions and registers non-empty ones in Markets.
func (a *Account) Sync(maxMarkets uint32) error {
	for market, p := range a.Positions {
		if p.IsZero() {
			delete(a.Positions, market)
		}
	}
	a.Markets = slices.DeleteFunc(a.Markets, func(m string) bool {
		_, ok := a.Positions[m]
		return !ok
	})
	// keep the registration order of Markets deterministic
	var added []string
	for market := range a.Positions {
		if !slices.Contains(a.Markets, market) {
			added = append(added, market)
		}
	}
	slices.Sort(added)
	a.Markets = append(a.Markets, added...)

	if uint32(len(a.Markets)) > maxMarkets {
		return ErrTooManyMarkets
	}
	return nil
}

// IsEmpty reports whether the account holds no position in any market.
func (a *Account) IsEmpty() bool {
	for _, p := range a.Positions {
		if !p.IsZero() {
			return false
		}
	}
	return true
}

// AddToTakerBalance applies a trade of baseShare and quote to the taker
// position in market. The closed part of the position realizes its pnl into
// collateral, which is returned.
func (a *Account) AddToTakerBalance(market string, baseShare, quote *big.Int) *big.Int {
	taker := &a.Position(market).Taker
	realized := new(big.Int)

	oldBase := taker.BaseBalanceShare
	if oldBase.Sign() != 0 && baseShare.Sign() != 0 && oldBase.Sign() != baseShare.Sign() {
		closed := safemath.MinBig(safemath.Abs(baseShare), safemath.Abs(oldBase))
		closedRatio := safemath.MulDiv(closed, safemath.E18, safemath.Abs(oldBase))
		reducedOpenNotional := safemath.MulDivTrunc(taker.QuoteBalance, closedRatio, safemath.E18)
		closingQuote := safemath.MulDivTrunc(quote, closed, safemath.Abs(baseShare))
		realized = safemath.Sum(reducedOpenNotional, closingQuote)
	}

	taker.BaseBalanceShare = safemath.Sum(oldBase, baseShare)
	taker.QuoteBalance = safemath.Diff(safemath.Sum(taker.QuoteBalance, quote), realized)
	if taker.BaseBalanceShare.Sign() == 0 {
		// a fully closed position leaves no open notional behind
		realized.Add(realized, taker.QuoteBalance)
		taker.QuoteBalance = new(big.Int)
	}
	a.Collateral = safemath.Sum(a.Collateral, realized)
	return realized
}

// AddOrder references a new resting order.
func (a *Account) AddOrder(market string, isBid bool, id uint64, base *big.Int, maxOrders uint32) error {
	if a.LimitOrderCount >= maxOrders {
		return ErrTooManyOrders
	}
	orders := &a.Position(market).Orders
	if isBid {
		orders.BidIDs = append(orders.BidIDs, id)
		orders.BidBase = safemath.Sum(orders.BidBase, base)
	} else {
		orders.AskIDs = append(orders.AskIDs, id)
		orders.AskBase = safemath.Sum(orders.AskBase, base)
	}
	a.LimitOrderCount++
	return nil
}

// RemoveOrder drops the reference to order id whose remaining base is
// base.
func (a *Account) RemoveOrder(market string, isBid bool, id uint64, base *big.Int) error {
	p, ok := a.Peek(market)
	if !ok {
		return ErrOrderNotFound
	}
	orders := &p.Orders
	idsOnSide, total := &orders.AskIDs, &orders.AskBase
	if isBid {
		idsOnSide, total = &orders.BidIDs, &orders.BidBase
	}
	i := slices.Index(*idsOnSide, id)
	if i < 0 {
		return ErrOrderNotFound
	}
	*idsOnSide = slices.Delete(slices.Clone(*idsOnSide), i, i+1)
	*total = safemath.Diff(*total, base)
	a.LimitOrderCount--
	return nil
}

// ReduceOrderBase lowers the resting total after a partial fill.
func (a *Account) ReduceOrderBase(market string, isBid bool, base *big.Int) {
	orders := &a.Position(market).Orders
	if isBid {
		orders.BidBase = safemath.Diff(orders.BidBase, base)
		return
	}
	orders.AskBase = safemath.Diff(orders.AskBase, base)
}

// OrderIDs returns the referenced order ids on one side of market.
func (a *Account) OrderIDs(market string, isBid bool) []uint64 {
	p, ok := a.Peek(market)
	if !ok {
		return nil
	}
	if isBid {
		return slices.Clone(p.Orders.BidIDs)
	}
	return slices.Clone(p.Orders.AskIDs)
}
