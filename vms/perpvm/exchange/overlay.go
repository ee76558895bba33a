// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"
	"slices"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/config"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var _ account.MarketSource = (*overlay)(nil)

// overlay is the working state of one operation. Markets and accounts are
// cloned on first touch; nothing reaches the engine until commit.
type overlay struct {
	e   *Engine
	now uint64

	cfg           config.Config
	markets       map[string]*Market
	accounts      map[ids.ShortID]*account.Account
	insuranceFund *big.Int
	protocolFee   *big.Int

	prepared map[string]bool
	events   []Event
}

func (e *Engine) begin() *overlay {
	return &overlay{
		e:             e,
		now:           e.now(),
		cfg:           e.cfg,
		markets:       make(map[string]*Market),
		accounts:      make(map[ids.ShortID]*account.Account),
		insuranceFund: safemath.Clone(e.insuranceFund),
		protocolFee:   safemath.Clone(e.protocolFee),
		prepared:      make(map[string]bool),
	}
}

func (o *overlay) commit() {
	for symbol, m := range o.markets {
		o.e.markets[symbol] = m
	}
	for id, a := range o.accounts {
		o.e.accounts[id] = a
	}
	o.e.cfg = o.cfg
	o.e.insuranceFund = o.insuranceFund
	o.e.protocolFee = o.protocolFee
}

func (o *overlay) emit(ev Event) {
	o.events = append(o.events, ev)
}

// market returns the overlay copy of a market.
func (o *overlay) market(symbol string) (*Market, error) {
	if m, ok := o.markets[symbol]; ok {
		return m, nil
	}
	m, ok := o.e.markets[symbol]
	if !ok {
		return nil, ErrMarketNotFound
	}
	m = m.clone()
	o.markets[symbol] = m
	return m, nil
}

// openMarket returns the overlay copy of a market that is open for trading.
func (o *overlay) openMarket(symbol string) (*Market, error) {
	m, err := o.market(symbol)
	if err != nil {
		return nil, err
	}
	if m.Status != Open {
		return nil, ErrMarketNotOpen
	}
	return m, nil
}

// account returns the overlay copy of an account, creating it if needed.
func (o *overlay) account(id ids.ShortID) *account.Account {
	if a, ok := o.accounts[id]; ok {
		return a
	}
	a, ok := o.e.accounts[id]
	if ok {
		a = a.Clone()
	} else {
		a = account.New(id)
	}
	o.accounts[id] = a
	return a
}

func (o *overlay) MarketView(symbol string) (account.MarketView, error) {
	m, err := o.market(symbol)
	if err != nil {
		return nil, err
	}
	return m.Pool, nil
}

// prepare rebases funding and latches the price-limit reference of m once
// per operation.
func (o *overlay) prepare(m *Market) error {
	if o.prepared[m.Symbol] {
		return nil
	}
	o.prepared[m.Symbol] = true

	payment, err := m.Funding.Rebase(m.Config.Funding, m.Pool, m.BaseFeed, m.QuoteFeed, o.now)
	if err != nil {
		return err
	}
	if payment != nil {
		o.emit(&FundingPaid{
			Market:           m.Symbol,
			FundingRateX96:   payment.FundingRateX96,
			PremiumX96:       payment.PremiumX96,
			IndexPriceX96:    payment.IndexPriceX96,
			MarkPriceX96:     payment.MarkPriceX96,
			ElapsedSec:       payment.ElapsedSec,
			DeleveragedBase:  payment.DeleveragedBase,
			DeleveragedQuote: payment.DeleveragedQuote,
		})
	}
	if m.hasPriceFeed() {
		m.PriceLimit.Update(m.Config.PriceLimit, m.Pool.SharePriceX96(), o.now)
	}
	return nil
}

// settle credits every executed order of a to its taker position. Calling
// it again without an intervening trade does nothing.
func (o *overlay) settle(a *account.Account) error {
	markets := make([]string, 0, len(a.Positions))
	for symbol, p := range a.Positions {
		if p.HasOrders() {
			markets = append(markets, symbol)
		}
	}
	slices.Sort(markets)

	for _, symbol := range markets {
		m, err := o.market(symbol)
		if err != nil {
			return err
		}
		for _, isBid := range []bool{false, true} {
			for _, id := range a.OrderIDs(symbol, isBid) {
				order, ok := m.Book.Order(id)
				if !ok || !order.Executed() {
					continue
				}
				if _, err := m.Book.Settle(id); err != nil {
					return err
				}
				// an executed ask sold base, an executed bid bought it
				base, quote := order.Base, safemath.Neg(order.Quote(order.Base))
				if !isBid {
					base, quote = safemath.Neg(order.Base), order.Quote(order.Base)
				}
				realized := a.AddToTakerBalance(symbol, base, quote)
				if err := a.RemoveOrder(symbol, isBid, id, order.Base); err != nil {
					return err
				}
				o.emit(&LimitOrderSettled{
					Trader:   a.ID,
					Market:   symbol,
					OrderID:  id,
					IsBid:    isBid,
					Base:     base,
					Quote:    quote,
					Realized: realized,
				})
			}
		}
	}
	return a.Sync(o.cfg.MaxMarketsPerAccount)
}

func (o *overlay) hasEnoughMaintenanceMargin(a *account.Account) (bool, error) {
	return a.HasEnoughMaintenanceMargin(o, o.cfg.MmRatio)
}

func (o *overlay) requireMaintenanceMargin(a *account.Account) error {
	ok, err := o.hasEnoughMaintenanceMargin(a)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotEnoughMaintenanceMargin
	}
	return nil
}

func (o *overlay) requireInitialMargin(a *account.Account) error {
	ok, err := a.HasEnoughInitialMargin(o, o.cfg.ImRatio)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotEnoughInitialMargin
	}
	return nil
}

// requireLiquidatable fails unless caller acts on its own account or the
// account is below maintenance margin.
func (o *overlay) requireLiquidatable(caller ids.ShortID, a *account.Account) error {
	if caller == a.ID {
		return nil
	}
	ok, err := o.hasEnoughMaintenanceMargin(a)
	if err != nil {
		return err
	}
	if ok {
		return ErrNotLiquidatable
	}
	return nil
}

// coverFromInsurance moves insurance funds into negative collateral.
func (o *overlay) coverFromInsurance(a *account.Account) {
	if a.Collateral.Sign() >= 0 || o.insuranceFund.Sign() <= 0 {
		return
	}
	cover := safemath.MinBig(safemath.Neg(a.Collateral), o.insuranceFund)
	a.Collateral = safemath.Sum(a.Collateral, cover)
	o.insuranceFund = safemath.Diff(o.insuranceFund, cover)
	o.emit(&InsuranceFundCovered{Trader: a.ID, Amount: safemath.Clone(cover)})
}
