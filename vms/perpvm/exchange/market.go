// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/fee"
	"github.com/luxfi/perpdex/vms/perpvm/funding"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"
	"github.com/luxfi/perpdex/vms/perpvm/orderbook"
	"github.com/luxfi/perpdex/vms/perpvm/pool"
	"github.com/luxfi/perpdex/vms/perpvm/pricelimit"
)

// MarketStatus is the lifecycle stage of a market.
type MarketStatus uint8

const (
	NotAllowed MarketStatus = iota
	Open
	Closed
)

func (s MarketStatus) String() string {
	switch s {
	case NotAllowed:
		return "not_allowed"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// canTransition allows NotAllowed->Open and Open->Closed only.
func (s MarketStatus) canTransition(to MarketStatus) bool {
	return (s == NotAllowed && to == Open) || (s == Open && to == Closed)
}

// Market is one tradable instrument.
type Market struct {
	Symbol     string              `json:"symbol"`
	Status     MarketStatus        `json:"status"`
	Config     config.MarketConfig `json:"config"`
	Pool       *pool.Pool          `json:"pool"`
	Fee        *fee.State          `json:"fee"`
	Funding    *funding.State      `json:"funding"`
	PriceLimit *pricelimit.State   `json:"priceLimit"`
	Book       *orderbook.Book     `json:"book"`

	// Index price feeds. A nil base feed disables funding and price limits.
	BaseFeed  oracle.PriceFeed `json:"-"`
	QuoteFeed oracle.PriceFeed `json:"-"`
}

func newMarket(symbol string, cfg config.MarketConfig) *Market {
	return &Market{
		Symbol:     symbol,
		Status:     NotAllowed,
		Config:     cfg,
		Pool:       pool.New(),
		Fee:        fee.NewState(),
		Funding:    funding.NewState(),
		PriceLimit: pricelimit.NewState(),
		Book:       orderbook.New(),
	}
}

// clone returns a copy sharing nothing mutable with m. Feeds are shared.
func (m *Market) clone() *Market {
	return &Market{
		Symbol:     m.Symbol,
		Status:     m.Status,
		Config:     m.Config,
		Pool:       m.Pool.Clone(),
		Fee:        m.Fee.Clone(),
		Funding:    m.Funding.Clone(),
		PriceLimit: m.PriceLimit.Clone(),
		Book:       m.Book.Clone(),
		BaseFeed:   m.BaseFeed,
		QuoteFeed:  m.QuoteFeed,
	}
}

// hasPriceFeed reports whether funding and price limits are active.
func (m *Market) hasPriceFeed() bool {
	return m.BaseFeed != nil
}

// feeRatio returns the pool fee ratio for the next swap.
func (m *Market) feeRatio() uint32 {
	return m.Fee.FeeRatio(m.Config.PoolFee, m.Config.PriceLimit.NormalOrderRatio)
}

// priceBound returns the furthest share price a trade may reach, nil when
// unbounded.
func (m *Market) priceBound(isBaseToQuote, isLiquidation bool) *big.Int {
	if !m.hasPriceFeed() {
		return nil
	}
	return m.PriceLimit.PriceBound(m.Config.PriceLimit, isBaseToQuote, isLiquidation)
}

// checkPriceLimit validates the share price at the end of a trade.
func (m *Market) checkPriceLimit(isLiquidation bool) error {
	if !m.hasPriceFeed() {
		return nil
	}
	return m.PriceLimit.Check(m.Config.PriceLimit, m.Pool.SharePriceX96(), isLiquidation)
}
