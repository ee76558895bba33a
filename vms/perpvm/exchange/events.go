// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/ids"
)

// Event is a notification returned by a committed operation.
type Event interface {
	Type() string
}

var (
	_ Event = (*Traded)(nil)
	_ Event = (*OrderFilled)(nil)
	_ Event = (*LiquidityAdded)(nil)
	_ Event = (*LiquidityRemoved)(nil)
	_ Event = (*LimitOrderCreated)(nil)
	_ Event = (*LimitOrderCanceled)(nil)
	_ Event = (*LimitOrderSettled)(nil)
	_ Event = (*Liquidated)(nil)
	_ Event = (*InsuranceFundCovered)(nil)
	_ Event = (*FundingPaid)(nil)
	_ Event = (*PositionClosed)(nil)
	_ Event = (*MarketAdded)(nil)
	_ Event = (*MarketStatusChanged)(nil)
	_ Event = (*Deposited)(nil)
	_ Event = (*Withdrawn)(nil)
	_ Event = (*InsuranceFundDonated)(nil)
	_ Event = (*ProtocolFeeTransferred)(nil)
	_ Event = (*ParameterUpdated)(nil)
)

// Traded reports a taker trade. Base and Quote are the signed changes of
// the taker position; Quote excludes the protocol fee.
type Traded struct {
	Trader        ids.ShortID `json:"trader"`
	Market        string      `json:"market"`
	IsBaseToQuote bool        `json:"isBaseToQuote"`
	IsExactInput  bool        `json:"isExactInput"`
	Plan          string      `json:"plan"`
	Base          *big.Int    `json:"base"`
	Quote         *big.Int    `json:"quote"`
	BookBase      *big.Int    `json:"bookBase"`
	PoolBase      *big.Int    `json:"poolBase"`
	ProtocolFee   *big.Int    `json:"protocolFee"`
	SharePriceX96 *big.Int    `json:"sharePriceX96"`
	ExecutionID   uint64      `json:"executionId"`
}

func (*Traded) Type() string { return "traded" }

// OrderFilled reports the part of a resting order taken by a trade.
type OrderFilled struct {
	Market  string      `json:"market"`
	OrderID uint64      `json:"orderId"`
	Owner   ids.ShortID `json:"owner"`
	IsBid   bool        `json:"isBid"`
	Base    *big.Int    `json:"base"`
	Quote   *big.Int    `json:"quote"`
	Partial bool        `json:"partial"`
}

func (*OrderFilled) Type() string { return "order_filled" }

type LiquidityAdded struct {
	Trader    ids.ShortID `json:"trader"`
	Market    string      `json:"market"`
	Base      *big.Int    `json:"base"`
	Quote     *big.Int    `json:"quote"`
	Liquidity *big.Int    `json:"liquidity"`
}

func (*LiquidityAdded) Type() string { return "liquidity_added" }

type LiquidityRemoved struct {
	Caller    ids.ShortID `json:"caller"`
	Trader    ids.ShortID `json:"trader"`
	Market    string      `json:"market"`
	Base      *big.Int    `json:"base"`
	Quote     *big.Int    `json:"quote"`
	Liquidity *big.Int    `json:"liquidity"`
}

func (*LiquidityRemoved) Type() string { return "liquidity_removed" }

type LimitOrderCreated struct {
	Trader   ids.ShortID `json:"trader"`
	Market   string      `json:"market"`
	OrderID  uint64      `json:"orderId"`
	IsBid    bool        `json:"isBid"`
	Base     *big.Int    `json:"base"`
	PriceX96 *big.Int    `json:"priceX96"`
}

func (*LimitOrderCreated) Type() string { return "limit_order_created" }

type LimitOrderCanceled struct {
	Caller  ids.ShortID `json:"caller"`
	Trader  ids.ShortID `json:"trader"`
	Market  string      `json:"market"`
	OrderID uint64      `json:"orderId"`
	IsBid   bool        `json:"isBid"`
	Base    *big.Int    `json:"base"`
}

func (*LimitOrderCanceled) Type() string { return "limit_order_canceled" }

// LimitOrderSettled reports an executed order credited to its owner.
type LimitOrderSettled struct {
	Trader   ids.ShortID `json:"trader"`
	Market   string      `json:"market"`
	OrderID  uint64      `json:"orderId"`
	IsBid    bool        `json:"isBid"`
	Base     *big.Int    `json:"base"`
	Quote    *big.Int    `json:"quote"`
	Realized *big.Int    `json:"realized"`
}

func (*LimitOrderSettled) Type() string { return "limit_order_settled" }

type Liquidated struct {
	Liquidator    ids.ShortID `json:"liquidator"`
	Trader        ids.ShortID `json:"trader"`
	Market        string      `json:"market"`
	Base          *big.Int    `json:"base"`
	Quote         *big.Int    `json:"quote"`
	Penalty       *big.Int    `json:"penalty"`
	Reward        *big.Int    `json:"reward"`
	InsuranceFund *big.Int    `json:"insuranceFund"`
}

func (*Liquidated) Type() string { return "liquidated" }

// InsuranceFundCovered reports negative collateral absorbed by the
// insurance fund.
type InsuranceFundCovered struct {
	Trader ids.ShortID `json:"trader"`
	Amount *big.Int    `json:"amount"`
}

func (*InsuranceFundCovered) Type() string { return "insurance_fund_covered" }

type FundingPaid struct {
	Market           string   `json:"market"`
	FundingRateX96   *big.Int `json:"fundingRateX96"`
	PremiumX96       *big.Int `json:"premiumX96"`
	IndexPriceX96    *big.Int `json:"indexPriceX96"`
	MarkPriceX96     *big.Int `json:"markPriceX96"`
	ElapsedSec       uint64   `json:"elapsedSec"`
	DeleveragedBase  *big.Int `json:"deleveragedBase"`
	DeleveragedQuote *big.Int `json:"deleveragedQuote"`
}

func (*FundingPaid) Type() string { return "funding_paid" }

// PositionClosed reports a position withdrawn from a closed market.
type PositionClosed struct {
	Trader ids.ShortID `json:"trader"`
	Market string      `json:"market"`
	Value  *big.Int    `json:"value"`
}

func (*PositionClosed) Type() string { return "position_closed" }

type MarketAdded struct {
	Market string `json:"market"`
}

func (*MarketAdded) Type() string { return "market_added" }

type MarketStatusChanged struct {
	Market string       `json:"market"`
	Status MarketStatus `json:"status"`
}

func (*MarketStatusChanged) Type() string { return "market_status_changed" }

type Deposited struct {
	Trader ids.ShortID `json:"trader"`
	Amount *big.Int    `json:"amount"`
}

func (*Deposited) Type() string { return "deposited" }

type Withdrawn struct {
	Trader ids.ShortID `json:"trader"`
	Amount *big.Int    `json:"amount"`
}

func (*Withdrawn) Type() string { return "withdrawn" }

type InsuranceFundDonated struct {
	From   ids.ShortID `json:"from"`
	Amount *big.Int    `json:"amount"`
}

func (*InsuranceFundDonated) Type() string { return "insurance_fund_donated" }

type ProtocolFeeTransferred struct {
	To     ids.ShortID `json:"to"`
	Amount *big.Int    `json:"amount"`
}

func (*ProtocolFeeTransferred) Type() string { return "protocol_fee_transferred" }

// ParameterUpdated reports an owner change of an engine parameter.
type ParameterUpdated struct {
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

func (*ParameterUpdated) Type() string { return "parameter_updated" }
