// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package orderbook implements the resting limit-order book of a perpetual
// market.
//
// Orders are kept in price-time priority. Fully filled orders leave the
// price ledgers immediately but stay indexed with a non-zero execution id
// until their owner settles them.
package orderbook

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/google/btree"
	"github.com/luxfi/ids"

	safemath "github.com/luxfi/perpdex/utils/math"
)

const defaultTreeDegree = 16

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyExecuted = errors.New("order already executed")
	ErrNotExecuted     = errors.New("order not executed")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Side is the side of a resting order.
type Side uint8

const (
	Ask Side = iota
	Bid
)

// SideOf returns Bid when isBid is set.
func SideOf(isBid bool) Side {
	if isBid {
		return Bid
	}
	return Ask
}

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a resting or executed-but-unsettled limit order. Values are
// never mutated in place so trees can share them across clones.
type Order struct {
	ID          uint64      `json:"id"`
	Owner       ids.ShortID `json:"owner"`
	Side        Side        `json:"side"`
	PriceX96    *big.Int    `json:"priceX96"`
	Base        *big.Int    `json:"base"`
	ExecutionID uint64      `json:"executionId"`
}

// Executed reports whether the order was fully filled.
func (o Order) Executed() bool {
	return o.ExecutionID != 0
}

// Quote returns the quote value of base at the order price.
func (o Order) Quote(base *big.Int) *big.Int {
	return QuoteAt(base, o.PriceX96)
}

// QuoteAt returns floor(base*priceX96/Q96).
func QuoteAt(base, priceX96 *big.Int) *big.Int {
	return safemath.MulDiv(base, priceX96, safemath.Q96)
}

func lessAsk(a, b Order) bool {
	if c := a.PriceX96.Cmp(b.PriceX96); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func lessBid(a, b Order) bool {
	if c := a.PriceX96.Cmp(b.PriceX96); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

func lessID(a, b Order) bool {
	return a.ID < b.ID
}

// Book is the two-sided order book of one market.
type Book struct {
	asks   *btree.BTreeG[Order]
	bids   *btree.BTreeG[Order]
	orders *btree.BTreeG[Order]

	nextOrderID    uint64
	askExecutionID uint64
	bidExecutionID uint64
}

// New returns an empty book.
func New() *Book {
	return &Book{
		asks:        btree.NewG(defaultTreeDegree, lessAsk),
		bids:        btree.NewG(defaultTreeDegree, lessBid),
		orders:      btree.NewG(defaultTreeDegree, lessID),
		nextOrderID: 1,
	}
}

// Clone returns a copy-on-write copy of the book.
func (b *Book) Clone() *Book {
	return &Book{
		asks:           b.asks.Clone(),
		bids:           b.bids.Clone(),
		orders:         b.orders.Clone(),
		nextOrderID:    b.nextOrderID,
		askExecutionID: b.askExecutionID,
		bidExecutionID: b.bidExecutionID,
	}
}

func (b *Book) tree(side Side) *btree.BTreeG[Order] {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order and returns its id. Ids are shared by both
// sides and strictly increase.
func (b *Book) Insert(owner ids.ShortID, side Side, base, priceX96 *big.Int) (uint64, error) {
	if base == nil || base.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if priceX96 == nil || priceX96.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	id := b.nextOrderID
	next, err := safemath.Add(id, 1)
	if err != nil {
		return 0, err
	}
	o := Order{
		ID:       id,
		Owner:    owner,
		Side:     side,
		PriceX96: safemath.Clone(priceX96),
		Base:     safemath.Clone(base),
	}
	b.tree(side).ReplaceOrInsert(o)
	b.orders.ReplaceOrInsert(o)
	b.nextOrderID = next
	return id, nil
}

// Order returns the order with the given id.
func (b *Book) Order(id uint64) (Order, bool) {
	return b.orders.Get(Order{ID: id})
}

// Cancel removes a resting order.
func (b *Book) Cancel(id uint64) (Order, error) {
	o, ok := b.Order(id)
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if o.Executed() {
		return Order{}, ErrAlreadyExecuted
	}
	b.tree(o.Side).Delete(o)
	b.orders.Delete(o)
	return o, nil
}

// Settle forgets an executed order once its owner has been credited.
func (b *Book) Settle(id uint64) (Order, error) {
	o, ok := b.Order(id)
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if !o.Executed() {
		return Order{}, ErrNotExecuted
	}
	b.orders.Delete(o)
	return o, nil
}

// Best returns the best resting order on side.
func (b *Book) Best(side Side) (Order, bool) {
	return b.tree(side).Min()
}

// Len returns the number of resting orders on side.
func (b *Book) Len(side Side) int {
	return b.tree(side).Len()
}

// Walk visits resting orders on side from the best price outward until fn
// returns false.
func (b *Book) Walk(side Side, fn func(Order) bool) {
	b.tree(side).Ascend(func(o Order) bool {
		return fn(o)
	})
}

// WithinBound reports whether an order at priceX96 on side may be taken by
// a trade bounded by boundX96. A nil bound admits every price.
func WithinBound(side Side, priceX96, boundX96 *big.Int) bool {
	if boundX96 == nil {
		return true
	}
	if side == Ask {
		return priceX96.Cmp(boundX96) <= 0
	}
	return priceX96.Cmp(boundX96) >= 0
}

// Level is the aggregated resting size at one price.
type Level struct {
	PriceX96 *big.Int `json:"priceX96"`
	Base     *big.Int `json:"base"`
	Orders   int      `json:"orders"`
}

// Depth returns up to limit aggregated levels on side, best first.
func (b *Book) Depth(side Side, limit int) []Level {
	var levels []Level
	b.Walk(side, func(o Order) bool {
		n := len(levels)
		if n > 0 && levels[n-1].PriceX96.Cmp(o.PriceX96) == 0 {
			levels[n-1].Base = safemath.Sum(levels[n-1].Base, o.Base)
			levels[n-1].Orders++
			return true
		}
		if limit > 0 && n == limit {
			return false
		}
		levels = append(levels, Level{PriceX96: o.PriceX96, Base: safemath.Clone(o.Base), Orders: 1})
		return true
	})
	return levels
}

// Fill is the part of one order taken by Consume.
type Fill struct {
	OrderID uint64      `json:"orderId"`
	Owner   ids.ShortID `json:"owner"`
	Base    *big.Int    `json:"base"`
	Quote   *big.Int    `json:"quote"`
	Partial bool        `json:"partial"`
}

// ConsumeResult summarises one Consume call.
type ConsumeResult struct {
	Base        *big.Int
	Quote       *big.Int
	ExecutionID uint64
	Fills       []Fill

	// LastFullyFilledID is the last order marked executed, zero if none.
	LastFullyFilledID uint64
	// PartialID is the order left partially filled, zero if none.
	PartialID        uint64
	PartialRemaining *big.Int
}

// Consume takes up to base from side, best price first, stopping at
// boundX96. Every fully filled order is stamped with one new execution id
// and at most one order is left partially filled.
func (b *Book) Consume(side Side, base, boundX96 *big.Int) (*ConsumeResult, error) {
	if base == nil || base.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	res := &ConsumeResult{
		Base:             new(big.Int),
		Quote:            new(big.Int),
		PartialRemaining: new(big.Int),
	}
	if base.Sign() == 0 {
		return res, nil
	}

	executionID := b.askExecutionID
	if side == Bid {
		executionID = b.bidExecutionID
	}
	executionID, err := safemath.Add(executionID, 1)
	if err != nil {
		return nil, err
	}

	remaining := safemath.Clone(base)
	tree := b.tree(side)
	for remaining.Sign() > 0 {
		o, ok := tree.Min()
		if !ok || !WithinBound(side, o.PriceX96, boundX96) {
			break
		}
		if remaining.Cmp(o.Base) >= 0 {
			quote := o.Quote(o.Base)
			tree.Delete(o)
			executed := o
			executed.ExecutionID = executionID
			b.orders.ReplaceOrInsert(executed)

			res.Fills = append(res.Fills, Fill{OrderID: o.ID, Owner: o.Owner, Base: o.Base, Quote: quote})
			res.Base.Add(res.Base, o.Base)
			res.Quote.Add(res.Quote, quote)
			res.LastFullyFilledID = o.ID
			remaining.Sub(remaining, o.Base)
			continue
		}

		quote := o.Quote(remaining)
		left := o
		left.Base = safemath.Diff(o.Base, remaining)
		tree.ReplaceOrInsert(left)
		b.orders.ReplaceOrInsert(left)

		res.Fills = append(res.Fills, Fill{OrderID: o.ID, Owner: o.Owner, Base: safemath.Clone(remaining), Quote: quote, Partial: true})
		res.Base.Add(res.Base, remaining)
		res.Quote.Add(res.Quote, quote)
		res.PartialID = o.ID
		res.PartialRemaining = safemath.Clone(left.Base)
		remaining.SetInt64(0)
	}

	if res.LastFullyFilledID != 0 {
		res.ExecutionID = executionID
		if side == Bid {
			b.bidExecutionID = executionID
		} else {
			b.askExecutionID = executionID
		}
	}
	return res, nil
}

// Snapshot is the serialisable form of a Book.
type Snapshot struct {
	NextOrderID    uint64  `json:"nextOrderId"`
	AskExecutionID uint64  `json:"askExecutionId"`
	BidExecutionID uint64  `json:"bidExecutionId"`
	Orders         []Order `json:"orders"`
}

// Snapshot returns every indexed order, resting or executed.
func (b *Book) Snapshot() Snapshot {
	s := Snapshot{
		NextOrderID:    b.nextOrderID,
		AskExecutionID: b.askExecutionID,
		BidExecutionID: b.bidExecutionID,
		Orders:         make([]Order, 0, b.orders.Len()),
	}
	b.orders.Ascend(func(o Order) bool {
		s.Orders = append(s.Orders, o)
		return true
	})
	return s
}

// FromSnapshot rebuilds a Book.
func FromSnapshot(s Snapshot) *Book {
	b := New()
	b.nextOrderID = max(s.NextOrderID, 1)
	b.askExecutionID = s.AskExecutionID
	b.bidExecutionID = s.BidExecutionID
	for _, o := range s.Orders {
		b.orders.ReplaceOrInsert(o)
		if !o.Executed() {
			b.tree(o.Side).ReplaceOrInsert(o)
		}
	}
	return b
}

func (b *Book) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

func (b *Book) UnmarshalJSON(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = *FromSnapshot(s)
	return nil
}
