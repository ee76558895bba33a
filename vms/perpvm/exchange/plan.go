// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/perpdex/vms/perpvm/orderbook"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// PlanKind names the liquidity sources a trade draws from.
type PlanKind uint8

const (
	PlanNone PlanKind = iota
	PlanBookOnly
	PlanPoolOnly
	PlanSplit
)

func (k PlanKind) String() string {
	switch k {
	case PlanBookOnly:
		return "book_only"
	case PlanPoolOnly:
		return "pool_only"
	case PlanSplit:
		return "split"
	default:
		return "none"
	}
}

// plan is the split of one trade between the order book and the pool,
// computed against the state before the trade.
type plan struct {
	kind PlanKind
	// side of the book the trade consumes
	side orderbook.Side
	// bookBase is the base taken from resting orders.
	bookBase *big.Int
	// poolAmount is swapped through the pool, in the unit of the trade
	// amount.
	poolAmount *big.Int
	// bound stops the book walk; nil walks every order.
	bound *big.Int
}

// amountIsBase reports whether a trade amount is denominated in base.
func amountIsBase(isBaseToQuote, isExactInput bool) bool {
	return isBaseToQuote == isExactInput
}

// consumedSide returns the book side a trade takes from. Buying base takes
// asks, selling base takes bids.
func consumedSide(isBaseToQuote bool) orderbook.Side {
	if isBaseToQuote {
		return orderbook.Bid
	}
	return orderbook.Ask
}

// makePlan walks the book from the best price while the pool is filling
// the gaps between price levels. Resting orders execute first whenever
// their price is at least as good as the pool's marginal price; the pool
// amount needed to reach each level comes from the pool state before the
// trade, so the whole pool leg executes as a single swap.
//
// With partial set the pool leg stops at bound and the unfilled rest of
// amount is dropped.
func makePlan(m *Market, isBaseToQuote, isExactInput bool, amount, bound *big.Int, partial bool) *plan {
	var (
		side      = consumedSide(isBaseToQuote)
		inBase    = amountIsBase(isBaseToQuote, isExactInput)
		feeRatio  = m.feeRatio()
		remaining = safemath.Clone(amount)
		p         = &plan{
			side:       side,
			bookBase:   new(big.Int),
			poolAmount: new(big.Int),
			bound:      bound,
		}
	)

	m.Book.Walk(side, func(order orderbook.Order) bool {
		if !orderbook.WithinBound(side, order.PriceX96, bound) {
			return false
		}
		toLevel := m.Pool.MaxSwap(isBaseToQuote, isExactInput, feeRatio, order.PriceX96)
		if toLevel.Cmp(p.poolAmount) > 0 {
			delta := safemath.MinBig(safemath.Diff(toLevel, p.poolAmount), remaining)
			p.poolAmount.Add(p.poolAmount, delta)
			remaining.Sub(remaining, delta)
			if remaining.Sign() == 0 {
				return false
			}
		}

		size := order.Base
		if !inBase {
			size = order.Quote(order.Base)
		}
		if remaining.Cmp(size) >= 0 {
			p.bookBase.Add(p.bookBase, order.Base)
			remaining.Sub(remaining, size)
			return remaining.Sign() > 0
		}

		// the last order is taken partially; quote dust below one share
		// goes to the pool
		if inBase {
			p.bookBase.Add(p.bookBase, remaining)
			remaining.SetInt64(0)
			return false
		}
		base := safemath.MulDiv(remaining, safemath.Q96, order.PriceX96)
		p.bookBase.Add(p.bookBase, base)
		remaining.Sub(remaining, order.Quote(base))
		return false
	})

	if remaining.Sign() > 0 {
		tail := remaining
		if partial && bound != nil {
			limit := m.Pool.MaxSwap(isBaseToQuote, isExactInput, feeRatio, bound)
			tail = safemath.MaxBig(safemath.MinBig(remaining, safemath.Diff(limit, p.poolAmount)), new(big.Int))
		}
		p.poolAmount.Add(p.poolAmount, tail)
	}

	switch {
	case p.bookBase.Sign() > 0 && p.poolAmount.Sign() > 0:
		p.kind = PlanSplit
	case p.bookBase.Sign() > 0:
		p.kind = PlanBookOnly
	case p.poolAmount.Sign() > 0:
		p.kind = PlanPoolOnly
	default:
		p.kind = PlanNone
	}
	return p
}
