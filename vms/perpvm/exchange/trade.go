// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/orderbook"
	"github.com/luxfi/perpdex/vms/perpvm/pool"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var errPlanMismatch = errors.New("book consumption diverged from plan")

// TradeParams describes a taker trade.
type TradeParams struct {
	Trader ids.ShortID `json:"trader"`
	// Caller submits the trade. It differs from Trader only when
	// liquidating; the empty id means Trader.
	Caller        ids.ShortID `json:"caller"`
	Market        string      `json:"market"`
	IsBaseToQuote bool        `json:"isBaseToQuote"`
	IsExactInput  bool        `json:"isExactInput"`
	Amount        *big.Int    `json:"amount"`
	// OppositeAmountBound is the minimum received for exact input and the
	// maximum paid for exact output, net of the protocol fee. Nil disables
	// the check.
	OppositeAmountBound *big.Int `json:"oppositeAmountBound"`
	Deadline            uint64   `json:"deadline"`
}

func (p *TradeParams) caller() ids.ShortID {
	if p.Caller == ids.ShortEmpty {
		return p.Trader
	}
	return p.Caller
}

// TradeResult is the outcome of a trade.
type TradeResult struct {
	Plan PlanKind `json:"plan"`
	// Base and Quote are the signed changes of the taker position. Quote
	// excludes the protocol fee.
	Base           *big.Int `json:"base"`
	Quote          *big.Int `json:"quote"`
	OppositeAmount *big.Int `json:"oppositeAmount"`
	ProtocolFee    *big.Int `json:"protocolFee"`
	IsLiquidation  bool     `json:"isLiquidation"`
	Penalty        *big.Int `json:"penalty"`
	Reward         *big.Int `json:"reward"`
	SharePriceX96  *big.Int `json:"sharePriceX96"`
}

// execution is what one pass of the matching algorithm produced.
type execution struct {
	plan       *plan
	consumed   *orderbook.ConsumeResult
	totalBase  *big.Int
	totalQuote *big.Int
	poolBase   *big.Int
}

// Trade executes a taker trade. When the trader is below maintenance margin
// the trade is a liquidation and may be submitted by any caller.
func (e *Engine) Trade(p TradeParams) (*TradeResult, []Event, error) {
	var res *TradeResult
	events, err := e.run("trade", func(o *overlay) error {
		var err error
		res, err = o.trade(p)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, events, nil
}

// PreviewTrade returns what Trade would do without changing any state.
func (e *Engine) PreviewTrade(p TradeParams) (*TradeResult, error) {
	var res *TradeResult
	err := e.simulate(func(o *overlay) error {
		var err error
		res, err = o.trade(p)
		return err
	})
	return res, err
}

// MaxTrade returns the largest amount for which Trade with the other
// parameters of p succeeds, or zero if none does. The slippage bound and
// deadline of p are ignored.
func (e *Engine) MaxTrade(p TradeParams) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.markets[p.Market]; !ok {
		return nil, ErrMarketNotFound
	}
	p.OppositeAmountBound = nil
	p.Deadline = NoDeadline
	accepts := func(amount *big.Int) bool {
		p.Amount = amount
		_, err := e.begin().trade(p)
		return err == nil
	}

	one := big.NewInt(1)
	if !accepts(one) {
		return new(big.Int), nil
	}
	lo, hi := one, big.NewInt(2)
	for accepts(hi) {
		if hi.Cmp(safemath.MaxAmount) == 0 {
			return hi, nil
		}
		lo = hi
		hi = safemath.MinBig(new(big.Int).Lsh(hi, 1), safemath.MaxAmount)
	}
	// accepts(lo) && !accepts(hi)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		if accepts(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return safemath.Clone(lo), nil
}

func (o *overlay) trade(p TradeParams) (*TradeResult, error) {
	if err := checkPositive(p.Amount); err != nil {
		return nil, err
	}
	if err := checkDeadline(o.now, p.Deadline); err != nil {
		return nil, err
	}
	m, err := o.openMarket(p.Market)
	if err != nil {
		return nil, err
	}
	caller := p.caller()
	trader := o.account(p.Trader)
	if err := o.settle(trader); err != nil {
		return nil, err
	}
	if err := o.prepare(m); err != nil {
		return nil, err
	}

	healthy, err := o.hasEnoughMaintenanceMargin(trader)
	if err != nil {
		return nil, err
	}
	isLiquidation := !healthy
	if caller != p.Trader && !isLiquidation {
		return nil, ErrNotLiquidatable
	}
	if isLiquidation {
		if err := checkLiquidatable(trader, p.Market, consumedSide(p.IsBaseToQuote)); err != nil {
			return nil, err
		}
	}

	shareBefore := safemath.Clone(trader.Position(p.Market).Taker.BaseBalanceShare)
	bound := m.priceBound(p.IsBaseToQuote, isLiquidation)
	x, err := o.execute(m, trader, p.IsBaseToQuote, p.IsExactInput, p.Amount, bound, false, isLiquidation)
	if err != nil {
		return nil, err
	}

	base, quote, protocolFee := o.creditTaker(trader, p.Market, p.IsBaseToQuote, x)

	opposite := x.totalBase
	if amountIsBase(p.IsBaseToQuote, p.IsExactInput) {
		opposite = safemath.Diff(x.totalQuote, protocolFee)
		if !p.IsBaseToQuote {
			opposite = safemath.Sum(x.totalQuote, protocolFee)
		}
	}
	if err := checkSlippage(p.IsExactInput, opposite, p.OppositeAmountBound); err != nil {
		return nil, err
	}

	res := &TradeResult{
		Plan:           x.plan.kind,
		Base:           base,
		Quote:          quote,
		OppositeAmount: opposite,
		ProtocolFee:    protocolFee,
		IsLiquidation:  isLiquidation,
		Penalty:        new(big.Int),
		Reward:         new(big.Int),
		SharePriceX96:  m.Pool.SharePriceX96(),
	}

	shareAfter := trader.Position(p.Market).Taker.BaseBalanceShare
	if isLiquidation {
		if !isReducing(shareBefore, shareAfter) {
			return nil, ErrOpenNotAllowed
		}
		if err := o.liquidate(caller, trader, p.Market, x, res); err != nil {
			return nil, err
		}
	} else if isOpening(shareBefore, shareAfter) {
		if err := o.requireInitialMargin(trader); err != nil {
			return nil, err
		}
	} else if err := o.requireMaintenanceMargin(trader); err != nil {
		return nil, err
	}
	if err := trader.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return nil, err
	}

	o.emitTraded(p.Trader, m, p.IsBaseToQuote, p.IsExactInput, x, base, quote, protocolFee)
	return res, nil
}

// creditTaker books an execution on the taker position, net of the
// protocol fee, and returns the signed base and quote changes and the fee.
func (o *overlay) creditTaker(trader *account.Account, market string, isBaseToQuote bool, x *execution) (*big.Int, *big.Int, *big.Int) {
	protocolFee := safemath.MulRatioRoundingUp(x.totalQuote, o.cfg.ProtocolFeeRatio)
	base, quote := x.totalBase, safemath.Neg(x.totalQuote)
	if isBaseToQuote {
		base, quote = safemath.Neg(x.totalBase), x.totalQuote
	}
	trader.AddToTakerBalance(market, base, safemath.Diff(quote, protocolFee))
	o.protocolFee = safemath.Sum(o.protocolFee, protocolFee)
	return base, quote, protocolFee
}

func (o *overlay) emitTraded(trader ids.ShortID, m *Market, isBaseToQuote, isExactInput bool, x *execution, base, quote, protocolFee *big.Int) {
	o.emit(&Traded{
		Trader:        trader,
		Market:        m.Symbol,
		IsBaseToQuote: isBaseToQuote,
		IsExactInput:  isExactInput,
		Plan:          x.plan.kind.String(),
		Base:          base,
		Quote:         quote,
		BookBase:      x.consumed.Base,
		PoolBase:      x.poolBase,
		ProtocolFee:   protocolFee,
		SharePriceX96: m.Pool.SharePriceX96(),
		ExecutionID:   x.consumed.ExecutionID,
	})
}

// execute runs the planned trade against the book and the pool and credits
// partially filled makers. The taker position is left to the caller.
func (o *overlay) execute(
	m *Market,
	trader *account.Account,
	isBaseToQuote, isExactInput bool,
	amount, bound *big.Int,
	partial, isLiquidation bool,
) (*execution, error) {
	prevPrice := m.Pool.SharePriceX96()
	feeRatio := m.feeRatio()
	pl := makePlan(m, isBaseToQuote, isExactInput, amount, bound, partial)

	consumed, err := m.Book.Consume(pl.side, pl.bookBase, pl.bound)
	if err != nil {
		return nil, err
	}
	if consumed.Base.Cmp(pl.bookBase) != 0 {
		return nil, fmt.Errorf("%w: planned %s, consumed %s", errPlanMismatch, pl.bookBase, consumed.Base)
	}

	poolBase, poolQuote := new(big.Int), new(big.Int)
	if pl.poolAmount.Sign() > 0 {
		opposite, err := m.Pool.Swap(pool.SwapParams{
			IsBaseToQuote: isBaseToQuote,
			IsExactInput:  isExactInput,
			Amount:        pl.poolAmount,
			FeeRatio:      feeRatio,
		})
		if err != nil {
			return nil, err
		}
		poolBase, poolQuote = opposite, safemath.Clone(pl.poolAmount)
		if amountIsBase(isBaseToQuote, isExactInput) {
			poolBase, poolQuote = safemath.Clone(pl.poolAmount), opposite
		}
		m.Fee.Update(m.Config.PoolFee, prevPrice, m.Pool.SharePriceX96(), o.now)
		if err := m.checkPriceLimit(isLiquidation); err != nil {
			return nil, err
		}
	}

	isBid := pl.side == orderbook.Bid
	for _, f := range consumed.Fills {
		o.emit(&OrderFilled{
			Market:  m.Symbol,
			OrderID: f.OrderID,
			Owner:   f.Owner,
			IsBid:   isBid,
			Base:    f.Base,
			Quote:   f.Quote,
			Partial: f.Partial,
		})
		if !f.Partial {
			// fully filled orders are credited on settlement
			continue
		}
		maker := trader
		if f.Owner != trader.ID {
			maker = o.account(f.Owner)
		}
		if isBid {
			maker.AddToTakerBalance(m.Symbol, f.Base, safemath.Neg(f.Quote))
		} else {
			maker.AddToTakerBalance(m.Symbol, safemath.Neg(f.Base), f.Quote)
		}
		maker.ReduceOrderBase(m.Symbol, isBid, f.Base)
	}

	return &execution{
		plan:       pl,
		consumed:   consumed,
		totalBase:  safemath.Sum(consumed.Base, poolBase),
		totalQuote: safemath.Sum(consumed.Quote, poolQuote),
		poolBase:   poolBase,
	}, nil
}

// checkLiquidatable rejects liquidating a position that still has liquidity
// in the pool or resting orders the trade could fill.
func checkLiquidatable(a *account.Account, market string, side orderbook.Side) error {
	pos, ok := a.Peek(market)
	if !ok {
		return ErrOpenNotAllowed
	}
	if pos.Maker.Liquidity.Sign() != 0 {
		return ErrLiquidationWithMakerPosition
	}
	if len(a.OrderIDs(market, side == orderbook.Bid)) != 0 {
		return ErrLiquidationWithOrders
	}
	return nil
}

// liquidate charges the penalty of a liquidation trade and covers any bad
// debt left on an emptied account.
func (o *overlay) liquidate(caller ids.ShortID, trader *account.Account, market string, x *execution, res *TradeResult) error {
	penalty := safemath.MulRatioRoundingUp(x.totalQuote, o.cfg.MmRatio)
	reward := safemath.MulRatio(penalty, o.cfg.LiquidationRewardRatio)
	toInsurance := safemath.Diff(penalty, reward)

	trader.Collateral = safemath.Diff(trader.Collateral, penalty)
	liquidator := o.account(caller)
	liquidator.Collateral = safemath.Sum(liquidator.Collateral, reward)
	o.insuranceFund = safemath.Sum(o.insuranceFund, toInsurance)

	res.Penalty = penalty
	res.Reward = reward
	o.emit(&Liquidated{
		Liquidator:    caller,
		Trader:        trader.ID,
		Market:        market,
		Base:          res.Base,
		Quote:         res.Quote,
		Penalty:       penalty,
		Reward:        reward,
		InsuranceFund: toInsurance,
	})

	if err := trader.Sync(o.cfg.MaxMarketsPerAccount); err != nil {
		return err
	}
	if trader.IsEmpty() {
		o.coverFromInsurance(trader)
	}
	return nil
}

// isReducing reports whether after is strictly smaller than before without
// crossing zero.
func isReducing(before, after *big.Int) bool {
	if before.Sign() == 0 {
		return false
	}
	if after.Sign() != 0 && after.Sign() != before.Sign() {
		return false
	}
	return after.CmpAbs(before) < 0
}

// isOpening reports whether a position grew or flipped.
func isOpening(before, after *big.Int) bool {
	if after.Sign() == 0 {
		return false
	}
	return before.Sign() != after.Sign() || after.CmpAbs(before) > 0
}

func checkSlippage(isExactInput bool, opposite, bound *big.Int) error {
	if bound == nil {
		return nil
	}
	if isExactInput && opposite.Cmp(bound) < 0 {
		return ErrSlippageExceeded
	}
	if !isExactInput && opposite.Cmp(bound) > 0 {
		return ErrSlippageExceeded
	}
	return nil
}
