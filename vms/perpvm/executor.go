// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpvm

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/txs"
)

var (
	_ txs.Visitor    = (*executor)(nil)
	_ exchange.Event = (*IndexPriceUpdated)(nil)
)

// IndexPriceUpdated reports a new observation of a market's TWAP feed.
type IndexPriceUpdated struct {
	Market    string   `json:"market"`
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

func (*IndexPriceUpdated) Type() string { return "index_price_updated" }

// executor applies one tx to the engine. The sender of the tx is the
// caller of every engine operation.
type executor struct {
	vm     *VM
	events []exchange.Event
}

func (e *executor) record(events []exchange.Event, err error) error {
	if err != nil {
		return err
	}
	e.events = append(e.events, events...)
	return nil
}

func orSender(trader, sender ids.ShortID) ids.ShortID {
	if trader == ids.ShortEmpty {
		return sender
	}
	return trader
}

func (e *executor) DepositTx(tx *txs.DepositTx) error {
	return e.record(e.vm.engine.Deposit(tx.From, tx.Amount))
}

func (e *executor) WithdrawTx(tx *txs.WithdrawTx) error {
	return e.record(e.vm.engine.Withdraw(tx.From, tx.Amount))
}

func (e *executor) DonateInsuranceFundTx(tx *txs.DonateInsuranceFundTx) error {
	return e.record(e.vm.engine.DonateInsuranceFund(tx.From, tx.Amount))
}

func (e *executor) TransferProtocolFeeTx(tx *txs.TransferProtocolFeeTx) error {
	return e.record(e.vm.engine.TransferProtocolFee(tx.From, tx.To, tx.Amount))
}

func (e *executor) TradeTx(tx *txs.TradeTx) error {
	p := tx.Params
	p.Caller = tx.From
	p.Trader = orSender(p.Trader, tx.From)
	_, events, err := e.vm.engine.Trade(p)
	return e.record(events, err)
}

func (e *executor) AddLiquidityTx(tx *txs.AddLiquidityTx) error {
	p := tx.Params
	p.Trader = tx.From
	_, events, err := e.vm.engine.AddLiquidity(p)
	return e.record(events, err)
}

func (e *executor) RemoveLiquidityTx(tx *txs.RemoveLiquidityTx) error {
	p := tx.Params
	p.Caller = tx.From
	p.Trader = orSender(p.Trader, tx.From)
	_, events, err := e.vm.engine.RemoveLiquidity(p)
	return e.record(events, err)
}

func (e *executor) CreateLimitOrderTx(tx *txs.CreateLimitOrderTx) error {
	p := tx.Params
	p.Trader = tx.From
	_, events, err := e.vm.engine.CreateLimitOrder(p)
	return e.record(events, err)
}

func (e *executor) CancelLimitOrderTx(tx *txs.CancelLimitOrderTx) error {
	trader := orSender(tx.Trader, tx.From)
	return e.record(e.vm.engine.CancelLimitOrder(tx.From, trader, tx.Market, tx.OrderID, tx.Deadline))
}

func (e *executor) SettleLimitOrdersTx(tx *txs.SettleLimitOrdersTx) error {
	return e.record(e.vm.engine.SettleLimitOrders(orSender(tx.Trader, tx.From)))
}

func (e *executor) CloseMarketTx(tx *txs.CloseMarketTx) error {
	return e.record(e.vm.engine.CloseMarket(tx.From, tx.Market))
}

func (e *executor) AddMarketTx(tx *txs.AddMarketTx) error {
	return e.record(e.vm.addMarket(tx.From, tx.Symbol, tx.Config, tx.OracleWindowSec, tx.OracleDecimals))
}

func (e *executor) SetMarketStatusTx(tx *txs.SetMarketStatusTx) error {
	return e.record(e.vm.engine.SetMarketStatus(tx.From, tx.Market, tx.Status))
}

func (e *executor) SetMarginRatiosTx(tx *txs.SetMarginRatiosTx) error {
	return e.record(e.vm.engine.SetMarginRatios(tx.From, tx.ImRatio, tx.MmRatio))
}

func (e *executor) SetLiquidationRewardRatioTx(tx *txs.SetLiquidationRewardRatioTx) error {
	return e.record(e.vm.engine.SetLiquidationRewardRatio(tx.From, tx.Ratio))
}

func (e *executor) SetProtocolFeeRatioTx(tx *txs.SetProtocolFeeRatioTx) error {
	return e.record(e.vm.engine.SetProtocolFeeRatio(tx.From, tx.Ratio))
}

func (e *executor) SetMaxMarketsPerAccountTx(tx *txs.SetMaxMarketsPerAccountTx) error {
	return e.record(e.vm.engine.SetMaxMarketsPerAccount(tx.From, tx.Limit))
}

func (e *executor) SetMaxOrdersPerAccountTx(tx *txs.SetMaxOrdersPerAccountTx) error {
	return e.record(e.vm.engine.SetMaxOrdersPerAccount(tx.From, tx.Limit))
}

// UpdateIndexPriceTx records an index observation at the block time. Only
// the owner publishes prices.
func (e *executor) UpdateIndexPriceTx(tx *txs.UpdateIndexPriceTx) error {
	if tx.From != e.vm.engine.Config().Owner {
		return exchange.ErrNotOwner
	}
	feed, ok := e.vm.feeds[tx.Market]
	if !ok {
		return errNoIndexFeed
	}
	if tx.Price == nil || tx.Price.Sign() <= 0 {
		return exchange.ErrInvalidPrice
	}

	now := e.vm.clock.Unix()
	feed.Record(tx.Price, now)
	e.events = append(e.events, &IndexPriceUpdated{
		Market:    tx.Market,
		Price:     new(big.Int).Set(tx.Price),
		Timestamp: now,
	})
	return nil
}
