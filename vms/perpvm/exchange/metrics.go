// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/metric"
)

type engineMetrics struct {
	numTrades         metric.Counter
	numLiquidations   metric.Counter
	numOrdersCreated  metric.Counter
	numOrdersCanceled metric.Counter
	numOrdersSettled  metric.Counter
	numFundingRebases metric.Counter
	numFailedOps      metric.Counter
	insuranceFund     metric.Gauge
	protocolFee       metric.Gauge
}

func newMetrics(registerer metric.Registerer) (*engineMetrics, error) {
	m := &engineMetrics{
		numTrades: metric.NewCounter(metric.CounterOpts{
			Name: "trades",
			Help: "Number of executed taker trades",
		}),
		numLiquidations: metric.NewCounter(metric.CounterOpts{
			Name: "liquidations",
			Help: "Number of liquidation trades",
		}),
		numOrdersCreated: metric.NewCounter(metric.CounterOpts{
			Name: "limit_orders_created",
			Help: "Number of limit orders placed on the book",
		}),
		numOrdersCanceled: metric.NewCounter(metric.CounterOpts{
			Name: "limit_orders_canceled",
			Help: "Number of limit orders canceled",
		}),
		numOrdersSettled: metric.NewCounter(metric.CounterOpts{
			Name: "limit_orders_settled",
			Help: "Number of executed limit orders settled",
		}),
		numFundingRebases: metric.NewCounter(metric.CounterOpts{
			Name: "funding_rebases",
			Help: "Number of funding rebases applied",
		}),
		numFailedOps: metric.NewCounter(metric.CounterOpts{
			Name: "failed_operations",
			Help: "Number of operations rolled back",
		}),
		insuranceFund: metric.NewGauge(metric.GaugeOpts{
			Name: "insurance_fund",
			Help: "Insurance fund balance",
		}),
		protocolFee: metric.NewGauge(metric.GaugeOpts{
			Name: "protocol_fee",
			Help: "Accrued protocol fee balance",
		}),
	}

	for _, c := range []metric.Counter{
		m.numTrades,
		m.numLiquidations,
		m.numOrdersCreated,
		m.numOrdersCanceled,
		m.numOrdersSettled,
		m.numFundingRebases,
		m.numFailedOps,
	} {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	if err := registerer.Register(metric.AsCollector(m.insuranceFund)); err != nil {
		return nil, err
	}
	if err := registerer.Register(metric.AsCollector(m.protocolFee)); err != nil {
		return nil, err
	}
	return m, nil
}

// observe counts the events of a committed operation.
func (m *engineMetrics) observe(events []Event) {
	for _, ev := range events {
		switch ev.(type) {
		case *Traded:
			m.numTrades.Inc()
		case *Liquidated:
			m.numLiquidations.Inc()
		case *LimitOrderCreated:
			m.numOrdersCreated.Inc()
		case *LimitOrderCanceled:
			m.numOrdersCanceled.Inc()
		case *LimitOrderSettled:
			m.numOrdersSettled.Inc()
		case *FundingPaid:
			m.numFundingRebases.Inc()
		}
	}
}

func (m *engineMetrics) setBalances(insuranceFund, protocolFee *big.Int) {
	f, _ := new(big.Float).SetInt(insuranceFund).Float64()
	m.insuranceFund.Set(f)
	f, _ = new(big.Float).SetInt(protocolFee).Float64()
	m.protocolFee.Set(f)
}
