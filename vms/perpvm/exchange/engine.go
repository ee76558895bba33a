// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package exchange implements the matching, margin and liquidation engine
// of the perpetual futures VM.
//
// Every operation runs to completion under a single writer lock against a
// copy-on-write overlay of the touched markets and accounts. The overlay is
// committed only when the operation succeeds, so a failed operation leaves
// no trace.
package exchange

import (
	"math/big"
	"slices"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/perpdex/utils/timer/mockable"
	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// NoDeadline never expires.
const NoDeadline = ^uint64(0)

// Engine is the single authoritative state machine of the exchange.
type Engine struct {
	mu      sync.RWMutex
	log     log.Logger
	metrics *engineMetrics
	clock   *mockable.Clock
	vault   custody.Vault

	cfg           config.Config
	markets       map[string]*Market
	accounts      map[ids.ShortID]*account.Account
	insuranceFund *big.Int
	protocolFee   *big.Int
}

// New returns an engine with no markets.
func New(
	cfg config.Config,
	vault custody.Vault,
	clock *mockable.Clock,
	logger log.Logger,
	registerer metric.Registerer,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Engine{
		log:           logger,
		metrics:       m,
		clock:         clock,
		vault:         vault,
		cfg:           cfg,
		markets:       make(map[string]*Market),
		accounts:      make(map[ids.ShortID]*account.Account),
		insuranceFund: new(big.Int),
		protocolFee:   new(big.Int),
	}, nil
}

// Config returns the current engine parameters.
func (e *Engine) Config() config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Markets returns the market symbols in sorted order.
func (e *Engine) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	symbols := make([]string, 0, len(e.markets))
	for s := range e.markets {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

// SetPriceFeeds wires the index price feeds of a market. A nil base feed
// runs the market without funding and price limits.
func (e *Engine) SetPriceFeeds(symbol string, base, quote oracle.PriceFeed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[symbol]
	if !ok {
		return ErrMarketNotFound
	}
	m.BaseFeed = base
	m.QuoteFeed = quote
	return nil
}

// InsuranceFund returns the insurance fund balance.
func (e *Engine) InsuranceFund() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return safemath.Clone(e.insuranceFund)
}

// ProtocolFee returns the accrued protocol fee balance.
func (e *Engine) ProtocolFee() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return safemath.Clone(e.protocolFee)
}

// now returns the current discrete time-step.
func (e *Engine) now() uint64 {
	return e.clock.Unix()
}

// run executes fn on a fresh overlay and commits it when fn succeeds.
func (e *Engine) run(op string, fn func(*overlay) error) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.begin()
	if err := fn(o); err != nil {
		e.metrics.numFailedOps.Inc()
		e.log.Debug("Operation rolled back",
			"op", op,
			"error", err,
		)
		return nil, err
	}
	o.commit()
	for _, ev := range o.events {
		if liq, ok := ev.(*Liquidated); ok {
			e.log.Debug("Account liquidated",
				"market", liq.Market,
				"trader", liq.Trader,
				"liquidator", liq.Liquidator,
				"base", liq.Base,
				"penalty", liq.Penalty,
				"reward", liq.Reward,
			)
		}
	}
	e.metrics.observe(o.events)
	e.metrics.setBalances(e.insuranceFund, e.protocolFee)
	return o.events, nil
}

// simulate executes fn on a fresh overlay and always discards it.
func (e *Engine) simulate(fn func(*overlay) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.begin())
}

func checkDeadline(now, deadline uint64) error {
	if now > deadline {
		return ErrDeadlineExceeded
	}
	return nil
}

func checkPositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return safemath.CheckAmount(amount)
}
