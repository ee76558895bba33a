// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"
)

func (o *overlay) requireOwner(caller ids.ShortID) error {
	if caller != o.cfg.Owner {
		return ErrNotOwner
	}
	return nil
}

// AddMarket registers a market in the NotAllowed state.
func (e *Engine) AddMarket(caller ids.ShortID, symbol string, cfg config.MarketConfig, base, quote oracle.PriceFeed) ([]Event, error) {
	return e.run("add_market", func(o *overlay) error {
		if err := o.requireOwner(caller); err != nil {
			return err
		}
		if symbol == "" {
			return fmt.Errorf("%w: empty market symbol", ErrInvalidConfig)
		}
		if _, ok := e.markets[symbol]; ok {
			return ErrMarketExists
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		m := newMarket(symbol, cfg)
		m.BaseFeed = base
		m.QuoteFeed = quote
		o.markets[symbol] = m
		o.emit(&MarketAdded{Market: symbol})
		e.log.Info("Market added",
			"market", symbol,
		)
		return nil
	})
}

// SetMarketStatus moves a market along NotAllowed -> Open -> Closed.
func (e *Engine) SetMarketStatus(caller ids.ShortID, symbol string, status MarketStatus) ([]Event, error) {
	return e.run("set_market_status", func(o *overlay) error {
		if err := o.requireOwner(caller); err != nil {
			return err
		}
		m, err := o.market(symbol)
		if err != nil {
			return err
		}
		if !m.Status.canTransition(status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidMarketStatusTransition, m.Status, status)
		}
		m.Status = status
		o.emit(&MarketStatusChanged{Market: symbol, Status: status})
		e.log.Info("Market status changed",
			"market", symbol,
			"status", status.String(),
		)
		return nil
	})
}

// SetMarginRatios updates the initial and maintenance margin ratios.
func (e *Engine) SetMarginRatios(caller ids.ShortID, imRatio, mmRatio uint32) ([]Event, error) {
	return e.run("set_margin_ratios", func(o *overlay) error {
		if err := o.requireOwner(caller); err != nil {
			return err
		}
		if err := config.ValidateMarginRatios(imRatio, mmRatio); err != nil {
			return err
		}
		o.cfg.ImRatio = imRatio
		o.cfg.MmRatio = mmRatio
		o.emit(&ParameterUpdated{Name: "imRatio", Value: imRatio})
		o.emit(&ParameterUpdated{Name: "mmRatio", Value: mmRatio})
		return nil
	})
}

// SetLiquidationRewardRatio updates the liquidator's share of the penalty.
func (e *Engine) SetLiquidationRewardRatio(caller ids.ShortID, ratio uint32) ([]Event, error) {
	return e.setParameter(caller, "liquidationRewardRatio", ratio, func(c *config.Config) {
		c.LiquidationRewardRatio = ratio
	})
}

// SetProtocolFeeRatio updates the protocol fee ratio.
func (e *Engine) SetProtocolFeeRatio(caller ids.ShortID, ratio uint32) ([]Event, error) {
	return e.setParameter(caller, "protocolFeeRatio", ratio, func(c *config.Config) {
		c.ProtocolFeeRatio = ratio
	})
}

// SetMaxMarketsPerAccount updates the active market limit.
func (e *Engine) SetMaxMarketsPerAccount(caller ids.ShortID, limit uint32) ([]Event, error) {
	return e.setParameter(caller, "maxMarketsPerAccount", limit, func(c *config.Config) {
		c.MaxMarketsPerAccount = limit
	})
}

// SetMaxOrdersPerAccount updates the resting order limit.
func (e *Engine) SetMaxOrdersPerAccount(caller ids.ShortID, limit uint32) ([]Event, error) {
	return e.setParameter(caller, "maxOrdersPerAccount", limit, func(c *config.Config) {
		c.MaxOrdersPerAccount = limit
	})
}

func (e *Engine) setParameter(caller ids.ShortID, name string, value uint32, set func(*config.Config)) ([]Event, error) {
	return e.run("set_"+name, func(o *overlay) error {
		if err := o.requireOwner(caller); err != nil {
			return err
		}
		cfg := o.cfg
		set(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.cfg = cfg
		o.emit(&ParameterUpdated{Name: name, Value: value})
		return nil
	})
}
