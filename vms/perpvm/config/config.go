// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the perpetual futures VM.
package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/fee"
	"github.com/luxfi/perpdex/vms/perpvm/funding"
	"github.com/luxfi/perpdex/vms/perpvm/pricelimit"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// MaxProtocolFeeRatio caps the protocol fee at 10%.
const MaxProtocolFeeRatio = 100_000

var ErrInvalidConfig = errors.New("invalid config")

// Config contains the engine-wide risk parameters.
type Config struct {
	// Owner may change parameters, market status and withdraw protocol fees.
	Owner ids.ShortID `json:"owner"`

	// Margin ratios in 1e6 units. 0 < MmRatio <= ImRatio <= 1e6.
	ImRatio uint32 `json:"imRatio"`
	MmRatio uint32 `json:"mmRatio"`

	// LiquidationRewardRatio is the liquidator's share of the penalty; the
	// rest goes to the insurance fund.
	LiquidationRewardRatio uint32 `json:"liquidationRewardRatio"`
	// ProtocolFeeRatio is skimmed from the quote leg of every trade.
	ProtocolFeeRatio uint32 `json:"protocolFeeRatio"`

	MaxMarketsPerAccount uint32 `json:"maxMarketsPerAccount"`
	MaxOrdersPerAccount  uint32 `json:"maxOrdersPerAccount"`

	// MaxTxsPerBlock bounds the number of txs applied per block.
	MaxTxsPerBlock uint32 `json:"maxTxsPerBlock"`
}

// MarketConfig contains the per-market controller parameters.
type MarketConfig struct {
	PoolFee    fee.Config        `json:"poolFee"`
	Funding    funding.Config    `json:"funding"`
	PriceLimit pricelimit.Config `json:"priceLimit"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ImRatio:                100_000, // 10%
		MmRatio:                50_000,  // 5%
		LiquidationRewardRatio: 200_000, // 20%
		ProtocolFeeRatio:       0,

		MaxMarketsPerAccount: 16,
		MaxOrdersPerAccount:  40,

		MaxTxsPerBlock: 10_000,
	}
}

// DefaultMarketConfig returns the default controller parameters.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		PoolFee: fee.Config{
			FixedFeeRatio: 0,
			AtrFeeRatio:   4_000_000,
			AtrEmaBlocks:  16,
		},
		Funding: funding.Config{
			MaxPremiumRatio: 10_000, // 1%
			RolloverSec:     3_600,
			MaxElapsedSec:   86_400,
		},
		PriceLimit: pricelimit.Config{
			NormalOrderRatio:    50_000,  // 5%
			LiquidationRatio:    100_000, // 10%
			EmaNormalOrderRatio: 200_000, // 20%
			EmaLiquidationRatio: 250_000, // 25%
			EmaSec:              300,
		},
	}
}

// ValidateMarginRatios checks 0 < mm <= im <= 1e6.
func ValidateMarginRatios(imRatio, mmRatio uint32) error {
	if mmRatio == 0 || mmRatio > imRatio || imRatio > safemath.RatioOne {
		return fmt.Errorf("%w: margin ratios im=%d mm=%d", ErrInvalidConfig, imRatio, mmRatio)
	}
	return nil
}

// Validate returns ErrInvalidConfig describing the first violated bound.
func (c Config) Validate() error {
	if err := ValidateMarginRatios(c.ImRatio, c.MmRatio); err != nil {
		return err
	}
	switch {
	case c.LiquidationRewardRatio > safemath.RatioOne:
		return fmt.Errorf("%w: liquidation reward ratio %d", ErrInvalidConfig, c.LiquidationRewardRatio)
	case c.ProtocolFeeRatio > MaxProtocolFeeRatio:
		return fmt.Errorf("%w: protocol fee ratio %d", ErrInvalidConfig, c.ProtocolFeeRatio)
	case c.MaxMarketsPerAccount == 0:
		return fmt.Errorf("%w: max markets per account is zero", ErrInvalidConfig)
	case c.MaxOrdersPerAccount == 0:
		return fmt.Errorf("%w: max orders per account is zero", ErrInvalidConfig)
	}
	return nil
}

// Validate returns ErrInvalidConfig describing the first violated bound.
func (c MarketConfig) Validate() error {
	pl := c.PriceLimit
	switch {
	case pl.NormalOrderRatio == 0 || pl.NormalOrderRatio > pl.LiquidationRatio:
		return fmt.Errorf("%w: price limit ratios normal=%d liquidation=%d", ErrInvalidConfig, pl.NormalOrderRatio, pl.LiquidationRatio)
	case pl.EmaNormalOrderRatio == 0 || pl.EmaNormalOrderRatio > pl.EmaLiquidationRatio:
		return fmt.Errorf("%w: ema price limit ratios normal=%d liquidation=%d", ErrInvalidConfig, pl.EmaNormalOrderRatio, pl.EmaLiquidationRatio)
	case pl.LiquidationRatio >= safemath.RatioOne || pl.EmaLiquidationRatio >= safemath.RatioOne:
		return fmt.Errorf("%w: price limit ratio must be below 100%%", ErrInvalidConfig)
	case c.PoolFee.FixedFeeRatio >= pl.NormalOrderRatio/2 && c.PoolFee.FixedFeeRatio != 0:
		return fmt.Errorf("%w: fixed fee ratio %d exceeds half the price limit", ErrInvalidConfig, c.PoolFee.FixedFeeRatio)
	case c.PoolFee.AtrEmaBlocks == 0:
		return fmt.Errorf("%w: atr ema blocks is zero", ErrInvalidConfig)
	case c.Funding.MaxPremiumRatio > safemath.RatioOne:
		return fmt.Errorf("%w: max premium ratio %d", ErrInvalidConfig, c.Funding.MaxPremiumRatio)
	case c.Funding.MaxElapsedSec == 0:
		return fmt.Errorf("%w: max elapsed seconds is zero", ErrInvalidConfig)
	}
	return nil
}

// VMConfig contains node-local options read from the chain config bytes.
// They do not affect consensus.
type VMConfig struct {
	// MaxOrderBookDepth caps the number of price levels an API call returns.
	MaxOrderBookDepth int `json:"maxOrderBookDepth"`
	// MaxTradeSearch disables the maxTrade API when false.
	MaxTradeSearch bool `json:"maxTradeSearch"`
}

// DefaultVMConfig returns the default node-local options.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		MaxOrderBookDepth: 100,
		MaxTradeSearch:    true,
	}
}

// Validate returns ErrInvalidConfig describing the first violated bound.
func (c VMConfig) Validate() error {
	if c.MaxOrderBookDepth <= 0 {
		return fmt.Errorf("%w: max order book depth %d", ErrInvalidConfig, c.MaxOrderBookDepth)
	}
	return nil
}

// ParseVMConfig decodes b over DefaultVMConfig and validates the result.
func ParseVMConfig(b []byte) (VMConfig, error) {
	c := DefaultVMConfig()
	if len(b) > 0 {
		if err := json.Unmarshal(b, &c); err != nil {
			return VMConfig{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return c, c.Validate()
}
