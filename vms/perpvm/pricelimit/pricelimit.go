// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pricelimit bounds how far a single time-step may move a market's
// pool price.
package pricelimit

import (
	"errors"
	"math/big"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var ErrPriceLimitExceeded = errors.New("price limit exceeded")

// Config holds the allowed deviation ratios.
type Config struct {
	NormalOrderRatio    uint32 `json:"normalOrderRatio"`
	LiquidationRatio    uint32 `json:"liquidationRatio"`
	EmaNormalOrderRatio uint32 `json:"emaNormalOrderRatio"`
	EmaLiquidationRatio uint32 `json:"emaLiquidationRatio"`
	EmaSec              uint64 `json:"emaSec"`
}

// State is the latched reference of one market.
type State struct {
	ReferenceTimestamp uint64   `json:"referenceTimestamp"`
	ReferencePriceX96  *big.Int `json:"referencePriceX96"`
	EmaPriceX96        *big.Int `json:"emaPriceX96"`
}

// NewState returns a state with no reference.
func NewState() *State {
	return &State{
		ReferencePriceX96: new(big.Int),
		EmaPriceX96:       new(big.Int),
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return &State{
		ReferenceTimestamp: s.ReferenceTimestamp,
		ReferencePriceX96:  safemath.Clone(s.ReferencePriceX96),
		EmaPriceX96:        safemath.Clone(s.EmaPriceX96),
	}
}

// Update latches priceX96 as the reference for the step starting at now.
// Later calls within the same step are ignored.
func (s *State) Update(cfg Config, priceX96 *big.Int, now uint64) {
	if priceX96.Sign() <= 0 {
		return
	}
	if s.ReferencePriceX96.Sign() > 0 && now <= s.ReferenceTimestamp {
		return
	}

	if s.EmaPriceX96.Sign() == 0 {
		s.EmaPriceX96 = safemath.Clone(priceX96)
	} else {
		elapsed := new(big.Int).SetUint64(now - s.ReferenceTimestamp)
		emaSec := new(big.Int).SetUint64(cfg.EmaSec)
		num := new(big.Int).Mul(s.EmaPriceX96, emaSec)
		num.Add(num, new(big.Int).Mul(priceX96, elapsed))
		s.EmaPriceX96 = num.Div(num, new(big.Int).Add(emaSec, elapsed))
	}
	s.ReferencePriceX96 = safemath.Clone(priceX96)
	s.ReferenceTimestamp = now
}

// Bounds returns the inclusive [lower, upper] price range allowed at the end
// of a trade. Without a reference the range is unbounded and both are nil.
func (s *State) Bounds(cfg Config, isLiquidation bool) (*big.Int, *big.Int) {
	if s.ReferencePriceX96.Sign() == 0 {
		return nil, nil
	}
	ratio, emaRatio := cfg.NormalOrderRatio, cfg.EmaNormalOrderRatio
	if isLiquidation {
		ratio, emaRatio = cfg.LiquidationRatio, cfg.EmaLiquidationRatio
	}
	upper := safemath.MinBig(
		safemath.ScaleRatio(s.ReferencePriceX96, ratio, true),
		safemath.ScaleRatio(s.EmaPriceX96, emaRatio, true),
	)
	lower := safemath.MaxBig(
		safemath.ScaleRatio(s.ReferencePriceX96, ratio, false),
		safemath.ScaleRatio(s.EmaPriceX96, emaRatio, false),
	)
	return lower, upper
}

// PriceBound returns the furthest price a trade in the given direction may
// reach. Selling base lowers the price, so the lower bound applies.
func (s *State) PriceBound(cfg Config, isBaseToQuote, isLiquidation bool) *big.Int {
	lower, upper := s.Bounds(cfg, isLiquidation)
	if isBaseToQuote {
		return lower
	}
	return upper
}

// Check returns ErrPriceLimitExceeded when priceX96 is outside Bounds.
func (s *State) Check(cfg Config, priceX96 *big.Int, isLiquidation bool) error {
	lower, upper := s.Bounds(cfg, isLiquidation)
	if lower == nil {
		return nil
	}
	if priceX96.Cmp(lower) < 0 || priceX96.Cmp(upper) > 0 {
		return ErrPriceLimitExceeded
	}
	return nil
}
