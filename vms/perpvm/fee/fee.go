// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fee derives the pool swap fee from a fixed floor and an average
// true range volatility estimate.
package fee

import (
	"math/big"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// Config parameterises the controller.
type Config struct {
	FixedFeeRatio uint32 `json:"fixedFeeRatio"`
	AtrFeeRatio   uint32 `json:"atrFeeRatio"`
	AtrEmaBlocks  uint32 `json:"atrEmaBlocks"`
}

// State is the rolling volatility state of one market.
type State struct {
	AtrX96             *big.Int `json:"atrX96"`
	ReferenceTimestamp uint64   `json:"referenceTimestamp"`
	CurrentHighX96     *big.Int `json:"currentHighX96"`
	CurrentLowX96      *big.Int `json:"currentLowX96"`
}

// NewState returns a state with no history.
func NewState() *State {
	return &State{
		AtrX96:         new(big.Int),
		CurrentHighX96: new(big.Int),
		CurrentLowX96:  new(big.Int),
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return &State{
		AtrX96:             safemath.Clone(s.AtrX96),
		ReferenceTimestamp: s.ReferenceTimestamp,
		CurrentHighX96:     safemath.Clone(s.CurrentHighX96),
		CurrentLowX96:      safemath.Clone(s.CurrentLowX96),
	}
}

// FeeRatio returns the fee ratio for the next swap. The result never exceeds
// half of priceLimitNormalRatio.
func (s *State) FeeRatio(cfg Config, priceLimitNormalRatio uint32) uint32 {
	adaptive := safemath.MulDiv(big.NewInt(int64(cfg.AtrFeeRatio)), s.AtrX96, safemath.Q96)
	total := new(big.Int).Add(adaptive, big.NewInt(int64(cfg.FixedFeeRatio)))

	limit := int64(priceLimitNormalRatio / 2)
	if total.Cmp(big.NewInt(limit)) > 0 {
		return uint32(limit)
	}
	return uint32(total.Int64())
}

// Update records a swap that moved the price from prevPriceX96 to
// priceX96 at timestamp now.
func (s *State) Update(cfg Config, prevPriceX96, priceX96 *big.Int, now uint64) {
	high := safemath.MaxBig(prevPriceX96, priceX96)
	low := safemath.MinBig(prevPriceX96, priceX96)

	if s.ReferenceTimestamp == 0 {
		s.ReferenceTimestamp = now
		s.CurrentHighX96 = safemath.Clone(high)
		s.CurrentLowX96 = safemath.Clone(low)
		return
	}

	if now > s.ReferenceTimestamp {
		if s.CurrentLowX96.Sign() > 0 {
			trueRange := safemath.MulDiv(
				safemath.Diff(s.CurrentHighX96, s.CurrentLowX96),
				safemath.Q96,
				s.CurrentLowX96,
			)
			blocks := big.NewInt(int64(max(cfg.AtrEmaBlocks, 1)))
			weighted := new(big.Int).Mul(s.AtrX96, new(big.Int).Sub(blocks, big.NewInt(1)))
			s.AtrX96 = new(big.Int).Div(weighted.Add(weighted, trueRange), blocks)
		}
		s.ReferenceTimestamp = now
		s.CurrentHighX96 = safemath.Clone(high)
		s.CurrentLowX96 = safemath.Clone(low)
		return
	}

	s.CurrentHighX96 = safemath.Clone(safemath.MaxBig(s.CurrentHighX96, high))
	s.CurrentLowX96 = safemath.Clone(safemath.MinBig(s.CurrentLowX96, low))
}
