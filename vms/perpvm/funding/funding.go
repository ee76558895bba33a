// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package funding rebases a market's base-per-share multiplier by the
// premium of the pool mark price over the index price.
package funding

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/perpdex/vms/perpvm/oracle"
	"github.com/luxfi/perpdex/vms/perpvm/pool"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// SecondsPerDay is the period a premium is charged over.
const SecondsPerDay = 86_400

var secondsPerDay = big.NewInt(SecondsPerDay)

// Config parameterises the controller.
type Config struct {
	MaxPremiumRatio uint32 `json:"maxPremiumRatio"`
	RolloverSec     uint64 `json:"rolloverSec"`
	MaxElapsedSec   uint64 `json:"maxElapsedSec"`
}

// State is the funding state of one market.
type State struct {
	PrevIndexPriceBase  *big.Int `json:"prevIndexPriceBase"`
	PrevIndexPriceQuote *big.Int `json:"prevIndexPriceQuote"`
	PrevTimestamp       uint64   `json:"prevTimestamp"`
}

// Payment describes one applied rebase.
type Payment struct {
	FundingRateX96   *big.Int
	PremiumX96       *big.Int
	IndexPriceX96    *big.Int
	MarkPriceX96     *big.Int
	ElapsedSec       uint64
	DeleveragedBase  *big.Int
	DeleveragedQuote *big.Int
}

// NewState returns a state that has never rebased.
func NewState() *State {
	return &State{
		PrevIndexPriceBase:  new(big.Int),
		PrevIndexPriceQuote: new(big.Int),
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return &State{
		PrevIndexPriceBase:  safemath.Clone(s.PrevIndexPriceBase),
		PrevIndexPriceQuote: safemath.Clone(s.PrevIndexPriceQuote),
		PrevTimestamp:       s.PrevTimestamp,
	}
}

// Rebase applies funding to p when the rollover interval has elapsed since
// the previous rebase. It returns nil when nothing was applied, including
// when base is nil or reports no usable price.
func (s *State) Rebase(cfg Config, p *pool.Pool, base, quote oracle.PriceFeed, now uint64) (*Payment, error) {
	if base == nil {
		return nil, nil
	}
	if s.PrevTimestamp == 0 {
		s.PrevTimestamp = now
		s.recordPrices(base, quote)
		return nil, nil
	}
	if now <= s.PrevTimestamp || now-s.PrevTimestamp < cfg.RolloverSec {
		return nil, nil
	}

	index, err := oracle.IndexPriceX96(base, quote)
	switch {
	case errors.Is(err, oracle.ErrZeroPrice), errors.Is(err, oracle.ErrNoPrice):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading index price: %w", err)
	}
	if index.Sign() == 0 {
		return nil, nil
	}

	elapsed := min(now-s.PrevTimestamp, cfg.MaxElapsedSec)
	s.PrevTimestamp = now
	s.recordPrices(base, quote)

	mark := p.MarkPriceX96()
	if mark.Sign() == 0 {
		return nil, nil
	}

	premium := Premium(mark, index, cfg.MaxPremiumRatio)
	rate := safemath.MulDivTrunc(premium, new(big.Int).SetUint64(elapsed), secondsPerDay)
	deleveragedBase, deleveragedQuote := p.ApplyFunding(rate)
	return &Payment{
		FundingRateX96:   rate,
		PremiumX96:       premium,
		IndexPriceX96:    index,
		MarkPriceX96:     mark,
		ElapsedSec:       elapsed,
		DeleveragedBase:  deleveragedBase,
		DeleveragedQuote: deleveragedQuote,
	}, nil
}

// Premium returns clamp(mark/index - 1, ±maxPremiumRatio) as an X96 value.
func Premium(markX96, indexX96 *big.Int, maxPremiumRatio uint32) *big.Int {
	premium := safemath.Diff(safemath.MulDiv(markX96, safemath.Q96, indexX96), safemath.Q96)
	limit := safemath.MulRatio(safemath.Q96, maxPremiumRatio)
	if premium.Cmp(limit) > 0 {
		return limit
	}
	if negLimit := safemath.Neg(limit); premium.Cmp(negLimit) < 0 {
		return negLimit
	}
	return premium
}

func (s *State) recordPrices(base, quote oracle.PriceFeed) {
	if price, err := base.GetPrice(); err == nil {
		s.PrevIndexPriceBase = price
	}
	if quote == nil {
		return
	}
	if price, err := quote.GetPrice(); err == nil {
		s.PrevIndexPriceQuote = price
	}
}
