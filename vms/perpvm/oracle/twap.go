// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrInvalidWindow indicates an invalid TWAP window.
	ErrInvalidWindow = errors.New("TWAP window must be positive")

	// MaxObservations is the maximum number of observations to keep.
	MaxObservations = 1000
)

// Observation is a single reported price at a unix timestamp.
type Observation struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

// TWAPFeed is a PriceFeed reporting the time-weighted average of recorded
// observations over a rolling window. Time is read from now so that block
// processing stays deterministic.
type TWAPFeed struct {
	mu           sync.RWMutex
	observations []Observation
	windowSec    uint64
	decimals     uint8
	now          func() uint64
}

// NewTWAPFeed returns a feed averaging over windowSec seconds.
func NewTWAPFeed(windowSec uint64, decimals uint8, now func() uint64) (*TWAPFeed, error) {
	if windowSec == 0 {
		return nil, ErrInvalidWindow
	}
	return &TWAPFeed{
		observations: make([]Observation, 0, 64),
		windowSec:    windowSec,
		decimals:     decimals,
		now:          now,
	}, nil
}

// Record adds an observation. Non-positive prices and observations older
// than the latest one are ignored.
func (t *TWAPFeed) Record(price *big.Int, timestamp uint64) {
	if price == nil || price.Sign() <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.observations); n > 0 && timestamp < t.observations[n-1].Timestamp {
		return
	}
	t.observations = append(t.observations, Observation{
		Price:     new(big.Int).Set(price),
		Timestamp: timestamp,
	})
	t.prune(timestamp)
}

// prune drops observations older than two windows. Must be called with the
// lock held.
func (t *TWAPFeed) prune(now uint64) {
	var cutoff uint64
	if now > 2*t.windowSec {
		cutoff = now - 2*t.windowSec
	}
	start := 0
	for start < len(t.observations)-1 && t.observations[start].Timestamp < cutoff {
		start++
	}
	if len(t.observations)-start > MaxObservations {
		start = len(t.observations) - MaxObservations
	}
	if start > 0 {
		t.observations = append(t.observations[:0], t.observations[start:]...)
	}
}

// Observations returns a copy of the retained observations.
func (t *TWAPFeed) Observations() []Observation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Observation, len(t.observations))
	for i, o := range t.observations {
		out[i] = Observation{Price: new(big.Int).Set(o.Price), Timestamp: o.Timestamp}
	}
	return out
}

// Restore replaces the retained observations.
func (t *TWAPFeed) Restore(observations []Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.observations = t.observations[:0]
	for _, o := range observations {
		if o.Price == nil {
			continue
		}
		t.observations = append(t.observations, Observation{Price: new(big.Int).Set(o.Price), Timestamp: o.Timestamp})
	}
}

func (t *TWAPFeed) Decimals() uint8 {
	return t.decimals
}

// WindowSec is the averaging window in seconds.
func (t *TWAPFeed) WindowSec() uint64 {
	return t.windowSec
}

// GetPrice returns the time-weighted average price over the window ending
// now.
func (t *TWAPFeed) GetPrice() (*big.Int, error) {
	return t.GetPriceAt(t.now())
}

// GetPriceAt returns the TWAP over the window ending at.
func (t *TWAPFeed) GetPriceAt(at uint64) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// latest observation at or before at
	last := -1
	for i := len(t.observations) - 1; i >= 0; i-- {
		if t.observations[i].Timestamp <= at {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, ErrNoPrice
	}

	var windowStart uint64
	if at > t.windowSec {
		windowStart = at - t.windowSec
	}

	weighted := new(big.Int)
	var total uint64
	end := at
	for i := last; i >= 0 && end > windowStart; i-- {
		obs := t.observations[i]
		start := max(obs.Timestamp, windowStart)
		if end > start {
			d := end - start
			weighted.Add(weighted, new(big.Int).Mul(obs.Price, new(big.Int).SetUint64(d)))
			total += d
		}
		end = start
	}

	if total == 0 {
		return new(big.Int).Set(t.observations[last].Price), nil
	}
	return weighted.Div(weighted, new(big.Int).SetUint64(total)), nil
}
