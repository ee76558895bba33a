// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle provides the index price feeds consumed by the funding and
// price-limit controllers.
package oracle

import (
	"errors"
	"math/big"
	"sync"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var (
	ErrNoPrice     = errors.New("no price available")
	ErrZeroPrice   = errors.New("zero index price")
	ErrNoBaseFeed  = errors.New("base price feed not set")
	errBadDecimals = errors.New("decimals out of range")
)

// PriceFeed is an external read-only price source. Prices are integers
// scaled by 10^Decimals.
type PriceFeed interface {
	GetPrice() (*big.Int, error)
	Decimals() uint8
}

// StaticFeed is a settable PriceFeed.
type StaticFeed struct {
	mu       sync.RWMutex
	price    *big.Int
	decimals uint8
}

// NewStaticFeed returns a feed reporting price at the given decimals.
func NewStaticFeed(price *big.Int, decimals uint8) *StaticFeed {
	return &StaticFeed{
		price:    safemath.Clone(price),
		decimals: decimals,
	}
}

// Set replaces the reported price.
func (f *StaticFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = safemath.Clone(price)
}

func (f *StaticFeed) GetPrice() (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(f.price), nil
}

func (f *StaticFeed) Decimals() uint8 {
	return f.decimals
}

// IndexPriceX96 returns basePrice/quotePrice as an X96 value. A nil quote
// feed quotes the base feed directly in the settlement asset.
//
// Returns ErrNoBaseFeed when base is nil and ErrZeroPrice when either feed
// reports zero.
func IndexPriceX96(base, quote PriceFeed) (*big.Int, error) {
	if base == nil {
		return nil, ErrNoBaseFeed
	}
	basePrice, err := base.GetPrice()
	if err != nil {
		return nil, err
	}
	if basePrice.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	baseScale, err := pow10(base.Decimals())
	if err != nil {
		return nil, err
	}

	quotePrice, quoteScale := big.NewInt(1), big.NewInt(1)
	if quote != nil {
		if quotePrice, err = quote.GetPrice(); err != nil {
			return nil, err
		}
		if quotePrice.Sign() <= 0 {
			return nil, ErrZeroPrice
		}
		if quoteScale, err = pow10(quote.Decimals()); err != nil {
			return nil, err
		}
	}

	num := new(big.Int).Mul(basePrice, quoteScale)
	den := new(big.Int).Mul(quotePrice, baseScale)
	return safemath.MulDiv(num, safemath.Q96, den), nil
}

func pow10(decimals uint8) (*big.Int, error) {
	if decimals > 77 {
		return nil, errBadDecimals
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), nil
}
