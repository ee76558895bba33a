// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"errors"

	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/orderbook"
	"github.com/luxfi/perpdex/vms/perpvm/pool"
	"github.com/luxfi/perpdex/vms/perpvm/pricelimit"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var (
	// Validation
	ErrZeroAmount                    = errors.New("zero amount")
	ErrInvalidPrice                  = errors.New("invalid price")
	ErrDeadlineExceeded              = errors.New("deadline exceeded")
	ErrMarketNotOpen                 = errors.New("market not open")
	ErrMarketNotClosed               = errors.New("market not closed")
	ErrMarketNotFound                = errors.New("market not found")
	ErrMarketExists                  = errors.New("market already exists")
	ErrInvalidMarketStatusTransition = errors.New("invalid market status transition")
	ErrSlippageExceeded              = errors.New("slippage exceeded")
	ErrInvalidConfig                 = config.ErrInvalidConfig

	// Margin
	ErrNotEnoughInitialMargin     = errors.New("not enough initial margin")
	ErrNotEnoughMaintenanceMargin = errors.New("not enough maintenance margin")
	ErrNotLiquidatable            = errors.New("account is not liquidatable")
	ErrInsufficientCollateral     = errors.New("insufficient collateral")

	// Capacity
	ErrTooManyMarkets = account.ErrTooManyMarkets
	ErrTooManyOrders  = account.ErrTooManyOrders

	// Market state
	ErrOrderNotFound                = orderbook.ErrOrderNotFound
	ErrAlreadyExecuted              = orderbook.ErrAlreadyExecuted
	ErrPostOnlyWouldCross           = errors.New("post-only order would cross")
	ErrOpenNotAllowed               = errors.New("liquidation may only reduce the position")
	ErrLiquidationWithMakerPosition = errors.New("liquidation with maker position")
	ErrLiquidationWithOrders        = errors.New("liquidation with resting orders")
	ErrPriceLimitExceeded           = pricelimit.ErrPriceLimitExceeded
	ErrInsufficientLiquidity        = pool.ErrInsufficientLiquidity
	ErrZeroLiquidity                = pool.ErrZeroLiquidity

	// Authorization
	ErrNotOwner                = errors.New("caller is not the owner")
	ErrInsufficientProtocolFee = errors.New("insufficient protocol fee")

	// Arithmetic
	ErrOverflow  = safemath.ErrOverflow
	ErrUnderflow = safemath.ErrUnderflow
)
