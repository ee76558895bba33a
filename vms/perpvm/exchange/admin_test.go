// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perpdex/vms/perpvm/config"
)

func TestMarketLifecycle(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	stranger := ids.GenerateTestShortID()
	_, err := f.engine.AddMarket(stranger, testMarket, testMarketConfig(), nil, nil)
	require.ErrorIs(err, ErrNotOwner)

	_, err = f.engine.AddMarket(f.owner, "", testMarketConfig(), nil, nil)
	require.ErrorIs(err, ErrInvalidConfig)

	invalid := testMarketConfig()
	invalid.PriceLimit.NormalOrderRatio = invalid.PriceLimit.LiquidationRatio + 1
	_, err = f.engine.AddMarket(f.owner, testMarket, invalid, nil, nil)
	require.ErrorIs(err, ErrInvalidConfig)

	events, err := f.engine.AddMarket(f.owner, testMarket, testMarketConfig(), nil, nil)
	require.NoError(err)
	require.Len(eventsOf[*MarketAdded](events), 1)
	require.Equal([]string{testMarket}, f.engine.Markets())

	_, err = f.engine.AddMarket(f.owner, testMarket, testMarketConfig(), nil, nil)
	require.ErrorIs(err, ErrMarketExists)

	// trading needs an open market
	f.deposit(f.maker, 1_000_000)
	_, _, err = f.engine.AddLiquidity(AddLiquidityParams{
		Trader:   f.maker,
		Market:   testMarket,
		Base:     big.NewInt(10_000),
		Quote:    big.NewInt(10_000),
		Deadline: NoDeadline,
	})
	require.ErrorIs(err, ErrMarketNotOpen)

	_, err = f.engine.SetMarketStatus(f.owner, testMarket, Closed)
	require.ErrorIs(err, ErrInvalidMarketStatusTransition)
	_, err = f.engine.SetMarketStatus(stranger, testMarket, Open)
	require.ErrorIs(err, ErrNotOwner)
	_, err = f.engine.SetMarketStatus(f.owner, "ETH", Open)
	require.ErrorIs(err, ErrMarketNotFound)

	events, err = f.engine.SetMarketStatus(f.owner, testMarket, Open)
	require.NoError(err)
	changed := eventsOf[*MarketStatusChanged](events)
	require.Len(changed, 1)
	require.Equal(Open, changed[0].Status)

	_, err = f.engine.SetMarketStatus(f.owner, testMarket, Open)
	require.ErrorIs(err, ErrInvalidMarketStatusTransition)
	_, err = f.engine.SetMarketStatus(f.owner, testMarket, Closed)
	require.NoError(err)
	_, err = f.engine.SetMarketStatus(f.owner, testMarket, Open)
	require.ErrorIs(err, ErrInvalidMarketStatusTransition)

	info, err := f.engine.MarketInfo(testMarket)
	require.NoError(err)
	require.Equal("closed", info.Status)
}

func TestSetMarginRatios(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.engine.SetMarginRatios(ids.GenerateTestShortID(), 200_000, 100_000)
	require.ErrorIs(err, ErrNotOwner)

	_, err = f.engine.SetMarginRatios(f.owner, 100_000, 200_000)
	require.ErrorIs(err, ErrInvalidConfig)
	_, err = f.engine.SetMarginRatios(f.owner, 100_000, 0)
	require.ErrorIs(err, ErrInvalidConfig)
	_, err = f.engine.SetMarginRatios(f.owner, 1_000_001, 100_000)
	require.ErrorIs(err, ErrInvalidConfig)

	events, err := f.engine.SetMarginRatios(f.owner, 200_000, 100_000)
	require.NoError(err)
	require.Len(eventsOf[*ParameterUpdated](events), 2)

	cfg := f.engine.Config()
	require.Equal(uint32(200_000), cfg.ImRatio)
	require.Equal(uint32(100_000), cfg.MmRatio)
}

func TestSetParameters(t *testing.T) {
	tests := []struct {
		name    string
		set     func(*Engine, ids.ShortID) ([]Event, error)
		get     func(config.Config) uint32
		want    uint32
		wantErr error
	}{
		{
			name: "liquidation reward ratio",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetLiquidationRewardRatio(caller, 300_000)
			},
			get:  func(c config.Config) uint32 { return c.LiquidationRewardRatio },
			want: 300_000,
		},
		{
			name: "liquidation reward ratio above one",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetLiquidationRewardRatio(caller, 1_000_001)
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "protocol fee ratio",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetProtocolFeeRatio(caller, config.MaxProtocolFeeRatio)
			},
			get:  func(c config.Config) uint32 { return c.ProtocolFeeRatio },
			want: config.MaxProtocolFeeRatio,
		},
		{
			name: "protocol fee ratio above cap",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetProtocolFeeRatio(caller, config.MaxProtocolFeeRatio+1)
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "max markets per account",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetMaxMarketsPerAccount(caller, 3)
			},
			get:  func(c config.Config) uint32 { return c.MaxMarketsPerAccount },
			want: 3,
		},
		{
			name: "zero max orders per account",
			set: func(e *Engine, caller ids.ShortID) ([]Event, error) {
				return e.SetMaxOrdersPerAccount(caller, 0)
			},
			wantErr: ErrInvalidConfig,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)
			f := newFixture(t)

			_, err := test.set(f.engine, ids.GenerateTestShortID())
			require.ErrorIs(err, ErrNotOwner)

			events, err := test.set(f.engine, f.owner)
			require.ErrorIs(err, test.wantErr)
			if test.wantErr != nil {
				require.Equal(config.DefaultConfig().MmRatio, f.engine.Config().MmRatio)
				return
			}
			updated := eventsOf[*ParameterUpdated](events)
			require.Len(updated, 1)
			require.Equal(test.want, updated[0].Value)
			require.Equal(test.want, test.get(f.engine.Config()))
		})
	}
}
