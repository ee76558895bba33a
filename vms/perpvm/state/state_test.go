// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"
)

func newEngineSnapshot(t *testing.T) (*exchange.Snapshot, custody.Snapshot) {
	require := require.New(t)

	owner := ids.GenerateTestShortID()
	cfg := config.DefaultConfig()
	cfg.Owner = owner

	vault := custody.NewLedger()
	engine, err := exchange.New(cfg, vault, nil, log.NewNoOpLogger(), metric.NewRegistry())
	require.NoError(err)

	_, err = engine.AddMarket(owner, "BTC", config.DefaultMarketConfig(), nil, nil)
	require.NoError(err)
	_, err = engine.SetMarketStatus(owner, "BTC", exchange.Open)
	require.NoError(err)

	require.NoError(vault.Mint(owner, big.NewInt(5_000)))
	_, err = engine.Deposit(owner, big.NewInt(5_000))
	require.NoError(err)
	return engine.Snapshot(), vault.Snapshot()
}

func newState(t *testing.T, db database.Database) *State {
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStateEmpty(t *testing.T) {
	require := require.New(t)

	s := newState(t, memdb.New())
	require.NoError(s.Initialize())
	require.Zero(s.Height())

	_, err := s.Load()
	require.ErrorIs(err, ErrNoState)
}

func TestStateSaveLoad(t *testing.T) {
	require := require.New(t)

	engineSnap, vaultSnap := newEngineSnapshot(t)
	want := &Snapshot{
		Height:    7,
		Timestamp: 1_700_000_000,
		Engine:    engineSnap,
		Vault:     vaultSnap,
		Feeds: map[string]Feed{
			"BTC": {
				WindowSec:    600,
				Decimals:     8,
				Observations: []oracle.Observation{{Price: big.NewInt(42), Timestamp: 100}},
			},
		},
	}

	db := memdb.New()
	s := newState(t, db)
	require.NoError(s.Initialize())
	require.NoError(s.Save(want))
	require.Equal(uint64(7), s.Height())

	// a fresh state over the same database resumes at the saved height
	reopened := newState(t, db)
	require.NoError(reopened.Initialize())
	require.Equal(uint64(7), reopened.Height())

	got, err := reopened.Load()
	require.NoError(err)

	wantJSON, err := json.Marshal(want)
	require.NoError(err)
	gotJSON, err := json.Marshal(got)
	require.NoError(err)
	require.JSONEq(string(wantJSON), string(gotJSON))
}

func TestStateSaveRequiresEngine(t *testing.T) {
	s := newState(t, memdb.New())
	require.ErrorIs(t, s.Save(&Snapshot{Height: 1}), ErrStateCorrupted)
}

func TestStateCorrupted(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	require.NoError(prefixdb.New(statePrefix, db).Put(engineKey, []byte("{")))

	s := newState(t, db)
	require.NoError(s.Initialize())
	_, err := s.Load()
	require.ErrorIs(err, ErrStateCorrupted)

	// valid compression around an invalid snapshot
	compressed, err := s.compressor.Compress([]byte("{"))
	require.NoError(err)
	require.NoError(prefixdb.New(statePrefix, db).Put(engineKey, compressed))
	_, err = s.Load()
	require.ErrorIs(err, ErrStateCorrupted)
}

func TestStateIsolatedByPrefix(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	require.NoError(database.PutUInt64(db, heightKey, 99))

	s := newState(t, db)
	require.NoError(s.Initialize())
	require.Zero(s.Height())
}
