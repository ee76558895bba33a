// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists the perpetuals engine and its collaborators.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"

	"github.com/luxfi/perpdex/utils/compression"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"
)

// maxEngineSize bounds the decompressed engine snapshot.
const maxEngineSize = 256 << 20

var (
	ErrNoState        = errors.New("no persisted state")
	ErrStateCorrupted = errors.New("state corrupted")

	statePrefix = []byte("perp")

	engineKey = []byte("engine")
	vaultKey  = []byte("vault")
	feedsKey  = []byte("feeds")
	heightKey = []byte("height")
	timeKey   = []byte("timestamp")
)

// Snapshot is everything needed to resume processing after a restart.
type Snapshot struct {
	Height uint64 `json:"height"`
	// Timestamp is the unix time of the block at Height.
	Timestamp uint64             `json:"timestamp"`
	Engine    *exchange.Snapshot `json:"engine"`
	Vault     custody.Snapshot   `json:"vault"`
	Feeds     map[string]Feed    `json:"feeds,omitempty"`
}

// Feed is the persisted form of a market's TWAP index feed.
type Feed struct {
	WindowSec    uint64               `json:"windowSec"`
	Decimals     uint8                `json:"decimals"`
	Observations []oracle.Observation `json:"observations"`
}

// State stores snapshots under a fixed prefix of the underlying database.
// The engine snapshot, which grows with open orders, is zstd compressed.
type State struct {
	mu         sync.RWMutex
	db         database.Database
	compressor compression.Compressor

	height uint64
}

// New wraps db. Call Initialize before use.
func New(db database.Database) (*State, error) {
	compressor, err := compression.NewZstdCompressor(maxEngineSize)
	if err != nil {
		return nil, err
	}
	return &State{
		db:         prefixdb.New(statePrefix, db),
		compressor: compressor,
	}, nil
}

// Initialize reads the last persisted height.
func (s *State) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, err := database.GetUInt64(s.db, heightKey)
	switch {
	case errors.Is(err, database.ErrNotFound):
		s.height = 0
	case err != nil:
		return fmt.Errorf("failed to load height: %w", err)
	default:
		s.height = height
	}
	return nil
}

// Height returns the height of the last saved snapshot, zero if none.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Load returns the persisted snapshot or ErrNoState.
func (s *State) Load() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	compressed, err := s.db.Get(engineKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, err
	}
	engineBytes, err := s.compressor.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: engine: %w", ErrStateCorrupted, err)
	}

	snap := &Snapshot{
		Engine: &exchange.Snapshot{},
	}
	if err := json.Unmarshal(engineBytes, snap.Engine); err != nil {
		return nil, fmt.Errorf("%w: engine: %w", ErrStateCorrupted, err)
	}
	if err := getJSON(s.db, vaultKey, &snap.Vault); err != nil {
		return nil, err
	}
	if err := getJSON(s.db, feedsKey, &snap.Feeds); err != nil {
		return nil, err
	}
	if snap.Height, err = database.GetUInt64(s.db, heightKey); err != nil {
		return nil, fmt.Errorf("%w: height: %w", ErrStateCorrupted, err)
	}
	if snap.Timestamp, err = database.GetUInt64(s.db, timeKey); err != nil {
		return nil, fmt.Errorf("%w: timestamp: %w", ErrStateCorrupted, err)
	}
	return snap, nil
}

// Save writes snap in a single batch.
func (s *State) Save(snap *Snapshot) error {
	if snap.Engine == nil {
		return fmt.Errorf("%w: missing engine snapshot", ErrStateCorrupted)
	}
	engineBytes, err := json.Marshal(snap.Engine)
	if err != nil {
		return err
	}
	engineBytes, err = s.compressor.Compress(engineBytes)
	if err != nil {
		return err
	}
	vaultBytes, err := json.Marshal(snap.Vault)
	if err != nil {
		return err
	}
	feedsBytes, err := json.Marshal(snap.Feeds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	if err := batch.Put(engineKey, engineBytes); err != nil {
		return err
	}
	if err := batch.Put(vaultKey, vaultBytes); err != nil {
		return err
	}
	if err := batch.Put(feedsKey, feedsBytes); err != nil {
		return err
	}
	if err := batch.Put(heightKey, database.PackUInt64(snap.Height)); err != nil {
		return err
	}
	if err := batch.Put(timeKey, database.PackUInt64(snap.Timestamp)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.height = snap.Height
	return nil
}

func getJSON(db database.KeyValueReader, key []byte, v any) error {
	b, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStateCorrupted, key, err)
	}
	return nil
}
