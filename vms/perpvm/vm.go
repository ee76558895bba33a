// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package perpvm implements a perpetual futures exchange as a block-driven
// state machine. All state transitions happen in ProcessBlock.
package perpvm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/perpdex/utils/json"
	"github.com/luxfi/perpdex/utils/timer/mockable"
	"github.com/luxfi/perpdex/utils/wrappers"
	"github.com/luxfi/perpdex/vms/perpvm/api"
	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/metrics"
	"github.com/luxfi/perpdex/vms/perpvm/oracle"
	"github.com/luxfi/perpdex/vms/perpvm/state"
	"github.com/luxfi/perpdex/vms/perpvm/txs"
	"github.com/luxfi/perpdex/vms/txs/mempool"
)

// Name is the name of the JSON-RPC service.
const Name = "perp"

var (
	errNotInitialized     = errors.New("VM not initialized")
	errAlreadyInitialized = errors.New("VM already initialized")
	errShutdown           = errors.New("VM is shutting down")
	errUnexpectedHeight   = errors.New("unexpected block height")
	errTimestampTooEarly  = errors.New("block timestamp before parent")
	errTooManyTxs         = errors.New("too many transactions in block")
	errNoIndexFeed        = errors.New("market has no index feed")

	// ErrNoPendingTxs is returned by BuildBlock when the mempool is empty.
	ErrNoPendingTxs = errors.New("no pending transactions")

	_ api.Backend = (*VM)(nil)
)

// TxResult is the outcome of one transaction of a block. A failed tx is
// still part of the block but changes nothing.
type TxResult struct {
	ID     ids.ID           `json:"id"`
	Type   string           `json:"type"`
	Events []exchange.Event `json:"events,omitempty"`
	Err    error            `json:"-"`
	Error  string           `json:"error,omitempty"`
}

// BlockResult is the deterministic result of processing a block.
type BlockResult struct {
	Height    uint64     `json:"height"`
	Timestamp time.Time  `json:"timestamp"`
	Txs       []TxResult `json:"txs"`
}

// VM owns the engine and applies blocks of transactions to it. Every node
// that applies the same blocks to the same genesis reaches the same state.
type VM struct {
	config.VMConfig

	log        log.Logger
	registerer metric.Registerer
	metrics    metrics.Metrics
	mempool    *mempool.Mempool[*txs.Tx]

	// lock serializes block processing with initialization and shutdown.
	// The engine has its own lock for concurrent reads.
	lock sync.RWMutex

	baseDB database.Database
	db     *versiondb.Database
	state  *state.State

	clock  mockable.Clock
	vault  *custody.Ledger
	engine *exchange.Engine
	feeds  map[string]*oracle.TWAPFeed

	height        uint64
	lastBlockTime time.Time

	initialized bool
	shutdown    bool
}

// New returns an uninitialized VM.
func New(logger log.Logger, registerer metric.Registerer) *VM {
	return &VM{
		log:        logger,
		registerer: registerer,
	}
}

// Initialize opens db, then resumes from the persisted state or, on an
// empty db, builds the state described by genesisBytes.
func (vm *VM) Initialize(
	_ context.Context,
	db database.Database,
	genesisBytes []byte,
	configBytes []byte,
) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.initialized {
		return errAlreadyInitialized
	}

	var err error
	vm.VMConfig, err = config.ParseVMConfig(configBytes)
	if err != nil {
		return err
	}
	vm.metrics, err = metrics.New(vm.registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	mempoolMetrics, err := mempool.NewMetrics(vm.registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize mempool metrics: %w", err)
	}
	vm.mempool = mempool.New[*txs.Tx](mempoolMetrics)

	vm.baseDB = db
	vm.db = versiondb.New(db)
	vm.state, err = state.New(vm.db)
	if err != nil {
		return err
	}
	if err := vm.state.Initialize(); err != nil {
		return err
	}

	snap, err := vm.state.Load()
	switch {
	case errors.Is(err, state.ErrNoState):
		if err := vm.initGenesis(genesisBytes); err != nil {
			vm.db.Abort()
			return fmt.Errorf("failed to initialize genesis: %w", err)
		}
	case err != nil:
		return err
	default:
		if err := vm.restore(snap); err != nil {
			return fmt.Errorf("failed to restore state: %w", err)
		}
	}

	vm.initialized = true
	vm.log.Info("Perpetuals VM initialized",
		"height", vm.height,
		"markets", len(vm.engine.Markets()),
	)
	return nil
}

func (vm *VM) initGenesis(genesisBytes []byte) error {
	g, err := ParseGenesis(genesisBytes)
	if err != nil {
		return err
	}

	vm.clock.Set(time.Unix(int64(g.Timestamp), 0))
	vm.vault = custody.NewLedger()
	vm.feeds = make(map[string]*oracle.TWAPFeed)
	vm.engine, err = exchange.New(g.Config, vm.vault, &vm.clock, vm.log, vm.registerer)
	if err != nil {
		return err
	}

	for _, b := range g.Balances {
		if err := vm.vault.Mint(b.ID, b.Amount); err != nil {
			return fmt.Errorf("genesis balance of %s: %w", b.ID, err)
		}
	}
	owner := g.Config.Owner
	for _, m := range g.Markets {
		if _, err := vm.addMarket(owner, m.Symbol, m.Config, m.OracleWindowSec, m.OracleDecimals); err != nil {
			return fmt.Errorf("genesis market %q: %w", m.Symbol, err)
		}
		if !m.Open {
			continue
		}
		if _, err := vm.engine.SetMarketStatus(owner, m.Symbol, exchange.Open); err != nil {
			return fmt.Errorf("genesis market %q: %w", m.Symbol, err)
		}
	}

	vm.height = 0
	vm.lastBlockTime = vm.clock.Time()
	return vm.persist()
}

func (vm *VM) restore(snap *state.Snapshot) error {
	vm.clock.Set(time.Unix(int64(snap.Timestamp), 0))
	vm.vault = custody.NewLedger()
	vm.vault.Restore(snap.Vault)

	var err error
	vm.engine, err = exchange.New(snap.Engine.Config, vm.vault, &vm.clock, vm.log, vm.registerer)
	if err != nil {
		return err
	}
	if err := vm.engine.Restore(snap.Engine); err != nil {
		return err
	}

	vm.feeds = make(map[string]*oracle.TWAPFeed, len(snap.Feeds))
	for symbol, f := range snap.Feeds {
		feed, err := oracle.NewTWAPFeed(f.WindowSec, f.Decimals, vm.clock.Unix)
		if err != nil {
			return err
		}
		feed.Restore(f.Observations)
		if err := vm.engine.SetPriceFeeds(symbol, feed, nil); err != nil {
			return fmt.Errorf("feed of %q: %w", symbol, err)
		}
		vm.feeds[symbol] = feed
	}

	vm.height = snap.Height
	vm.lastBlockTime = vm.clock.Time()
	return nil
}

// addMarket creates the TWAP feed of a market before registering it so
// that the engine sees the feed from the first block.
func (vm *VM) addMarket(caller ids.ShortID, symbol string, cfg config.MarketConfig, windowSec uint64, decimals uint8) ([]exchange.Event, error) {
	if windowSec == 0 {
		return vm.engine.AddMarket(caller, symbol, cfg, nil, nil)
	}
	feed, err := oracle.NewTWAPFeed(windowSec, decimals, vm.clock.Unix)
	if err != nil {
		return nil, err
	}
	events, err := vm.engine.AddMarket(caller, symbol, cfg, feed, nil)
	if err != nil {
		return nil, err
	}
	vm.feeds[symbol] = feed
	return events, nil
}

// snapshot captures the full state at the current height. Must be called
// with the lock held.
func (vm *VM) snapshot() *state.Snapshot {
	snap := &state.Snapshot{
		Height:    vm.height,
		Timestamp: vm.clock.Unix(),
		Engine:    vm.engine.Snapshot(),
		Vault:     vm.vault.Snapshot(),
		Feeds:     make(map[string]state.Feed, len(vm.feeds)),
	}
	for symbol, feed := range vm.feeds {
		snap.Feeds[symbol] = state.Feed{
			WindowSec:    feed.WindowSec(),
			Decimals:     feed.Decimals(),
			Observations: feed.Observations(),
		}
	}
	return snap
}

// persist writes the current state and commits it atomically.
func (vm *VM) persist() error {
	if err := vm.state.Save(vm.snapshot()); err != nil {
		vm.db.Abort()
		return err
	}
	if err := vm.db.Commit(); err != nil {
		vm.db.Abort()
		return err
	}
	return nil
}

// ProcessBlock applies txs in order at blockTime and persists the result.
// A tx that fails is recorded in the result and otherwise ignored. An
// error is returned only when the block itself is invalid or the state
// could not be persisted; in both cases the VM state is unchanged.
func (vm *VM) ProcessBlock(ctx context.Context, height uint64, blockTime time.Time, txBytes [][]byte) (*BlockResult, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	switch {
	case vm.shutdown:
		return nil, errShutdown
	case !vm.initialized:
		return nil, errNotInitialized
	case height != vm.height+1:
		return nil, fmt.Errorf("%w: expected %d, got %d", errUnexpectedHeight, vm.height+1, height)
	case blockTime.Unix() < vm.lastBlockTime.Unix():
		return nil, fmt.Errorf("%w: %s < %s", errTimestampTooEarly, blockTime, vm.lastBlockTime)
	case len(txBytes) > int(vm.engine.Config().MaxTxsPerBlock):
		return nil, fmt.Errorf("%w: %d", errTooManyTxs, len(txBytes))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	parentTime := vm.lastBlockTime
	vm.clock.Set(blockTime)

	result := &BlockResult{
		Height:    height,
		Timestamp: blockTime,
		Txs:       make([]TxResult, 0, len(txBytes)),
	}
	for _, b := range txBytes {
		result.Txs = append(result.Txs, vm.applyTx(b))
	}

	vm.height = height
	vm.lastBlockTime = blockTime
	if err := vm.persist(); err != nil {
		vm.log.Error("Failed to persist block",
			"height", height,
			"error", err,
		)
		vm.height--
		vm.lastBlockTime = parentTime
		if reloadErr := vm.reload(); reloadErr != nil {
			return nil, errors.Join(err, reloadErr)
		}
		return nil, err
	}

	included := make([]ids.ID, 0, len(result.Txs))
	for _, tx := range result.Txs {
		if tx.ID != ids.Empty {
			included = append(included, tx.ID)
		}
	}
	vm.mempool.RemoveIDs(included...)

	vm.metrics.MarkBlockProcessed(len(txBytes), time.Since(start))
	vm.log.Debug("Block processed",
		"height", height,
		"txs", len(txBytes),
	)
	return result, nil
}

// IssueTx adds a well formed tx to the mempool. Its effects are only known
// once a block includes it.
func (vm *VM) IssueTx(b []byte) (ids.ID, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	switch {
	case vm.shutdown:
		return ids.Empty, errShutdown
	case !vm.initialized:
		return ids.Empty, errNotInitialized
	}
	tx, err := txs.Parse(b)
	if err != nil {
		return ids.Empty, err
	}
	if err := vm.mempool.Add(tx); err != nil {
		return ids.Empty, err
	}
	vm.log.Debug("Transaction issued",
		"txID", tx.ID(),
		"type", tx.Unsigned.Type().String(),
	)
	return tx.ID(), nil
}

// PendingTxs returns the number of txs waiting in the mempool.
func (vm *VM) PendingTxs() int {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if vm.mempool == nil {
		return 0
	}
	return vm.mempool.Len()
}

// BuildBlock processes the next block from the oldest pending txs at now,
// or at the parent timestamp if now is earlier.
func (vm *VM) BuildBlock(ctx context.Context, now time.Time) (*BlockResult, error) {
	vm.lock.RLock()
	if !vm.initialized {
		vm.lock.RUnlock()
		return nil, errNotInitialized
	}
	height := vm.height + 1
	blockTime := time.Unix(max(now.Unix(), vm.lastBlockTime.Unix()), 0)
	pending := vm.mempool.Peek(int(vm.engine.Config().MaxTxsPerBlock))
	vm.lock.RUnlock()

	if len(pending) == 0 {
		return nil, ErrNoPendingTxs
	}
	txBytes := make([][]byte, len(pending))
	for i, tx := range pending {
		txBytes[i] = tx.Bytes()
	}
	return vm.ProcessBlock(ctx, height, blockTime, txBytes)
}

// reload discards in-memory state and restores the last persisted one.
func (vm *VM) reload() error {
	snap, err := vm.state.Load()
	if err != nil {
		return err
	}
	vm.vault.Restore(snap.Vault)
	if err := vm.engine.Restore(snap.Engine); err != nil {
		return err
	}
	for symbol, f := range snap.Feeds {
		if feed, ok := vm.feeds[symbol]; ok {
			feed.Restore(f.Observations)
		}
	}
	for symbol := range vm.feeds {
		if _, ok := snap.Feeds[symbol]; !ok {
			delete(vm.feeds, symbol)
		}
	}
	vm.clock.Set(time.Unix(int64(snap.Timestamp), 0))
	return nil
}

func (vm *VM) applyTx(b []byte) TxResult {
	tx, err := txs.Parse(b)
	if err != nil {
		vm.metrics.MarkTxFailed(nil)
		vm.log.Warn("Dropping unparsable transaction",
			"error", err,
		)
		return TxResult{
			Type:  "unknown",
			Err:   err,
			Error: err.Error(),
		}
	}

	res := TxResult{
		ID:   tx.ID(),
		Type: tx.Unsigned.Type().String(),
	}
	e := &executor{vm: vm}
	if err := tx.Unsigned.Visit(e); err != nil {
		vm.metrics.MarkTxFailed(tx)
		vm.log.Warn("Transaction failed",
			"txID", tx.ID(),
			"type", res.Type,
			"error", err,
		)
		res.Err = err
		res.Error = err.Error()
		return res
	}

	vm.metrics.MarkTxAccepted(tx)
	vm.log.Debug("Transaction applied",
		"txID", tx.ID(),
		"type", res.Type,
		"events", len(e.events),
	)
	res.Events = e.events
	return res
}

// Engine returns the exchange engine for read access.
func (vm *VM) Engine() *exchange.Engine {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	return vm.engine
}

// Height returns the height of the last processed block.
func (vm *VM) Height() uint64 {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	return vm.height
}

// LastBlockTime returns the timestamp of the last processed block.
func (vm *VM) LastBlockTime() time.Time {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	return vm.lastBlockTime
}

// Options returns the node-local options.
func (vm *VM) Options() config.VMConfig {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	return vm.VMConfig
}

// IndexFeeds returns the symbols of the markets with a TWAP index feed.
func (vm *VM) IndexFeeds() []string {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	symbols := make([]string, 0, len(vm.feeds))
	for symbol := range vm.feeds {
		symbols = append(symbols, symbol)
	}
	slices.Sort(symbols)
	return symbols
}

// CreateHandlers returns the JSON-RPC handler of the VM.
func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if !vm.initialized {
		return nil, errNotInitialized
	}

	codec := json.NewCodec()
	server := rpc.NewServer()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	server.RegisterAfterFunc(vm.metrics.AfterRequest)
	if err := server.RegisterService(api.NewService(vm, vm.log), Name); err != nil {
		return nil, fmt.Errorf("failed to register %s service: %w", Name, err)
	}
	return map[string]http.Handler{
		"": server,
	}, nil
}

// HealthCheck reports whether the VM is processing blocks.
func (vm *VM) HealthCheck(context.Context) (any, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	return map[string]any{
		"healthy":     vm.initialized && !vm.shutdown,
		"height":      vm.height,
		"lastBlockAt": vm.lastBlockTime.Unix(),
	}, nil
}

// Shutdown stops block processing and closes the database.
func (vm *VM) Shutdown(context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.shutdown {
		return nil
	}
	vm.shutdown = true
	vm.log.Info("Shutting down perpetuals VM",
		"height", vm.height,
	)
	if vm.db == nil {
		return nil
	}

	errs := wrappers.Errs{}
	errs.Add(
		vm.db.Close(),
		vm.baseDB.Close(),
	)
	return errs.Err
}
