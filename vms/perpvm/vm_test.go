// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpvm

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/txs"
	"github.com/luxfi/perpdex/vms/txs/mempool"
)

const (
	testMarket   = "BTC"
	indexMarket  = "ETH"
	genesisTime  = 1_700_000_000
	testBalance  = 1_000_000
	indexWindow  = 3_600
	maxTestBlock = 8
)

var (
	owner  = ids.GenerateTestShortID()
	maker  = ids.GenerateTestShortID()
	taker  = ids.GenerateTestShortID()
	stream = ids.GenerateTestShortID()
)

func testGenesis(t *testing.T) []byte {
	marketCfg := config.DefaultMarketConfig()
	marketCfg.PoolFee.AtrFeeRatio = 0

	g := DefaultGenesis()
	g.Timestamp = genesisTime
	g.Config.Owner = owner
	g.Config.MaxTxsPerBlock = maxTestBlock
	g.Balances = []custody.Balance{
		{ID: maker, Amount: big.NewInt(testBalance)},
		{ID: taker, Amount: big.NewInt(testBalance)},
	}
	g.Markets = []GenesisMarket{
		{
			Symbol: testMarket,
			Config: marketCfg,
			Open:   true,
		},
		{
			Symbol:          indexMarket,
			Config:          marketCfg,
			OracleWindowSec: indexWindow,
			OracleDecimals:  18,
		},
	}
	b, err := json.Marshal(g)
	require.NoError(t, err)
	return b
}

func newTestVM(t *testing.T, db database.Database) *VM {
	require := require.New(t)

	vm := New(log.NewNoOpLogger(), metric.NewRegistry())
	require.NoError(vm.Initialize(context.Background(), db, testGenesis(t), nil))
	return vm
}

func txBytes(t *testing.T, unsigned ...txs.UnsignedTx) [][]byte {
	out := make([][]byte, 0, len(unsigned))
	for _, u := range unsigned {
		tx, err := txs.NewTx(u)
		require.NoError(t, err)
		out = append(out, tx.Bytes())
	}
	return out
}

func blockTime(offset int64) time.Time {
	return time.Unix(genesisTime+offset, 0)
}

// fundedBlock deposits both balances and seeds the pool of testMarket.
func fundedBlock(t *testing.T) [][]byte {
	return txBytes(t,
		&txs.DepositTx{BaseTx: txs.BaseTx{From: maker}, Amount: big.NewInt(testBalance)},
		&txs.DepositTx{BaseTx: txs.BaseTx{From: taker}, Amount: big.NewInt(testBalance)},
		&txs.AddLiquidityTx{
			BaseTx: txs.BaseTx{From: maker},
			Params: exchange.AddLiquidityParams{
				Market:   testMarket,
				Base:     big.NewInt(500_000),
				Quote:    big.NewInt(500_000),
				Deadline: exchange.NoDeadline,
			},
		},
	)
}

func TestInitializeGenesis(t *testing.T) {
	require := require.New(t)
	vm := newTestVM(t, memdb.New())

	require.Zero(vm.Height())
	require.Equal(blockTime(0), vm.LastBlockTime())
	require.Equal(config.DefaultVMConfig(), vm.Options())
	require.Equal([]string{indexMarket, testMarket}, vm.Engine().Markets())
	require.Equal([]string{indexMarket}, vm.IndexFeeds())

	info, err := vm.Engine().MarketInfo(testMarket)
	require.NoError(err)
	require.Equal("open", info.Status)
	info, err = vm.Engine().MarketInfo(indexMarket)
	require.NoError(err)
	require.Equal("not_allowed", info.Status)

	require.Zero(big.NewInt(testBalance).Cmp(vm.vault.Balance(maker)))

	err = vm.Initialize(context.Background(), memdb.New(), nil, nil)
	require.ErrorIs(err, errAlreadyInitialized)
}

func TestInitializeInvalidGenesis(t *testing.T) {
	tests := []struct {
		name    string
		genesis string
	}{
		{
			name:    "malformed",
			genesis: `{"markets":`,
		},
		{
			name:    "invalid margin ratios",
			genesis: `{"config":{"imRatio":10,"mmRatio":20}}`,
		},
		{
			name:    "duplicate market",
			genesis: `{"markets":[{"symbol":"BTC"},{"symbol":"BTC"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New(log.NewNoOpLogger(), metric.NewRegistry())
			err := vm.Initialize(context.Background(), memdb.New(), []byte(tt.genesis), nil)
			require.Error(t, err)
		})
	}
}

func TestProcessBlock(t *testing.T) {
	require := require.New(t)
	vm := newTestVM(t, memdb.New())

	res, err := vm.ProcessBlock(context.Background(), 1, blockTime(10), fundedBlock(t))
	require.NoError(err)
	require.Equal(uint64(1), res.Height)
	require.Len(res.Txs, 3)
	for _, tx := range res.Txs {
		require.NoError(tx.Err)
		require.NotEmpty(tx.Events)
	}
	require.Equal("add_liquidity", res.Txs[2].Type)

	block := txBytes(t,
		&txs.TradeTx{
			BaseTx: txs.BaseTx{From: taker},
			Params: exchange.TradeParams{
				Market:   testMarket,
				Amount:   big.NewInt(1_000),
				Deadline: exchange.NoDeadline,
			},
		},
		&txs.WithdrawTx{BaseTx: txs.BaseTx{From: stream}, Amount: big.NewInt(1)},
	)
	block = append(block, []byte("not a tx"))

	res, err = vm.ProcessBlock(context.Background(), 2, blockTime(20), block)
	require.NoError(err)
	require.Len(res.Txs, 3)

	require.NoError(res.Txs[0].Err)
	traded := false
	for _, e := range res.Txs[0].Events {
		if _, ok := e.(*exchange.Traded); ok {
			traded = true
		}
	}
	require.True(traded)

	require.ErrorIs(res.Txs[1].Err, exchange.ErrInsufficientCollateral)
	require.Equal("withdraw", res.Txs[1].Type)
	require.Empty(res.Txs[1].Events)

	require.Error(res.Txs[2].Err)
	require.Equal("unknown", res.Txs[2].Type)

	require.Equal(uint64(2), vm.Height())
	require.Equal(blockTime(20), vm.LastBlockTime())

	position, err := vm.Engine().Position(taker, testMarket)
	require.NoError(err)
	require.Zero(big.NewInt(1_000).Cmp(position.Taker.BaseBalanceShare))
}

func TestProcessBlockValidation(t *testing.T) {
	require := require.New(t)

	vm := New(log.NewNoOpLogger(), metric.NewRegistry())
	_, err := vm.ProcessBlock(context.Background(), 1, blockTime(1), nil)
	require.ErrorIs(err, errNotInitialized)

	vm = newTestVM(t, memdb.New())
	_, err = vm.ProcessBlock(context.Background(), 2, blockTime(1), nil)
	require.ErrorIs(err, errUnexpectedHeight)

	_, err = vm.ProcessBlock(context.Background(), 1, blockTime(-1), nil)
	require.ErrorIs(err, errTimestampTooEarly)

	tooMany := make([][]byte, maxTestBlock+1)
	_, err = vm.ProcessBlock(context.Background(), 1, blockTime(1), tooMany)
	require.ErrorIs(err, errTooManyTxs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = vm.ProcessBlock(ctx, 1, blockTime(1), nil)
	require.ErrorIs(err, context.Canceled)

	require.Zero(vm.Height())

	// an empty block at the parent timestamp is valid
	_, err = vm.ProcessBlock(context.Background(), 1, blockTime(0), nil)
	require.NoError(err)
	require.Equal(uint64(1), vm.Height())

	require.NoError(vm.Shutdown(context.Background()))
	require.NoError(vm.Shutdown(context.Background()))
	_, err = vm.ProcessBlock(context.Background(), 2, blockTime(2), nil)
	require.ErrorIs(err, errShutdown)
}

func TestRestartRestoresState(t *testing.T) {
	require := require.New(t)
	db := memdb.New()

	vm := newTestVM(t, db)
	_, err := vm.ProcessBlock(context.Background(), 1, blockTime(10), fundedBlock(t))
	require.NoError(err)

	block := txBytes(t,
		&txs.CreateLimitOrderTx{
			BaseTx: txs.BaseTx{From: taker},
			Params: exchange.LimitOrderParams{
				Market:   testMarket,
				IsBid:    true,
				Base:     big.NewInt(100),
				PriceX96: new(big.Int).Rsh(new(big.Int).Lsh(big.NewInt(1), 96), 1),
				Deadline: exchange.NoDeadline,
			},
		},
		&txs.UpdateIndexPriceTx{
			BaseTx: txs.BaseTx{From: owner},
			Market: indexMarket,
			Price:  big.NewInt(2_000),
		},
	)
	res, err := vm.ProcessBlock(context.Background(), 2, blockTime(20), block)
	require.NoError(err)
	for _, tx := range res.Txs {
		require.NoError(tx.Err)
	}

	before, err := json.Marshal(vm.snapshot())
	require.NoError(err)

	restarted := newTestVM(t, db)
	require.Equal(uint64(2), restarted.Height())
	require.Equal(blockTime(20), restarted.LastBlockTime())
	require.Equal(vm.IndexFeeds(), restarted.IndexFeeds())

	after, err := json.Marshal(restarted.snapshot())
	require.NoError(err)
	require.JSONEq(string(before), string(after))

	// both instances apply the next block identically
	next := txBytes(t, &txs.TradeTx{
		BaseTx: txs.BaseTx{From: maker},
		Params: exchange.TradeParams{
			Market:        testMarket,
			IsBaseToQuote: true,
			IsExactInput:  true,
			Amount:        big.NewInt(500),
			Deadline:      exchange.NoDeadline,
		},
	})
	resA, err := vm.ProcessBlock(context.Background(), 3, blockTime(30), next)
	require.NoError(err)
	resB, err := restarted.ProcessBlock(context.Background(), 3, blockTime(30), next)
	require.NoError(err)
	require.NoError(resA.Txs[0].Err)

	a, err := json.Marshal(resA)
	require.NoError(err)
	b, err := json.Marshal(resB)
	require.NoError(err)
	require.JSONEq(string(a), string(b))
}

func TestUpdateIndexPrice(t *testing.T) {
	require := require.New(t)
	vm := newTestVM(t, memdb.New())

	update := func(from ids.ShortID, market string, price *big.Int) *txs.UpdateIndexPriceTx {
		return &txs.UpdateIndexPriceTx{
			BaseTx: txs.BaseTx{From: from},
			Market: market,
			Price:  price,
		}
	}
	block := txBytes(t,
		update(taker, indexMarket, big.NewInt(2_000)),
		update(owner, testMarket, big.NewInt(2_000)),
		update(owner, indexMarket, big.NewInt(0)),
		update(owner, indexMarket, big.NewInt(2_000)),
	)
	res, err := vm.ProcessBlock(context.Background(), 1, blockTime(60), block)
	require.NoError(err)

	require.ErrorIs(res.Txs[0].Err, exchange.ErrNotOwner)
	require.ErrorIs(res.Txs[1].Err, errNoIndexFeed)
	require.ErrorIs(res.Txs[2].Err, exchange.ErrInvalidPrice)
	require.NoError(res.Txs[3].Err)
	require.Equal([]exchange.Event{
		&IndexPriceUpdated{
			Market:    indexMarket,
			Price:     big.NewInt(2_000),
			Timestamp: genesisTime + 60,
		},
	}, res.Txs[3].Events)

	observations := vm.feeds[indexMarket].Observations()
	require.Len(observations, 1)
	require.Equal(uint64(genesisTime+60), observations[0].Timestamp)
}

func TestAdminTxs(t *testing.T) {
	require := require.New(t)
	vm := newTestVM(t, memdb.New())

	block := txBytes(t,
		&txs.AddMarketTx{
			BaseTx:          txs.BaseTx{From: owner},
			Symbol:          "SOL",
			Config:          config.DefaultMarketConfig(),
			OracleWindowSec: indexWindow,
			OracleDecimals:  8,
		},
		&txs.SetMarketStatusTx{BaseTx: txs.BaseTx{From: owner}, Market: "SOL", Status: exchange.Open},
		&txs.SetProtocolFeeRatioTx{BaseTx: txs.BaseTx{From: owner}, Ratio: 1_000},
		&txs.SetMarginRatiosTx{BaseTx: txs.BaseTx{From: taker}, ImRatio: 200_000, MmRatio: 100_000},
	)
	res, err := vm.ProcessBlock(context.Background(), 1, blockTime(1), block)
	require.NoError(err)
	require.NoError(res.Txs[0].Err)
	require.NoError(res.Txs[1].Err)
	require.NoError(res.Txs[2].Err)
	require.ErrorIs(res.Txs[3].Err, exchange.ErrNotOwner)

	require.Contains(vm.IndexFeeds(), "SOL")
	require.Equal(uint32(1_000), vm.Engine().Config().ProtocolFeeRatio)
	require.Equal(config.DefaultConfig().ImRatio, vm.Engine().Config().ImRatio)
}

func TestIssueAndBuildBlock(t *testing.T) {
	require := require.New(t)
	vm := newTestVM(t, memdb.New())

	_, err := vm.BuildBlock(context.Background(), blockTime(5))
	require.ErrorIs(err, ErrNoPendingTxs)

	_, err = vm.IssueTx([]byte("not a tx"))
	require.Error(err)

	issued := make([]ids.ID, 0, maxTestBlock+1)
	for _, b := range fundedBlock(t) {
		txID, err := vm.IssueTx(b)
		require.NoError(err)
		issued = append(issued, txID)
	}
	_, err = vm.IssueTx(fundedBlock(t)[0])
	require.ErrorIs(err, mempool.ErrDuplicateTx)
	require.Equal(3, vm.PendingTxs())

	// A clock behind the parent block does not move time backwards.
	res, err := vm.BuildBlock(context.Background(), blockTime(-10))
	require.NoError(err)
	require.Equal(uint64(1), res.Height)
	require.Equal(blockTime(0), vm.LastBlockTime())
	require.Len(res.Txs, 3)
	for i, tx := range res.Txs {
		require.NoError(tx.Err)
		require.Equal(issued[i], tx.ID)
	}
	require.Zero(vm.PendingTxs())

	for i := range maxTestBlock + 2 {
		b := txBytes(t, &txs.WithdrawTx{
			BaseTx: txs.BaseTx{From: maker},
			Amount: big.NewInt(int64(i + 1)),
		})
		_, err := vm.IssueTx(b[0])
		require.NoError(err)
	}

	res, err = vm.BuildBlock(context.Background(), blockTime(30).Add(400*time.Millisecond))
	require.NoError(err)
	require.Equal(uint64(2), res.Height)
	require.Equal(blockTime(30), vm.LastBlockTime())
	require.Len(res.Txs, maxTestBlock)
	require.Equal(2, vm.PendingTxs())

	require.NoError(vm.Shutdown(context.Background()))
	_, err = vm.IssueTx(fundedBlock(t)[0])
	require.ErrorIs(err, errShutdown)
}

func TestCreateHandlers(t *testing.T) {
	require := require.New(t)

	_, err := New(log.NewNoOpLogger(), metric.NewRegistry()).CreateHandlers(context.Background())
	require.ErrorIs(err, errNotInitialized)

	vm := newTestVM(t, memdb.New())
	_, err = vm.ProcessBlock(context.Background(), 1, blockTime(5), fundedBlock(t))
	require.NoError(err)

	handlers, err := vm.CreateHandlers(context.Background())
	require.NoError(err)
	require.Contains(handlers, "")

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"perp.getMarkets","params":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handlers[""].ServeHTTP(rec, req)
	require.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Result struct {
			Markets    []string `json:"markets"`
			IndexFeeds []string `json:"indexFeeds"`
		} `json:"result"`
	}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal([]string{indexMarket, testMarket}, resp.Result.Markets)
	require.Equal([]string{indexMarket}, resp.Result.IndexFeeds)

	health, err := vm.HealthCheck(context.Background())
	require.NoError(err)
	require.Equal(true, health.(map[string]any)["healthy"])
}
