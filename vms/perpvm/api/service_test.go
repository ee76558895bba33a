// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"crypto/sha256"
	stdjson "encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perpdex/utils/json"
	"github.com/luxfi/perpdex/utils/timer/mockable"
	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"

	safemath "github.com/luxfi/perpdex/utils/math"
)

const testMarket = "BTC"

type testBackend struct {
	engine  *exchange.Engine
	height  uint64
	time    time.Time
	options config.VMConfig
	issued  [][]byte
}

func (b *testBackend) Engine() *exchange.Engine { return b.engine }
func (b *testBackend) Height() uint64           { return b.height }
func (b *testBackend) LastBlockTime() time.Time { return b.time }
func (b *testBackend) Options() config.VMConfig { return b.options }
func (*testBackend) IndexFeeds() []string       { return nil }
func (b *testBackend) PendingTxs() int          { return len(b.issued) }

func (b *testBackend) IssueTx(tx []byte) (ids.ID, error) {
	b.issued = append(b.issued, tx)
	return ids.ID(sha256.Sum256(tx)), nil
}

type serviceFixture struct {
	service *Service
	backend *testBackend
	maker   ids.ShortID
	taker   ids.ShortID
}

// newServiceFixture opens testMarket with a 1e6/1e6 pool and funds a taker.
func newServiceFixture(t *testing.T) *serviceFixture {
	require := require.New(t)

	owner := ids.GenerateTestShortID()
	cfg := config.DefaultConfig()
	cfg.Owner = owner

	now := time.Unix(1_700_000_000, 0)
	clock := &mockable.Clock{}
	clock.Set(now)
	vault := custody.NewLedger()
	engine, err := exchange.New(cfg, vault, clock, log.NewNoOpLogger(), metric.NewRegistry())
	require.NoError(err)

	marketCfg := config.DefaultMarketConfig()
	marketCfg.PoolFee.AtrFeeRatio = 0
	_, err = engine.AddMarket(owner, testMarket, marketCfg, nil, nil)
	require.NoError(err)
	_, err = engine.SetMarketStatus(owner, testMarket, exchange.Open)
	require.NoError(err)

	maker := ids.GenerateTestShortID()
	taker := ids.GenerateTestShortID()
	for _, trader := range []ids.ShortID{maker, taker} {
		require.NoError(vault.Mint(trader, big.NewInt(1_000_000)))
		_, err = engine.Deposit(trader, big.NewInt(1_000_000))
		require.NoError(err)
	}
	_, _, err = engine.AddLiquidity(exchange.AddLiquidityParams{
		Trader:   maker,
		Market:   testMarket,
		Base:     big.NewInt(1_000_000),
		Quote:    big.NewInt(1_000_000),
		Deadline: exchange.NoDeadline,
	})
	require.NoError(err)

	backend := &testBackend{
		engine:  engine,
		height:  3,
		time:    now,
		options: config.DefaultVMConfig(),
	}
	return &serviceFixture{
		service: NewService(backend, log.NewNoOpLogger()),
		backend: backend,
		maker:   maker,
		taker:   taker,
	}
}

func (f *serviceFixture) placeBids(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		_, _, err := f.backend.engine.CreateLimitOrder(exchange.LimitOrderParams{
			Trader:   f.taker,
			Market:   testMarket,
			IsBid:    true,
			Base:     big.NewInt(10),
			PriceX96: safemath.MulDiv(safemath.Q96, big.NewInt(int64(90-i)), big.NewInt(100)),
			Deadline: exchange.NoDeadline,
		})
		require.NoError(t, err)
	}
}

func TestFormatPriceX96(t *testing.T) {
	tests := []struct {
		name     string
		priceX96 *big.Int
		expected string
	}{
		{
			name:     "nil",
			priceX96: nil,
			expected: "",
		},
		{
			name:     "one",
			priceX96: safemath.Q96,
			expected: "1",
		},
		{
			name:     "half",
			priceX96: new(big.Int).Rsh(safemath.Q96, 1),
			expected: "0.5",
		},
		{
			name:     "large",
			priceX96: new(big.Int).Mul(safemath.Q96, big.NewInt(65_000)),
			expected: "65000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatPriceX96(tt.priceX96))
		})
	}
}

func TestGetHeight(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	reply := GetHeightReply{}
	require.NoError(f.service.GetHeight(nil, nil, &reply))
	require.Equal(json.Uint64(3), reply.Height)
	require.Equal(json.Uint64(1_700_000_000), reply.Timestamp)
}

func TestGetMarket(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	markets := GetMarketsReply{}
	require.NoError(f.service.GetMarkets(nil, nil, &markets))
	require.Equal([]string{testMarket}, markets.Markets)

	reply := GetMarketReply{}
	require.NoError(f.service.GetMarket(nil, &MarketArgs{Market: testMarket}, &reply))
	require.Equal(testMarket, reply.Symbol)
	require.Equal("open", reply.Status)
	require.Equal("1", reply.SharePrice)
	require.Zero(big.NewInt(1_000_000).Cmp(reply.Base))

	err := f.service.GetMarket(nil, &MarketArgs{Market: "ETH"}, &GetMarketReply{})
	require.ErrorIs(err, exchange.ErrMarketNotFound)
}

func TestGetAccount(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	err := f.service.GetAccount(nil, &TraderArgs{}, &GetAccountReply{})
	require.ErrorIs(err, errMissingTrader)

	reply := GetAccountReply{}
	require.NoError(f.service.GetAccount(nil, &TraderArgs{Trader: f.taker}, &reply))
	require.Equal(f.taker, reply.Account.ID)
	require.Zero(big.NewInt(1_000_000).Cmp(reply.Account.Collateral))

	margin := exchange.MarginInfo{}
	require.NoError(f.service.GetMarginInfo(nil, &TraderArgs{Trader: f.maker}, &margin))
	require.True(margin.HasEnoughInitialMargin)

	position := exchange.PositionInfo{}
	require.NoError(f.service.GetPosition(nil, &PositionArgs{Trader: f.maker, Market: testMarket}, &position))
	require.Equal(testMarket, position.Market)
}

func TestGetOrderBook(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)
	f.placeBids(t, 3)

	reply := GetOrderBookReply{}
	require.NoError(f.service.GetOrderBook(nil, &GetOrderBookArgs{Market: testMarket}, &reply))
	require.Len(reply.Bids, 3)
	require.Empty(reply.Asks)
	require.Positive(reply.Bids[0].PriceX96.Cmp(reply.Bids[1].PriceX96))

	reply = GetOrderBookReply{}
	require.NoError(f.service.GetOrderBook(nil, &GetOrderBookArgs{Market: testMarket, Limit: 2}, &reply))
	require.Len(reply.Bids, 2)

	f.backend.options.MaxOrderBookDepth = 1
	reply = GetOrderBookReply{}
	require.NoError(f.service.GetOrderBook(nil, &GetOrderBookArgs{Market: testMarket, Limit: 2}, &reply))
	require.Len(reply.Bids, 1)

	orderIDs := GetLimitOrderIDsReply{}
	require.NoError(f.service.GetLimitOrderIDs(nil, &GetLimitOrderIDsArgs{
		Trader: f.taker,
		Market: testMarket,
		IsBid:  true,
	}, &orderIDs))
	require.Len(orderIDs.OrderIDs, 3)

	order := GetLimitOrderReply{}
	require.NoError(f.service.GetLimitOrder(nil, &GetLimitOrderArgs{
		Market:  testMarket,
		OrderID: json.Uint64(orderIDs.OrderIDs[0]),
	}, &order))
	require.Equal(f.taker, order.Order.Owner)
	require.False(order.Executed)

	orderIDs = GetLimitOrderIDsReply{}
	require.NoError(f.service.GetLimitOrderIDs(nil, &GetLimitOrderIDsArgs{
		Trader: f.maker,
		Market: testMarket,
	}, &orderIDs))
	require.NotNil(orderIDs.OrderIDs)
	require.Empty(orderIDs.OrderIDs)
}

func TestPreviewAndMaxTrade(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	args := &exchange.TradeParams{
		Trader:       f.taker,
		Market:       testMarket,
		IsExactInput: false,
		Amount:       big.NewInt(1_000),
	}
	preview := exchange.TradeResult{}
	require.NoError(f.service.PreviewTrade(nil, args, &preview))
	require.Zero(big.NewInt(1_000).Cmp(preview.Base))

	account := GetAccountReply{}
	require.NoError(f.service.GetAccount(nil, &TraderArgs{Trader: f.taker}, &account))
	require.Empty(account.Account.Markets)

	maxTrade := MaxTradeReply{}
	require.NoError(f.service.MaxTrade(nil, args, &maxTrade))
	require.Positive(maxTrade.Amount.Sign())

	f.backend.options.MaxTradeSearch = false
	err := f.service.MaxTrade(nil, args, &MaxTradeReply{})
	require.ErrorIs(err, errMaxTradeDisabled)

	funds := GetFundsReply{}
	require.NoError(f.service.GetFunds(nil, nil, &funds))
	require.Zero(funds.InsuranceFund.Sign())
	require.Zero(funds.ProtocolFee.Sign())
}

func TestIssueTx(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	raw := []byte(`{"type":"deposit"}`)
	encoded, err := formatting.Encode(formatting.Hex, raw)
	require.NoError(err)

	reply := IssueTxReply{}
	require.NoError(f.service.IssueTx(nil, &IssueTxArgs{
		Tx:       encoded,
		Encoding: formatting.Hex,
	}, &reply))
	require.Equal(ids.ID(sha256.Sum256(raw)), reply.TxID)
	require.Equal([][]byte{raw}, f.backend.issued)

	err = f.service.IssueTx(nil, &IssueTxArgs{
		Tx:       "0xnothex",
		Encoding: formatting.Hex,
	}, &IssueTxReply{})
	require.Error(err)

	pending := GetPendingTxsReply{}
	require.NoError(f.service.GetPendingTxs(nil, nil, &pending))
	require.Equal(json.Uint64(1), pending.Pending)
}

func TestServiceOverJSONRPC(t *testing.T) {
	require := require.New(t)
	f := newServiceFixture(t)

	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	require.NoError(server.RegisterService(f.service, "perp"))

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"perp.getHeight","params":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(http.StatusOK, rec.Code)

	var resp struct {
		Result GetHeightReply `json:"result"`
	}
	require.NoError(stdjson.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(json.Uint64(3), resp.Result.Height)
}
