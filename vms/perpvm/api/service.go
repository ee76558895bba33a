// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the read side of the perpetuals VM over JSON-RPC.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/perpdex/utils/json"
	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
	"github.com/luxfi/perpdex/vms/perpvm/orderbook"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// priceDecimals is the number of decimals of human readable prices.
const priceDecimals = 18

var (
	errMaxTradeDisabled = errors.New("maxTrade is disabled on this node")
	errMissingTrader    = errors.New("missing trader")

	q96 = decimal.NewFromBigInt(safemath.Q96, 0)
)

// Backend is the state the service reads from.
type Backend interface {
	Engine() *exchange.Engine
	Height() uint64
	LastBlockTime() time.Time
	Options() config.VMConfig
	IndexFeeds() []string
	IssueTx(b []byte) (ids.ID, error)
	PendingTxs() int
}

// Service is the JSON-RPC service of the perpetuals VM.
type Service struct {
	backend Backend
	log     log.Logger
}

func NewService(backend Backend, logger log.Logger) *Service {
	return &Service{
		backend: backend,
		log:     logger,
	}
}

// FormatPriceX96 renders an X96 price as a decimal string.
func FormatPriceX96(priceX96 *big.Int) string {
	if priceX96 == nil {
		return ""
	}
	return decimal.NewFromBigInt(priceX96, 0).DivRound(q96, priceDecimals).String()
}

func (s *Service) called(method string) {
	s.log.Debug("API called",
		"service", "perp",
		"method", method,
	)
}

type GetHeightReply struct {
	Height    json.Uint64 `json:"height"`
	Timestamp json.Uint64 `json:"timestamp"`
}

// GetHeight returns the height and time of the last processed block.
func (s *Service) GetHeight(_ *http.Request, _ *struct{}, reply *GetHeightReply) error {
	s.called("getHeight")

	reply.Height = json.Uint64(s.backend.Height())
	reply.Timestamp = json.Uint64(s.backend.LastBlockTime().Unix())
	return nil
}

type IssueTxArgs struct {
	Tx       string              `json:"tx"`
	Encoding formatting.Encoding `json:"encoding"`
}

type IssueTxReply struct {
	TxID ids.ID `json:"txID"`
}

// IssueTx adds an encoded tx to the mempool.
func (s *Service) IssueTx(_ *http.Request, args *IssueTxArgs, reply *IssueTxReply) error {
	s.called("issueTx")

	b, err := formatting.Decode(args.Encoding, args.Tx)
	if err != nil {
		return fmt.Errorf("couldn't decode tx: %w", err)
	}
	reply.TxID, err = s.backend.IssueTx(b)
	return err
}

type GetPendingTxsReply struct {
	Pending json.Uint64 `json:"pending"`
}

func (s *Service) GetPendingTxs(_ *http.Request, _ *struct{}, reply *GetPendingTxsReply) error {
	s.called("getPendingTxs")

	reply.Pending = json.Uint64(s.backend.PendingTxs())
	return nil
}

type GetMarketsReply struct {
	Markets []string `json:"markets"`
	// IndexFeeds are the markets whose index price is published on chain.
	IndexFeeds []string `json:"indexFeeds"`
}

func (s *Service) GetMarkets(_ *http.Request, _ *struct{}, reply *GetMarketsReply) error {
	s.called("getMarkets")

	reply.Markets = s.backend.Engine().Markets()
	reply.IndexFeeds = s.backend.IndexFeeds()
	return nil
}

type MarketArgs struct {
	Market string `json:"market"`
}

type GetMarketReply struct {
	*exchange.MarketInfo
	MarkPrice  string `json:"markPrice"`
	SharePrice string `json:"sharePrice"`
}

// GetMarket returns the pool, book and price state of a market.
func (s *Service) GetMarket(_ *http.Request, args *MarketArgs, reply *GetMarketReply) error {
	s.called("getMarket")

	info, err := s.backend.Engine().MarketInfo(args.Market)
	if err != nil {
		return err
	}
	reply.MarketInfo = info
	reply.MarkPrice = FormatPriceX96(info.MarkPriceX96)
	reply.SharePrice = FormatPriceX96(info.SharePriceX96)
	return nil
}

type TraderArgs struct {
	Trader ids.ShortID `json:"trader"`
}

type GetAccountReply struct {
	Account *account.Account `json:"account"`
}

// GetAccount returns the settled account of a trader.
func (s *Service) GetAccount(_ *http.Request, args *TraderArgs, reply *GetAccountReply) error {
	s.called("getAccount")

	if args.Trader == ids.ShortEmpty {
		return errMissingTrader
	}
	acc, err := s.backend.Engine().Account(args.Trader)
	if err != nil {
		return err
	}
	reply.Account = acc
	return nil
}

type PositionArgs struct {
	Trader ids.ShortID `json:"trader"`
	Market string      `json:"market"`
}

func (s *Service) GetPosition(_ *http.Request, args *PositionArgs, reply *exchange.PositionInfo) error {
	s.called("getPosition")

	if args.Trader == ids.ShortEmpty {
		return errMissingTrader
	}
	info, err := s.backend.Engine().Position(args.Trader, args.Market)
	if err != nil {
		return err
	}
	*reply = *info
	return nil
}

func (s *Service) GetMarginInfo(_ *http.Request, args *TraderArgs, reply *exchange.MarginInfo) error {
	s.called("getMarginInfo")

	if args.Trader == ids.ShortEmpty {
		return errMissingTrader
	}
	info, err := s.backend.Engine().MarginInfo(args.Trader)
	if err != nil {
		return err
	}
	*reply = *info
	return nil
}

type GetOrderBookArgs struct {
	Market string `json:"market"`
	// Limit caps the number of levels per side. Zero or a value above the
	// node limit means the node limit.
	Limit json.Uint32 `json:"limit"`
}

type GetOrderBookReply struct {
	Bids []orderbook.Level `json:"bids"`
	Asks []orderbook.Level `json:"asks"`
}

// GetOrderBook returns aggregated price levels of both sides, best first.
func (s *Service) GetOrderBook(_ *http.Request, args *GetOrderBookArgs, reply *GetOrderBookReply) error {
	s.called("getOrderBook")

	limit := s.backend.Options().MaxOrderBookDepth
	if args.Limit > 0 && int(args.Limit) < limit {
		limit = int(args.Limit)
	}

	engine := s.backend.Engine()
	bids, err := engine.OrderBookDepth(args.Market, true, limit)
	if err != nil {
		return err
	}
	asks, err := engine.OrderBookDepth(args.Market, false, limit)
	if err != nil {
		return err
	}
	reply.Bids = bids
	reply.Asks = asks
	return nil
}

type GetLimitOrderArgs struct {
	Market  string      `json:"market"`
	OrderID json.Uint64 `json:"orderId"`
}

type GetLimitOrderReply struct {
	Order    orderbook.Order `json:"order"`
	Executed bool            `json:"executed"`
}

func (s *Service) GetLimitOrder(_ *http.Request, args *GetLimitOrderArgs, reply *GetLimitOrderReply) error {
	s.called("getLimitOrder")

	order, err := s.backend.Engine().LimitOrderInfo(args.Market, uint64(args.OrderID))
	if err != nil {
		return err
	}
	reply.Order = order
	reply.Executed = order.Executed()
	return nil
}

type GetLimitOrderIDsArgs struct {
	Trader ids.ShortID `json:"trader"`
	Market string      `json:"market"`
	IsBid  bool        `json:"isBid"`
}

type GetLimitOrderIDsReply struct {
	OrderIDs []uint64 `json:"orderIds"`
}

func (s *Service) GetLimitOrderIDs(_ *http.Request, args *GetLimitOrderIDsArgs, reply *GetLimitOrderIDsReply) error {
	s.called("getLimitOrderIDs")

	reply.OrderIDs = s.backend.Engine().LimitOrderIDs(args.Trader, args.Market, args.IsBid)
	if reply.OrderIDs == nil {
		reply.OrderIDs = []uint64{}
	}
	return nil
}

type GetFundsReply struct {
	InsuranceFund *big.Int `json:"insuranceFund"`
	ProtocolFee   *big.Int `json:"protocolFee"`
}

// GetFunds returns the insurance fund and the accrued protocol fee.
func (s *Service) GetFunds(_ *http.Request, _ *struct{}, reply *GetFundsReply) error {
	s.called("getFunds")

	engine := s.backend.Engine()
	reply.InsuranceFund = engine.InsuranceFund()
	reply.ProtocolFee = engine.ProtocolFee()
	return nil
}

// PreviewTrade simulates a trade at the current state without committing
// it. A zero deadline never expires.
func (s *Service) PreviewTrade(_ *http.Request, args *exchange.TradeParams, reply *exchange.TradeResult) error {
	s.called("previewTrade")

	p := *args
	if p.Deadline == 0 {
		p.Deadline = exchange.NoDeadline
	}
	res, err := s.backend.Engine().PreviewTrade(p)
	if err != nil {
		return err
	}
	*reply = *res
	return nil
}

type MaxTradeReply struct {
	Amount *big.Int `json:"amount"`
}

// MaxTrade returns the largest amount of args that would succeed.
func (s *Service) MaxTrade(_ *http.Request, args *exchange.TradeParams, reply *MaxTradeReply) error {
	s.called("maxTrade")

	if !s.backend.Options().MaxTradeSearch {
		return errMaxTradeDisabled
	}
	amount, err := s.backend.Engine().MaxTrade(*args)
	if err != nil {
		return err
	}
	reply.Amount = amount
	return nil
}
