// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txs defines the transactions accepted by the perpetuals VM.
package txs

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

var (
	ErrInvalidTxType = errors.New("invalid transaction type")
	ErrMissingSender = errors.New("missing sender")
	ErrNilTx         = errors.New("nil transaction")
)

// Type identifies the kind of an unsigned transaction.
type Type uint8

const (
	TypeDeposit Type = iota
	TypeWithdraw
	TypeTrade
	TypeAddLiquidity
	TypeRemoveLiquidity
	TypeCreateLimitOrder
	TypeCancelLimitOrder
	TypeSettleLimitOrders
	TypeCloseMarket
	TypeDonateInsuranceFund
	TypeTransferProtocolFee
	TypeAddMarket
	TypeSetMarketStatus
	TypeSetMarginRatios
	TypeSetLiquidationRewardRatio
	TypeSetProtocolFeeRatio
	TypeSetMaxMarketsPerAccount
	TypeSetMaxOrdersPerAccount
	TypeUpdateIndexPrice
)

var typeNames = map[Type]string{
	TypeDeposit:                   "deposit",
	TypeWithdraw:                  "withdraw",
	TypeTrade:                     "trade",
	TypeAddLiquidity:              "add_liquidity",
	TypeRemoveLiquidity:           "remove_liquidity",
	TypeCreateLimitOrder:          "create_limit_order",
	TypeCancelLimitOrder:          "cancel_limit_order",
	TypeSettleLimitOrders:         "settle_limit_orders",
	TypeCloseMarket:               "close_market",
	TypeDonateInsuranceFund:       "donate_insurance_fund",
	TypeTransferProtocolFee:       "transfer_protocol_fee",
	TypeAddMarket:                 "add_market",
	TypeSetMarketStatus:           "set_market_status",
	TypeSetMarginRatios:           "set_margin_ratios",
	TypeSetLiquidationRewardRatio: "set_liquidation_reward_ratio",
	TypeSetProtocolFeeRatio:       "set_protocol_fee_ratio",
	TypeSetMaxMarketsPerAccount:   "set_max_markets_per_account",
	TypeSetMaxOrdersPerAccount:    "set_max_orders_per_account",
	TypeUpdateIndexPrice:          "update_index_price",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t Type) MarshalJSON() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTxType, t)
	}
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for typ, n := range typeNames {
		if n == name {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidTxType, name)
}

// UnsignedTx is the payload of a transaction.
type UnsignedTx interface {
	Type() Type
	// Sender is the account submitting the transaction.
	Sender() ids.ShortID
	Visit(Visitor) error
}

// BaseTx carries the fields shared by every transaction.
type BaseTx struct {
	From ids.ShortID `json:"from"`
}

func (tx *BaseTx) Sender() ids.ShortID { return tx.From }

// Tx is a transaction as submitted in a block.
type Tx struct {
	Unsigned UnsignedTx

	id    ids.ID
	bytes []byte
}

type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewTx encodes unsigned and computes its id.
func NewTx(unsigned UnsignedTx) (*Tx, error) {
	if unsigned == nil {
		return nil, ErrNilTx
	}
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(envelope{
		Type:    unsigned.Type(),
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	tx := &Tx{Unsigned: unsigned}
	tx.setBytes(b)
	return tx, tx.SyntacticVerify()
}

// Parse decodes a transaction produced by NewTx.
func Parse(b []byte) (*Tx, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	unsigned, err := newUnsigned(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, unsigned); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", env.Type, err)
	}
	tx := &Tx{Unsigned: unsigned}
	tx.setBytes(b)
	return tx, tx.SyntacticVerify()
}

func (tx *Tx) setBytes(b []byte) {
	tx.bytes = b
	tx.id = ids.ID(sha256.Sum256(b))
}

// ID is the hash of the encoded transaction.
func (tx *Tx) ID() ids.ID { return tx.id }

// Bytes returns the encoded transaction.
func (tx *Tx) Bytes() []byte { return tx.bytes }

// SyntacticVerify checks the parts of a transaction that do not depend on
// state. Amounts and prices are checked by the engine.
func (tx *Tx) SyntacticVerify() error {
	if tx == nil || tx.Unsigned == nil {
		return ErrNilTx
	}
	if tx.Unsigned.Sender() == ids.ShortEmpty {
		return ErrMissingSender
	}
	return nil
}

func newUnsigned(t Type) (UnsignedTx, error) {
	switch t {
	case TypeDeposit:
		return &DepositTx{}, nil
	case TypeWithdraw:
		return &WithdrawTx{}, nil
	case TypeTrade:
		return &TradeTx{}, nil
	case TypeAddLiquidity:
		return &AddLiquidityTx{}, nil
	case TypeRemoveLiquidity:
		return &RemoveLiquidityTx{}, nil
	case TypeCreateLimitOrder:
		return &CreateLimitOrderTx{}, nil
	case TypeCancelLimitOrder:
		return &CancelLimitOrderTx{}, nil
	case TypeSettleLimitOrders:
		return &SettleLimitOrdersTx{}, nil
	case TypeCloseMarket:
		return &CloseMarketTx{}, nil
	case TypeDonateInsuranceFund:
		return &DonateInsuranceFundTx{}, nil
	case TypeTransferProtocolFee:
		return &TransferProtocolFeeTx{}, nil
	case TypeAddMarket:
		return &AddMarketTx{}, nil
	case TypeSetMarketStatus:
		return &SetMarketStatusTx{}, nil
	case TypeSetMarginRatios:
		return &SetMarginRatiosTx{}, nil
	case TypeSetLiquidationRewardRatio:
		return &SetLiquidationRewardRatioTx{}, nil
	case TypeSetProtocolFeeRatio:
		return &SetProtocolFeeRatioTx{}, nil
	case TypeSetMaxMarketsPerAccount:
		return &SetMaxMarketsPerAccountTx{}, nil
	case TypeSetMaxOrdersPerAccount:
		return &SetMaxOrdersPerAccountTx{}, nil
	case TypeUpdateIndexPrice:
		return &UpdateIndexPriceTx{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTxType, t)
	}
}
