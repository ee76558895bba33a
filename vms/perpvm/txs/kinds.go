// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"math/big"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/exchange"
)

var (
	_ UnsignedTx = (*DepositTx)(nil)
	_ UnsignedTx = (*WithdrawTx)(nil)
	_ UnsignedTx = (*TradeTx)(nil)
	_ UnsignedTx = (*AddLiquidityTx)(nil)
	_ UnsignedTx = (*RemoveLiquidityTx)(nil)
	_ UnsignedTx = (*CreateLimitOrderTx)(nil)
	_ UnsignedTx = (*CancelLimitOrderTx)(nil)
	_ UnsignedTx = (*SettleLimitOrdersTx)(nil)
	_ UnsignedTx = (*CloseMarketTx)(nil)
	_ UnsignedTx = (*DonateInsuranceFundTx)(nil)
	_ UnsignedTx = (*TransferProtocolFeeTx)(nil)
	_ UnsignedTx = (*AddMarketTx)(nil)
	_ UnsignedTx = (*SetMarketStatusTx)(nil)
	_ UnsignedTx = (*SetMarginRatiosTx)(nil)
	_ UnsignedTx = (*SetLiquidationRewardRatioTx)(nil)
	_ UnsignedTx = (*SetProtocolFeeRatioTx)(nil)
	_ UnsignedTx = (*SetMaxMarketsPerAccountTx)(nil)
	_ UnsignedTx = (*SetMaxOrdersPerAccountTx)(nil)
	_ UnsignedTx = (*UpdateIndexPriceTx)(nil)
)

// DepositTx moves collateral from the sender's external balance.
type DepositTx struct {
	BaseTx
	Amount *big.Int `json:"amount"`
}

func (*DepositTx) Type() Type               { return TypeDeposit }
func (tx *DepositTx) Visit(v Visitor) error { return v.DepositTx(tx) }

// WithdrawTx returns collateral to the sender's external balance.
type WithdrawTx struct {
	BaseTx
	Amount *big.Int `json:"amount"`
}

func (*WithdrawTx) Type() Type               { return TypeWithdraw }
func (tx *WithdrawTx) Visit(v Visitor) error { return v.WithdrawTx(tx) }

// TradeTx trades against the book and pool. The sender is the caller; a
// different Params.Trader makes it a liquidation.
type TradeTx struct {
	BaseTx
	Params exchange.TradeParams `json:"params"`
}

func (*TradeTx) Type() Type               { return TypeTrade }
func (tx *TradeTx) Visit(v Visitor) error { return v.TradeTx(tx) }

// AddLiquidityTx adds pool liquidity for the sender.
type AddLiquidityTx struct {
	BaseTx
	Params exchange.AddLiquidityParams `json:"params"`
}

func (*AddLiquidityTx) Type() Type               { return TypeAddLiquidity }
func (tx *AddLiquidityTx) Visit(v Visitor) error { return v.AddLiquidityTx(tx) }

// RemoveLiquidityTx redeems pool liquidity of Params.Trader.
type RemoveLiquidityTx struct {
	BaseTx
	Params exchange.RemoveLiquidityParams `json:"params"`
}

func (*RemoveLiquidityTx) Type() Type               { return TypeRemoveLiquidity }
func (tx *RemoveLiquidityTx) Visit(v Visitor) error { return v.RemoveLiquidityTx(tx) }

// CreateLimitOrderTx places a limit order for the sender.
type CreateLimitOrderTx struct {
	BaseTx
	Params exchange.LimitOrderParams `json:"params"`
}

func (*CreateLimitOrderTx) Type() Type               { return TypeCreateLimitOrder }
func (tx *CreateLimitOrderTx) Visit(v Visitor) error { return v.CreateLimitOrderTx(tx) }

// CancelLimitOrderTx cancels an order of Trader. Only the owner of the
// order may cancel it unless Trader is below maintenance margin.
type CancelLimitOrderTx struct {
	BaseTx
	Trader   ids.ShortID `json:"trader"`
	Market   string      `json:"market"`
	OrderID  uint64      `json:"orderId"`
	Deadline uint64      `json:"deadline"`
}

func (*CancelLimitOrderTx) Type() Type               { return TypeCancelLimitOrder }
func (tx *CancelLimitOrderTx) Visit(v Visitor) error { return v.CancelLimitOrderTx(tx) }

// SettleLimitOrdersTx settles the executed orders of Trader.
type SettleLimitOrdersTx struct {
	BaseTx
	Trader ids.ShortID `json:"trader"`
}

func (*SettleLimitOrdersTx) Type() Type               { return TypeSettleLimitOrders }
func (tx *SettleLimitOrdersTx) Visit(v Visitor) error { return v.SettleLimitOrdersTx(tx) }

// CloseMarketTx closes the sender's position in a closed market.
type CloseMarketTx struct {
	BaseTx
	Market string `json:"market"`
}

func (*CloseMarketTx) Type() Type               { return TypeCloseMarket }
func (tx *CloseMarketTx) Visit(v Visitor) error { return v.CloseMarketTx(tx) }

// DonateInsuranceFundTx moves external funds into the insurance fund.
type DonateInsuranceFundTx struct {
	BaseTx
	Amount *big.Int `json:"amount"`
}

func (*DonateInsuranceFundTx) Type() Type               { return TypeDonateInsuranceFund }
func (tx *DonateInsuranceFundTx) Visit(v Visitor) error { return v.DonateInsuranceFundTx(tx) }

// TransferProtocolFeeTx credits accrued protocol fees to To's collateral.
type TransferProtocolFeeTx struct {
	BaseTx
	To     ids.ShortID `json:"to"`
	Amount *big.Int    `json:"amount"`
}

func (*TransferProtocolFeeTx) Type() Type               { return TypeTransferProtocolFee }
func (tx *TransferProtocolFeeTx) Visit(v Visitor) error { return v.TransferProtocolFeeTx(tx) }

// AddMarketTx registers a market. A non-zero OracleWindowSec attaches a
// TWAP index feed fed by UpdateIndexPriceTx.
type AddMarketTx struct {
	BaseTx
	Symbol          string              `json:"symbol"`
	Config          config.MarketConfig `json:"config"`
	OracleWindowSec uint64              `json:"oracleWindowSec"`
	OracleDecimals  uint8               `json:"oracleDecimals"`
}

func (*AddMarketTx) Type() Type               { return TypeAddMarket }
func (tx *AddMarketTx) Visit(v Visitor) error { return v.AddMarketTx(tx) }

type SetMarketStatusTx struct {
	BaseTx
	Market string                `json:"market"`
	Status exchange.MarketStatus `json:"status"`
}

func (*SetMarketStatusTx) Type() Type               { return TypeSetMarketStatus }
func (tx *SetMarketStatusTx) Visit(v Visitor) error { return v.SetMarketStatusTx(tx) }

type SetMarginRatiosTx struct {
	BaseTx
	ImRatio uint32 `json:"imRatio"`
	MmRatio uint32 `json:"mmRatio"`
}

func (*SetMarginRatiosTx) Type() Type               { return TypeSetMarginRatios }
func (tx *SetMarginRatiosTx) Visit(v Visitor) error { return v.SetMarginRatiosTx(tx) }

type SetLiquidationRewardRatioTx struct {
	BaseTx
	Ratio uint32 `json:"ratio"`
}

func (*SetLiquidationRewardRatioTx) Type() Type { return TypeSetLiquidationRewardRatio }
func (tx *SetLiquidationRewardRatioTx) Visit(v Visitor) error {
	return v.SetLiquidationRewardRatioTx(tx)
}

type SetProtocolFeeRatioTx struct {
	BaseTx
	Ratio uint32 `json:"ratio"`
}

func (*SetProtocolFeeRatioTx) Type() Type               { return TypeSetProtocolFeeRatio }
func (tx *SetProtocolFeeRatioTx) Visit(v Visitor) error { return v.SetProtocolFeeRatioTx(tx) }

type SetMaxMarketsPerAccountTx struct {
	BaseTx
	Limit uint32 `json:"limit"`
}

func (*SetMaxMarketsPerAccountTx) Type() Type               { return TypeSetMaxMarketsPerAccount }
func (tx *SetMaxMarketsPerAccountTx) Visit(v Visitor) error { return v.SetMaxMarketsPerAccountTx(tx) }

type SetMaxOrdersPerAccountTx struct {
	BaseTx
	Limit uint32 `json:"limit"`
}

func (*SetMaxOrdersPerAccountTx) Type() Type               { return TypeSetMaxOrdersPerAccount }
func (tx *SetMaxOrdersPerAccountTx) Visit(v Visitor) error { return v.SetMaxOrdersPerAccountTx(tx) }

// UpdateIndexPriceTx records an index price observation for a market's
// TWAP feed at the block time. Only the owner reports prices.
type UpdateIndexPriceTx struct {
	BaseTx
	Market string   `json:"market"`
	Price  *big.Int `json:"price"`
}

func (*UpdateIndexPriceTx) Type() Type               { return TypeUpdateIndexPrice }
func (tx *UpdateIndexPriceTx) Visit(v Visitor) error { return v.UpdateIndexPriceTx(tx) }
