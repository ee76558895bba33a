// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

// Visitor dispatches on the concrete transaction type.
type Visitor interface {
	// Collateral:
	DepositTx(*DepositTx) error
	WithdrawTx(*WithdrawTx) error
	DonateInsuranceFundTx(*DonateInsuranceFundTx) error
	TransferProtocolFeeTx(*TransferProtocolFeeTx) error

	// Trading:
	TradeTx(*TradeTx) error
	AddLiquidityTx(*AddLiquidityTx) error
	RemoveLiquidityTx(*RemoveLiquidityTx) error
	CreateLimitOrderTx(*CreateLimitOrderTx) error
	CancelLimitOrderTx(*CancelLimitOrderTx) error
	SettleLimitOrdersTx(*SettleLimitOrdersTx) error
	CloseMarketTx(*CloseMarketTx) error

	// Administration:
	AddMarketTx(*AddMarketTx) error
	SetMarketStatusTx(*SetMarketStatusTx) error
	SetMarginRatiosTx(*SetMarginRatiosTx) error
	SetLiquidationRewardRatioTx(*SetLiquidationRewardRatioTx) error
	SetProtocolFeeRatioTx(*SetProtocolFeeRatioTx) error
	SetMaxMarketsPerAccountTx(*SetMaxMarketsPerAccountTx) error
	SetMaxOrdersPerAccountTx(*SetMaxOrdersPerAccountTx) error
	UpdateIndexPriceTx(*UpdateIndexPriceTx) error
}
