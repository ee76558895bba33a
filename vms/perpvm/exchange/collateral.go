// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"math/big"

	"github.com/luxfi/ids"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// Deposit moves amount from the trader's external balance into collateral.
// Negative collateral left by a liquidation is first covered from the
// insurance fund.
func (e *Engine) Deposit(trader ids.ShortID, amount *big.Int) ([]Event, error) {
	return e.run("deposit", func(o *overlay) error {
		if err := checkPositive(amount); err != nil {
			return err
		}
		a := o.account(trader)
		o.coverFromInsurance(a)
		a.Collateral = safemath.Sum(a.Collateral, amount)
		o.emit(&Deposited{Trader: trader, Amount: safemath.Clone(amount)})
		return e.vault.Deposit(trader, amount)
	})
}

// Withdraw moves amount of collateral to the trader's external balance. The
// account must keep its initial margin.
func (e *Engine) Withdraw(trader ids.ShortID, amount *big.Int) ([]Event, error) {
	return e.run("withdraw", func(o *overlay) error {
		if err := checkPositive(amount); err != nil {
			return err
		}
		a := o.account(trader)
		if err := o.settle(a); err != nil {
			return err
		}
		if amount.Cmp(a.Collateral) > 0 {
			return ErrInsufficientCollateral
		}
		a.Collateral = safemath.Diff(a.Collateral, amount)
		if err := o.requireInitialMargin(a); err != nil {
			return err
		}
		o.emit(&Withdrawn{Trader: trader, Amount: safemath.Clone(amount)})
		return e.vault.Withdraw(trader, amount)
	})
}

// DonateInsuranceFund moves amount from an external balance into the
// insurance fund.
func (e *Engine) DonateInsuranceFund(from ids.ShortID, amount *big.Int) ([]Event, error) {
	return e.run("donate_insurance_fund", func(o *overlay) error {
		if err := checkPositive(amount); err != nil {
			return err
		}
		o.insuranceFund = safemath.Sum(o.insuranceFund, amount)
		o.emit(&InsuranceFundDonated{From: from, Amount: safemath.Clone(amount)})
		return e.vault.Deposit(from, amount)
	})
}

// TransferProtocolFee moves accrued protocol fees into the collateral of to.
// Only the owner may call it.
func (e *Engine) TransferProtocolFee(caller, to ids.ShortID, amount *big.Int) ([]Event, error) {
	return e.run("transfer_protocol_fee", func(o *overlay) error {
		if err := o.requireOwner(caller); err != nil {
			return err
		}
		if err := checkPositive(amount); err != nil {
			return err
		}
		if amount.Cmp(o.protocolFee) > 0 {
			return ErrInsufficientProtocolFee
		}
		o.protocolFee = safemath.Diff(o.protocolFee, amount)
		a := o.account(to)
		a.Collateral = safemath.Sum(a.Collateral, amount)
		o.emit(&ProtocolFeeTransferred{To: to, Amount: safemath.Clone(amount)})
		return nil
	})
}
