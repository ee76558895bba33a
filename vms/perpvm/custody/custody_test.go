// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package custody

import (
	"math/big"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestLedgerDepositWithdraw(t *testing.T) {
	require := require.New(t)

	l := NewLedger()
	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()

	require.ErrorIs(l.Deposit(alice, big.NewInt(1)), ErrInsufficientBalance)
	require.NoError(l.Mint(alice, big.NewInt(100)))
	require.NoError(l.Deposit(alice, big.NewInt(60)))
	require.Equal(big.NewInt(40), l.Balance(alice))
	require.Equal(big.NewInt(60), l.Held())

	require.NoError(l.Withdraw(bob, big.NewInt(10)))
	require.Equal(big.NewInt(10), l.Balance(bob))
	require.Equal(big.NewInt(50), l.Held())

	require.ErrorIs(l.Withdraw(bob, big.NewInt(51)), ErrInsufficientHeld)
	require.ErrorIs(l.Deposit(alice, big.NewInt(0)), ErrInvalidAmount)
}

func TestLedgerSnapshotRestore(t *testing.T) {
	require := require.New(t)

	l := NewLedger()
	alice := ids.GenerateTestShortID()
	require.NoError(l.Mint(alice, big.NewInt(100)))
	require.NoError(l.Deposit(alice, big.NewInt(30)))

	restored := NewLedger()
	restored.Restore(l.Snapshot())
	require.Equal(big.NewInt(70), restored.Balance(alice))
	require.Equal(big.NewInt(30), restored.Held())
}
