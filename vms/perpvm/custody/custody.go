// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package custody holds the settlement asset backing account collateral.
package custody

import (
	"bytes"
	"errors"
	"math/big"
	"slices"
	"sync"

	"github.com/luxfi/ids"

	safemath "github.com/luxfi/perpdex/utils/math"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientHeld    = errors.New("insufficient held balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Vault moves the settlement asset between external balances and custody.
type Vault interface {
	// Deposit moves amount from from's external balance into custody.
	Deposit(from ids.ShortID, amount *big.Int) error
	// Withdraw moves amount from custody to to's external balance.
	Withdraw(to ids.ShortID, amount *big.Int) error
}

var _ Vault = (*Ledger)(nil)

// Ledger is an in-memory Vault.
type Ledger struct {
	mu       sync.RWMutex
	balances map[ids.ShortID]*big.Int
	held     *big.Int
}

// Balance is the external balance of one holder.
type Balance struct {
	ID     ids.ShortID `json:"id"`
	Amount *big.Int    `json:"amount"`
}

// Snapshot is the serialisable form of a Ledger. Balances are sorted by id.
type Snapshot struct {
	Balances []Balance `json:"balances"`
	Held     *big.Int  `json:"held"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[ids.ShortID]*big.Int),
		held:     new(big.Int),
	}
}

// Mint credits an external balance.
func (l *Ledger) Mint(to ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = safemath.Sum(l.balance(to), amount)
	return nil
}

func (l *Ledger) Deposit(from ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[from] = safemath.Diff(balance, amount)
	l.held = safemath.Sum(l.held, amount)
	return nil
}

func (l *Ledger) Withdraw(to ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held.Cmp(amount) < 0 {
		return ErrInsufficientHeld
	}
	l.held = safemath.Diff(l.held, amount)
	l.balances[to] = safemath.Sum(l.balance(to), amount)
	return nil
}

// Balance returns the external balance of id.
func (l *Ledger) Balance(id ids.ShortID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return safemath.Clone(l.balance(id))
}

// Held returns the total amount in custody.
func (l *Ledger) Held() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return safemath.Clone(l.held)
}

// Snapshot returns a copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Balances: make([]Balance, 0, len(l.balances)),
		Held:     safemath.Clone(l.held),
	}
	for id, b := range l.balances {
		s.Balances = append(s.Balances, Balance{ID: id, Amount: safemath.Clone(b)})
	}
	slices.SortFunc(s.Balances, func(a, b Balance) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return s
}

// Restore replaces the ledger state.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[ids.ShortID]*big.Int, len(s.Balances))
	for _, b := range s.Balances {
		l.balances[b.ID] = safemath.Clone(b.Amount)
	}
	l.held = safemath.Clone(s.Held)
}

// balance must be called with the lock held.
func (l *Ledger) balance(id ids.ShortID) *big.Int {
	if b, ok := l.balances[id]; ok {
		return b
	}
	return new(big.Int)
}
