// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package exchange

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/luxfi/ids"

	"github.com/luxfi/perpdex/vms/perpvm/account"
	"github.com/luxfi/perpdex/vms/perpvm/config"

	safemath "github.com/luxfi/perpdex/utils/math"
)

// Snapshot is the serialisable state of an engine. Markets are sorted by
// symbol and accounts by id. Price feeds are not part of it.
type Snapshot struct {
	Config        config.Config      `json:"config"`
	Markets       []*Market          `json:"markets"`
	Accounts      []*account.Account `json:"accounts"`
	InsuranceFund *big.Int           `json:"insuranceFund"`
	ProtocolFee   *big.Int           `json:"protocolFee"`
}

// Snapshot returns a deep copy of the engine state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &Snapshot{
		Config:        e.cfg,
		Markets:       make([]*Market, 0, len(e.markets)),
		Accounts:      make([]*account.Account, 0, len(e.accounts)),
		InsuranceFund: safemath.Clone(e.insuranceFund),
		ProtocolFee:   safemath.Clone(e.protocolFee),
	}
	for _, m := range e.markets {
		s.Markets = append(s.Markets, m.clone())
	}
	slices.SortFunc(s.Markets, func(a, b *Market) int {
		return strings.Compare(a.Symbol, b.Symbol)
	})
	for _, a := range e.accounts {
		s.Accounts = append(s.Accounts, a.Clone())
	}
	slices.SortFunc(s.Accounts, func(a, b *account.Account) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return s
}

// Restore replaces the engine state with s. Feeds already wired to a
// market of the same symbol are kept.
func (e *Engine) Restore(s *Snapshot) error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	markets := make(map[string]*Market, len(s.Markets))
	for _, m := range s.Markets {
		if m == nil || m.Pool == nil || m.Book == nil || m.Fee == nil || m.Funding == nil || m.PriceLimit == nil {
			return fmt.Errorf("%w: incomplete market in snapshot", ErrInvalidConfig)
		}
		if _, ok := markets[m.Symbol]; ok {
			return fmt.Errorf("%w: duplicate market %q", ErrInvalidConfig, m.Symbol)
		}
		markets[m.Symbol] = m.clone()
	}
	accounts := make(map[ids.ShortID]*account.Account, len(s.Accounts))
	for _, a := range s.Accounts {
		if a.Positions == nil {
			a.Positions = make(map[string]*account.Position)
		}
		accounts[a.ID] = a.Clone()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for symbol, m := range markets {
		if old, ok := e.markets[symbol]; ok {
			m.BaseFeed = old.BaseFeed
			m.QuoteFeed = old.QuoteFeed
		}
	}
	e.cfg = s.Config
	e.markets = markets
	e.accounts = accounts
	e.insuranceFund = safemath.Clone(s.InsuranceFund)
	e.protocolFee = safemath.Clone(s.ProtocolFee)
	e.metrics.setBalances(e.insuranceFund, e.protocolFee)
	return nil
}
