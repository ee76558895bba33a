// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package perpvm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luxfi/perpdex/vms/perpvm/config"
	"github.com/luxfi/perpdex/vms/perpvm/custody"
)

// Genesis is the initial state of the chain.
type Genesis struct {
	// Timestamp is the unix time of the genesis state.
	Timestamp uint64        `json:"timestamp"`
	Config    config.Config `json:"config"`
	// Balances are the initial external balances of the settlement asset.
	Balances []custody.Balance `json:"balances"`
	Markets  []GenesisMarket   `json:"markets"`
}

// GenesisMarket is a market created at genesis by the owner.
type GenesisMarket struct {
	Symbol string              `json:"symbol"`
	Config config.MarketConfig `json:"config"`
	// OracleWindowSec attaches a TWAP index feed when non-zero.
	OracleWindowSec uint64 `json:"oracleWindowSec"`
	OracleDecimals  uint8  `json:"oracleDecimals"`
	Open            bool   `json:"open"`
}

// DefaultGenesis has the default config and no markets.
func DefaultGenesis() *Genesis {
	return &Genesis{
		Config: config.DefaultConfig(),
	}
}

// ParseGenesis decodes genesis bytes. Empty bytes yield DefaultGenesis.
func ParseGenesis(b []byte) (*Genesis, error) {
	g := DefaultGenesis()
	if len(strings.TrimSpace(string(b))) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(b, g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(g.Markets))
	for _, m := range g.Markets {
		if _, ok := seen[m.Symbol]; ok {
			return nil, fmt.Errorf("%w: duplicate genesis market %q", config.ErrInvalidConfig, m.Symbol)
		}
		seen[m.Symbol] = struct{}{}
	}
	return g, nil
}
