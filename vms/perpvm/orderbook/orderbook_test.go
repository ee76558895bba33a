// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orderbook

import (
	"encoding/json"
	"math/big"
	"sort"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	safemath "github.com/luxfi/perpdex/utils/math"
)

func price(v int64) *big.Int {
	return new(big.Int).Mul(safemath.Q96, big.NewInt(v))
}

func TestInsertValidation(t *testing.T) {
	require := require.New(t)

	b := New()
	owner := ids.GenerateTestShortID()
	_, err := b.Insert(owner, Ask, big.NewInt(0), price(1))
	require.ErrorIs(err, ErrInvalidAmount)
	_, err = b.Insert(owner, Ask, big.NewInt(1), big.NewInt(0))
	require.ErrorIs(err, ErrInvalidPrice)

	id1, err := b.Insert(owner, Ask, big.NewInt(1), price(1))
	require.NoError(err)
	id2, err := b.Insert(owner, Bid, big.NewInt(1), price(1))
	require.NoError(err)
	require.Equal(uint64(1), id1)
	require.Equal(uint64(2), id2)
}

func TestConsumeSamePriceFillsEarliestOnly(t *testing.T) {
	require := require.New(t)

	b := New()
	owner := ids.GenerateTestShortID()
	id1, err := b.Insert(owner, Ask, big.NewInt(1), price(2))
	require.NoError(err)
	id2, err := b.Insert(owner, Ask, big.NewInt(1), price(2))
	require.NoError(err)

	res, err := b.Consume(Ask, big.NewInt(1), nil)
	require.NoError(err)
	require.Equal(big.NewInt(1), res.Base)
	require.Equal(big.NewInt(2), res.Quote)
	require.Equal(id1, res.LastFullyFilledID)
	require.Zero(res.PartialID)
	require.Equal(uint64(1), res.ExecutionID)

	o1, ok := b.Order(id1)
	require.True(ok)
	require.True(o1.Executed())
	o2, ok := b.Order(id2)
	require.True(ok)
	require.Zero(o2.ExecutionID)
	require.Equal(1, b.Len(Ask))

	_, err = b.Cancel(id1)
	require.ErrorIs(err, ErrAlreadyExecuted)

	_, err = b.Settle(id2)
	require.ErrorIs(err, ErrNotExecuted)
	_, err = b.Settle(id1)
	require.NoError(err)
	_, ok = b.Order(id1)
	require.False(ok)
}

func TestConsumePartialAndBound(t *testing.T) {
	require := require.New(t)

	b := New()
	owner := ids.GenerateTestShortID()
	cheap, err := b.Insert(owner, Bid, big.NewInt(10), price(5))
	require.NoError(err)
	rich, err := b.Insert(owner, Bid, big.NewInt(10), price(6))
	require.NoError(err)

	// bids are consumed from the highest price down to the bound
	res, err := b.Consume(Bid, big.NewInt(15), price(6))
	require.NoError(err)
	require.Equal(big.NewInt(10), res.Base)
	require.Equal(big.NewInt(60), res.Quote)
	require.Equal(rich, res.LastFullyFilledID)

	res, err = b.Consume(Bid, big.NewInt(4), nil)
	require.NoError(err)
	require.Equal(cheap, res.PartialID)
	require.Equal(big.NewInt(6), res.PartialRemaining)
	require.Zero(res.ExecutionID)
	require.True(res.Fills[0].Partial)

	o, ok := b.Order(cheap)
	require.True(ok)
	require.Equal(big.NewInt(6), o.Base)
	require.False(o.Executed())
}

func TestCancel(t *testing.T) {
	require := require.New(t)

	b := New()
	id, err := b.Insert(ids.GenerateTestShortID(), Bid, big.NewInt(3), price(1))
	require.NoError(err)

	o, err := b.Cancel(id)
	require.NoError(err)
	require.Equal(big.NewInt(3), o.Base)
	require.Zero(b.Len(Bid))

	_, err = b.Cancel(id)
	require.ErrorIs(err, ErrOrderNotFound)
}

func TestCloneIsCopyOnWrite(t *testing.T) {
	require := require.New(t)

	b := New()
	id, err := b.Insert(ids.GenerateTestShortID(), Ask, big.NewInt(5), price(1))
	require.NoError(err)

	c := b.Clone()
	_, err = c.Consume(Ask, big.NewInt(2), nil)
	require.NoError(err)
	_, err = c.Insert(ids.GenerateTestShortID(), Ask, big.NewInt(1), price(1))
	require.NoError(err)

	o, ok := b.Order(id)
	require.True(ok)
	require.Equal(big.NewInt(5), o.Base)
	require.Equal(1, b.Len(Ask))
	require.Equal(2, c.Len(Ask))
}

func TestDepth(t *testing.T) {
	require := require.New(t)

	b := New()
	owner := ids.GenerateTestShortID()
	for _, p := range []int64{3, 1, 1, 2} {
		_, err := b.Insert(owner, Ask, big.NewInt(p), price(p))
		require.NoError(err)
	}
	levels := b.Depth(Ask, 2)
	require.Len(levels, 2)
	require.Equal(price(1), levels[0].PriceX96)
	require.Equal(big.NewInt(2), levels[0].Base)
	require.Equal(2, levels[0].Orders)
	require.Equal(price(2), levels[1].PriceX96)
}

func TestJSONKeepsExecutedOrders(t *testing.T) {
	require := require.New(t)

	b := New()
	owner := ids.GenerateTestShortID()
	filled, err := b.Insert(owner, Ask, big.NewInt(1), price(1))
	require.NoError(err)
	resting, err := b.Insert(owner, Ask, big.NewInt(1), price(2))
	require.NoError(err)
	_, err = b.Consume(Ask, big.NewInt(1), nil)
	require.NoError(err)

	data, err := json.Marshal(b)
	require.NoError(err)
	restored := New()
	require.NoError(json.Unmarshal(data, restored))

	o, ok := restored.Order(filled)
	require.True(ok)
	require.True(o.Executed())
	best, ok := restored.Best(Ask)
	require.True(ok)
	require.Equal(resting, best.ID)

	id, err := restored.Insert(owner, Bid, big.NewInt(1), price(1))
	require.NoError(err)
	require.Equal(uint64(3), id)
}

func TestConsumePriceTimePriorityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New()
		owner := ids.GenerateTestShortID()
		side := Side(rapid.IntRange(0, 1).Draw(t, "side"))

		type resting struct {
			id    uint64
			price int64
		}
		var orders []resting
		n := rapid.IntRange(1, 30).Draw(t, "orders")
		for i := 0; i < n; i++ {
			p := rapid.Int64Range(1, 5).Draw(t, "price")
			id, err := b.Insert(owner, side, big.NewInt(1), price(p))
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			orders = append(orders, resting{id: id, price: p})
		}
		sort.SliceStable(orders, func(i, j int) bool {
			if orders[i].price != orders[j].price {
				if side == Ask {
					return orders[i].price < orders[j].price
				}
				return orders[i].price > orders[j].price
			}
			return orders[i].id < orders[j].id
		})

		take := rapid.IntRange(0, n).Draw(t, "take")
		res, err := b.Consume(side, big.NewInt(int64(take)), nil)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if len(res.Fills) != take {
			t.Fatalf("filled %d orders, want %d", len(res.Fills), take)
		}
		for i, f := range res.Fills {
			if f.OrderID != orders[i].id {
				t.Fatalf("fill %d took order %d, want %d", i, f.OrderID, orders[i].id)
			}
		}
	})
}
