// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockSetAndAdvance(t *testing.T) {
	require := require.New(t)

	c := Clock{}
	c.Set(time.Unix(1_000, 0))
	require.Equal(uint64(1_000), c.Unix())

	c.Advance(90 * time.Second)
	require.Equal(uint64(1_090), c.Unix())

	c.Sync()
	require.Greater(c.Unix(), uint64(1_090))
}
