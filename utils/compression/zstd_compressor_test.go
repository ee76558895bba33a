// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package compression

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const maxTestSize = 1 << 10

func TestZstdCompressDecompress(t *testing.T) {
	require := require.New(t)

	c, err := NewZstdCompressor(maxTestSize)
	require.NoError(err)

	msg := bytes.Repeat([]byte(`{"market":"BTC"}`), 32)
	compressed, err := c.Compress(msg)
	require.NoError(err)
	require.Less(len(compressed), len(msg))

	decompressed, err := c.Decompress(compressed)
	require.NoError(err)
	require.Equal(msg, decompressed)

	_, err = c.Decompress([]byte("{"))
	require.Error(err)
}

func TestZstdSizeLimits(t *testing.T) {
	require := require.New(t)

	c, err := NewZstdCompressor(maxTestSize)
	require.NoError(err)

	_, err = c.Compress(make([]byte, maxTestSize+1))
	require.ErrorIs(err, ErrMsgTooLarge)

	large, err := NewZstdCompressor(4 * maxTestSize)
	require.NoError(err)
	compressed, err := large.Compress(make([]byte, 2*maxTestSize))
	require.NoError(err)
	_, err = c.Decompress(compressed)
	require.ErrorIs(err, ErrDecompressedMsgTooLarge)

	_, err = NewZstdCompressor(math.MaxInt64)
	require.ErrorIs(err, ErrInvalidMaxSizeCompressor)
	_, err = NewZstdCompressor(0)
	require.ErrorIs(err, ErrInvalidMaxSizeCompressor)
}
