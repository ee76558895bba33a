// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package json provides the JSON-RPC codec and string-encoded integers used
// by the VM APIs.
package json

import (
	"strconv"
	"strings"
)

const Null = "null"

// Uint32 is a uint32 that is JSON marshaled as a string.
type Uint32 uint32

func (u Uint32) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

func (u *Uint32) UnmarshalJSON(b []byte) error {
	str, ok := unquote(b)
	if !ok {
		return nil
	}
	val, err := strconv.ParseUint(str, 10, 32)
	*u = Uint32(val)
	return err
}

// Uint64 is a uint64 that is JSON marshaled as a string so that clients
// with float64 numbers do not lose precision.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	str, ok := unquote(b)
	if !ok {
		return nil
	}
	val, err := strconv.ParseUint(str, 10, 64)
	*u = Uint64(val)
	return err
}

// unquote strips optional surrounding quotes. It reports false for null.
func unquote(b []byte) (string, bool) {
	str := string(b)
	if str == Null {
		return "", false
	}
	if len(str) >= 2 && strings.HasPrefix(str, `"`) && strings.HasSuffix(str, `"`) {
		str = str[1 : len(str)-1]
	}
	return str, true
}
