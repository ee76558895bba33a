// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mempool holds issued transactions until a block includes them.
package mempool

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
)

const (
	// maxTxSize is the largest tx the mempool accepts.
	maxTxSize = 64 * 1024
	// maxMempoolSize is the total tx bytes the mempool holds.
	maxMempoolSize = 64 * 1024 * 1024
)

var (
	ErrDuplicateTx = errors.New("duplicate tx")
	ErrTxTooLarge  = errors.New("tx too large")
	ErrMempoolFull = errors.New("mempool is full")
)

// Tx is anything with a stable id and an encoding.
type Tx interface {
	ID() ids.ID
	Bytes() []byte
}

// Mempool is a FIFO of unique txs bounded by total size. It is safe for
// concurrent use.
type Mempool[T Tx] struct {
	metrics Metrics

	lock           sync.RWMutex
	order          *list.List
	txs            map[ids.ID]*list.Element
	bytesAvailable int
}

func New[T Tx](metrics Metrics) *Mempool[T] {
	m := &Mempool[T]{
		metrics:        metrics,
		order:          list.New(),
		txs:            make(map[ids.ID]*list.Element),
		bytesAvailable: maxMempoolSize,
	}
	m.update()
	return m
}

// Add appends tx unless it is already pending or does not fit.
func (m *Mempool[T]) Add(tx T) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	txID := tx.ID()
	if _, ok := m.txs[txID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, txID)
	}
	size := len(tx.Bytes())
	if size > maxTxSize {
		return fmt.Errorf("%w: %s has %d bytes", ErrTxTooLarge, txID, size)
	}
	if size > m.bytesAvailable {
		return fmt.Errorf("%w: %s needs %d bytes", ErrMempoolFull, txID, size)
	}

	m.txs[txID] = m.order.PushBack(tx)
	m.bytesAvailable -= size
	m.update()
	return nil
}

func (m *Mempool[T]) Get(txID ids.ID) (T, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	e, ok := m.txs[txID]
	if !ok {
		var zero T
		return zero, false
	}
	return e.Value.(T), true
}

// Remove drops txs that are pending. Unknown txs are ignored.
func (m *Mempool[T]) Remove(txs ...T) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, tx := range txs {
		m.remove(tx.ID())
	}
	m.update()
}

// RemoveIDs drops the pending txs with the given ids.
func (m *Mempool[T]) RemoveIDs(txIDs ...ids.ID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, txID := range txIDs {
		m.remove(txID)
	}
	m.update()
}

func (m *Mempool[T]) remove(txID ids.ID) {
	e, ok := m.txs[txID]
	if !ok {
		return
	}
	tx := m.order.Remove(e).(T)
	delete(m.txs, txID)
	m.bytesAvailable += len(tx.Bytes())
}

// Peek returns up to n of the oldest txs without removing them.
func (m *Mempool[T]) Peek(n int) []T {
	m.lock.RLock()
	defer m.lock.RUnlock()

	result := make([]T, 0, min(n, m.order.Len()))
	for e := m.order.Front(); e != nil && len(result) < n; e = e.Next() {
		result = append(result, e.Value.(T))
	}
	return result
}

// Iterate calls f on txs from oldest to newest until f returns false.
func (m *Mempool[T]) Iterate(f func(tx T) bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for e := m.order.Front(); e != nil; e = e.Next() {
		if !f(e.Value.(T)) {
			return
		}
	}
}

func (m *Mempool[T]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return m.order.Len()
}

func (m *Mempool[T]) update() {
	m.metrics.Update(m.order.Len(), m.bytesAvailable)
}
