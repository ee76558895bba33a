// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"time"

	"github.com/luxfi/metric"

	"github.com/luxfi/perpdex/utils/wrappers"
	"github.com/luxfi/perpdex/vms/perpvm/txs"

	utilmetric "github.com/luxfi/perpdex/utils/metric"
)

const (
	txLabel     = "tx"
	statusLabel = "status"

	statusAccepted = "accepted"
	statusFailed   = "failed"
)

var (
	_ Metrics = (*metricsImpl)(nil)

	errNotRegistry = errors.New("registerer must implement metric.Registry")

	txLabels = []string{txLabel, statusLabel}
)

type Metrics interface {
	utilmetric.APIInterceptor

	// MarkBlockProcessed records a processed block with numTxs txs that
	// took duration to apply and persist.
	MarkBlockProcessed(numTxs int, duration time.Duration)
	// MarkTxAccepted records a tx that was applied to the engine.
	MarkTxAccepted(tx *txs.Tx)
	// MarkTxFailed records a tx that was included but rejected. A nil tx
	// could not be parsed.
	MarkTxFailed(tx *txs.Tx)
}

type metricsImpl struct {
	numTxs       metric.CounterVec
	numBlocks    metric.Counter
	lastBlockTxs metric.Gauge
	blockTime    utilmetric.Averager

	utilmetric.APIInterceptor
}

func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errNotRegistry
	}

	m := &metricsImpl{
		numTxs: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "txs",
				Help: "Number of processed transactions",
			},
			txLabels,
		),
		numBlocks: metric.NewCounter(metric.CounterOpts{
			Name: "blocks_processed",
			Help: "Number of processed blocks",
		}),
		lastBlockTxs: metric.NewGauge(metric.GaugeOpts{
			Name: "last_block_txs",
			Help: "Number of transactions in the last processed block",
		}),
		blockTime: utilmetric.NewAverager(
			"block_processing_time",
			"time (in ns) spent processing a block",
			registry,
		),
	}

	apiRequestMetrics, err := utilmetric.NewAPIInterceptor(registry)
	errs := wrappers.Errs{Err: err}
	m.APIInterceptor = apiRequestMetrics

	errs.Add(
		registerer.Register(metric.AsCollector(m.numTxs)),
		registerer.Register(metric.AsCollector(m.numBlocks)),
		registerer.Register(metric.AsCollector(m.lastBlockTxs)),
	)
	return m, errs.Err
}

func (m *metricsImpl) MarkBlockProcessed(numTxs int, duration time.Duration) {
	m.numBlocks.Inc()
	m.lastBlockTxs.Set(float64(numTxs))
	m.blockTime.Observe(float64(duration))
}

func (m *metricsImpl) MarkTxAccepted(tx *txs.Tx) {
	m.numTxs.With(metric.Labels{
		txLabel:     tx.Unsigned.Type().String(),
		statusLabel: statusAccepted,
	}).Inc()
}

func (m *metricsImpl) MarkTxFailed(tx *txs.Tx) {
	name := "unparsable"
	if tx != nil && tx.Unsigned != nil {
		name = tx.Unsigned.Type().String()
	}
	m.numTxs.With(metric.Labels{
		txLabel:     name,
		statusLabel: statusFailed,
	}).Inc()
}
