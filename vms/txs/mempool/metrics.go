// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mempool

import (
	"github.com/luxfi/metric"
)

// Metrics reports the occupancy of a mempool.
type Metrics interface {
	Update(numTxs, bytesAvailable int)
}

type mempoolMetrics struct {
	numTxs    metric.Gauge
	bytesUsed metric.Gauge
}

// NewMetrics registers the mempool gauges on registerer.
func NewMetrics(registerer metric.Registerer) (Metrics, error) {
	m := &mempoolMetrics{
		numTxs: metric.NewGauge(metric.GaugeOpts{
			Name: "mempool_num_txs",
			Help: "Number of transactions in mempool",
		}),
		bytesUsed: metric.NewGauge(metric.GaugeOpts{
			Name: "mempool_bytes_used",
			Help: "Number of bytes used by mempool",
		}),
	}

	if err := registerer.Register(metric.AsCollector(m.numTxs)); err != nil {
		return nil, err
	}
	if err := registerer.Register(metric.AsCollector(m.bytesUsed)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *mempoolMetrics) Update(numTxs, bytesAvailable int) {
	m.numTxs.Set(float64(numTxs))
	m.bytesUsed.Set(float64(maxMempoolSize - bytesAvailable))
}
