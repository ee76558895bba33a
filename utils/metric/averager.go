// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utilmetric

import (
	metric "github.com/luxfi/metric"
)

// Averager tracks the count and sum of observations so that dashboards can
// derive a mean.
type Averager interface {
	Observe(float64)
}

type averager struct {
	count metric.Counter
	sum   metric.Gauge
}

// NewAverager registers name_count and name_sum on registry.
func NewAverager(name, desc string, registry metric.Registry) Averager {
	m := metric.NewWithRegistry("", registry)
	return &averager{
		count: m.NewCounter(
			name+"_count",
			"Total # of observations of "+desc,
		),
		sum: m.NewGauge(
			name+"_sum",
			"Sum of "+desc,
		),
	}
}

func (a *averager) Observe(v float64) {
	a.count.Inc()
	a.sum.Add(v)
}
