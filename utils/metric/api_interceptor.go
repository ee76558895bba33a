// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utilmetric

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"

	metric "github.com/luxfi/metric"
)

const methodLabel = "method"

// APIInterceptor times JSON-RPC calls. Register InterceptRequest and
// AfterRequest on a gorilla rpc server.
type APIInterceptor interface {
	InterceptRequest(i *rpc.RequestInfo) *http.Request
	AfterRequest(i *rpc.RequestInfo)
}

type contextKey int

const requestStartKey contextKey = iota

type apiInterceptor struct {
	calls    metric.CounterVec
	duration metric.GaugeVec
	errors   metric.CounterVec
}

func NewAPIInterceptor(registry metric.Registry) (APIInterceptor, error) {
	m := metric.NewWithRegistry("api", registry)
	labels := []string{methodLabel}
	return &apiInterceptor{
		calls: m.NewCounterVec(
			"calls",
			"Number of calls per method",
			labels,
		),
		duration: m.NewGaugeVec(
			"duration_sum",
			"Nanoseconds spent handling each method",
			labels,
		),
		errors: m.NewCounterVec(
			"errors",
			"Number of calls per method that returned an error",
			labels,
		),
	}, nil
}

func (*apiInterceptor) InterceptRequest(i *rpc.RequestInfo) *http.Request {
	ctx := context.WithValue(i.Request.Context(), requestStartKey, time.Now())
	return i.Request.WithContext(ctx)
}

func (a *apiInterceptor) AfterRequest(i *rpc.RequestInfo) {
	start, ok := i.Request.Context().Value(requestStartKey).(time.Time)
	if !ok {
		return
	}

	labels := metric.Labels{methodLabel: i.Method}
	a.calls.With(labels).Inc()
	a.duration.With(labels).Add(float64(time.Since(start)))
	if i.Error != nil {
		a.errors.With(labels).Inc()
	}
}
