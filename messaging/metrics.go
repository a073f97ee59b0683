// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts request substrate activity. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	retries       prometheus.Counter
	tokenRefresh  prometheus.Counter
	latency       prometheus.Histogram
	cookieUpdates prometheus.Counter
}

// NewMetrics creates the substrate collectors and registers them with
// registerer when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Authenticated calls by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Requests re-sent after a 5xx response.",
		}),
		tokenRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "http",
			Name:      "token_refreshes_total",
			Help:      "CSRF token rotations pushed by the server.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "messenger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of single HTTP exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
		cookieUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "http",
			Name:      "cookie_updates_total",
			Help:      "Cookies stored from responses and script payloads.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.requests, metrics.retries, metrics.tokenRefresh, metrics.latency, metrics.cookieUpdates)
	}
	return metrics
}

func (m *Metrics) request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) refreshed() {
	if m != nil {
		m.tokenRefresh.Inc()
	}
}

func (m *Metrics) observe(seconds float64) {
	if m != nil {
		m.latency.Observe(seconds)
	}
}

func (m *Metrics) cookies(count int) {
	if m != nil && count > 0 {
		m.cookieUpdates.Add(float64(count))
	}
}
