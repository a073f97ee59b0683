// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts realtime activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	connects *prometheus.CounterVec
	frames   *prometheus.CounterVec
	events   *prometheus.CounterVec
	errors   prometheus.Counter
	dropped  prometheus.Counter
	active   prometheus.Gauge
}

// NewMetrics creates the realtime collectors and registers them with
// registerer when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "connects_total",
			Help:      "Connection attempts by queue mode and outcome.",
		}, []string{"mode", "outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "frames_total",
			Help:      "Inbound frames by topic.",
		}, []string{"topic"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Classified events delivered to subscribers, by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "stream_errors_total",
			Help:      "Frames or deltas that failed to decode.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "updates_dropped_total",
			Help:      "Updates discarded because a subscriber buffer was full.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "messenger",
			Subsystem: "realtime",
			Name:      "active_sessions",
			Help:      "Sessions currently in the Active state.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.connects, metrics.frames, metrics.events, metrics.errors, metrics.dropped, metrics.active)
	}
	return metrics
}

func (m *Metrics) connect(mode, outcome string) {
	if m != nil {
		m.connects.WithLabelValues(mode, outcome).Inc()
	}
}

func (m *Metrics) frame(topic string) {
	if m != nil {
		m.frames.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) event(kind string) {
	if m != nil {
		m.events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) streamError() {
	if m != nil {
		m.errors.Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) setActive(delta float64) {
	if m != nil {
		m.active.Add(delta)
	}
}
