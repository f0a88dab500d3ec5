// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus instrumentation for the relay.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// wsConnections tracks currently registered terminal sessions.
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_ws_connections",
		Help: "Currently registered terminal sessions",
	})

	// hisPushTotal counts HIS pushes by outcome.
	// Labels: "delivered", "stored_only", "rejected"
	hisPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_his_push_total",
		Help: "HIS context pushes by outcome",
	}, []string{"outcome"})

	// relayRequestTotal counts recommendation relays by outcome.
	// Labels: "success", "cached", "failed", "denied", "no_context", "invalid"
	relayRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_relay_requests_total",
		Help: "Recommendation relay requests by outcome",
	}, []string{"outcome"})

	relayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_relay_duration_seconds",
		Help:    "End-to-end relay duration including upstream streaming",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// streamFragments records applied fragments per upstream call.
	streamFragments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "assistant_stream_fragments",
		Help:    "Applied stream fragments per upstream call",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
)

func SetWSConnections(n int)      { wsConnections.Set(float64(n)) }
func CountHisPush(outcome string) { hisPushTotal.WithLabelValues(outcome).Inc() }

func CountRelay(outcome string, seconds float64) {
	relayRequestTotal.WithLabelValues(outcome).Inc()
	relayDuration.Observe(seconds)
}

func ObserveStreamFragments(n int) { streamFragments.Observe(float64(n)) }
