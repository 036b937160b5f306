/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics the runtime core exposes
// on its local operator surface (spec §6 ambient stack).
//
// Metric naming follows Prometheus conventions:
//   - legator_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is a private registry, not the global default: the agent
// process owns exactly the metrics it defines here.
var Registry = prometheus.NewRegistry()

var (
	// TicksTotal counts completed orchestrator ticks by terminal state.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legator_ticks_total",
			Help: "Total number of autonomy ticks by terminal state.",
		},
		[]string{"state"},
	)

	// TickDurationSeconds is a histogram of full-tick duration.
	TickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legator_tick_duration_seconds",
			Help:    "Duration of a full autonomy tick in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// BrainRequestDurationSeconds is a histogram of brain call latency.
	BrainRequestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legator_brain_request_duration_seconds",
			Help:    "Duration of brain HTTP requests in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// ActionsTotal counts executed actions by type and outcome.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legator_actions_total",
			Help: "Total actions executed by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// IncidentsTotal counts incidents recorded by code and severity.
	IncidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legator_incidents_total",
			Help: "Total incidents recorded by code and severity.",
		},
		[]string{"code", "severity"},
	)

	// SelfModWritesTotal counts applied self-modification writes.
	SelfModWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legator_self_mod_writes_total",
			Help: "Total self-modification writes successfully applied.",
		},
	)

	// SurvivalTier is a gauge of the current survival tier, encoded 0-3
	// (dead=0, critical=1, low_compute=2, normal=3) so it can be graphed.
	SurvivalTier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "legator_survival_tier",
			Help: "Current survival tier: 0=dead, 1=critical, 2=low_compute, 3=normal.",
		},
	)

	// QueueDepth is a gauge of the unprocessed inbox message count.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "legator_queue_depth",
			Help: "Number of unprocessed inbound messages.",
		},
	)
)

func init() {
	Registry.MustRegister(
		TicksTotal,
		TickDurationSeconds,
		BrainRequestDurationSeconds,
		ActionsTotal,
		IncidentsTotal,
		SelfModWritesTotal,
		SurvivalTier,
		QueueDepth,
	)
}

// RecordTick records one completed tick's terminal state and duration.
func RecordTick(state string, duration time.Duration) {
	TicksTotal.WithLabelValues(state).Inc()
	TickDurationSeconds.Observe(duration.Seconds())
}

// RecordBrainRequest records one brain HTTP round trip's duration.
func RecordBrainRequest(duration time.Duration) {
	BrainRequestDurationSeconds.Observe(duration.Seconds())
}

// RecordAction records one executed action's type and outcome.
func RecordAction(actionType, outcome string) {
	ActionsTotal.WithLabelValues(actionType, outcome).Inc()
}

// RecordIncident records one incident's code and severity.
func RecordIncident(code, severity string) {
	IncidentsTotal.WithLabelValues(code, severity).Inc()
}

// RecordSelfModWrite records one applied self-modification write.
func RecordSelfModWrite() {
	SelfModWritesTotal.Inc()
}

// tierRank mirrors types.SurvivalTier's ordering for the gauge encoding.
var tierRank = map[string]float64{
	"dead": 0, "critical": 1, "low_compute": 2, "normal": 3,
}

// SetSurvivalTier updates the survival tier gauge.
func SetSurvivalTier(tier string) {
	if rank, ok := tierRank[tier]; ok {
		SurvivalTier.Set(rank)
	}
}

// SetQueueDepth updates the queue depth gauge.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
