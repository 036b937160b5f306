/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getSimpleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordTick(t *testing.T) {
	RecordTick("completed", 2*time.Second)

	val := getCounterValue(TicksTotal, "completed")
	if val < 1 {
		t.Errorf("TicksTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(TickDurationSeconds)
	if count < 1 {
		t.Errorf("TickDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordBrainRequest(t *testing.T) {
	RecordBrainRequest(500 * time.Millisecond)

	count := getHistogramCount(BrainRequestDurationSeconds)
	if count < 1 {
		t.Errorf("BrainRequestDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordAction(t *testing.T) {
	RecordAction("post_message", "executed")
	RecordAction("post_message", "blocked_by_policy")

	executed := getCounterValue(ActionsTotal, "post_message", "executed")
	if executed < 1 {
		t.Errorf("ActionsTotal executed = %f, want >= 1", executed)
	}
	blocked := getCounterValue(ActionsTotal, "post_message", "blocked_by_policy")
	if blocked < 1 {
		t.Errorf("ActionsTotal blocked_by_policy = %f, want >= 1", blocked)
	}
}

func TestRecordIncident(t *testing.T) {
	RecordIncident("ACTION_FAILED", "error")

	val := getCounterValue(IncidentsTotal, "ACTION_FAILED", "error")
	if val < 1 {
		t.Errorf("IncidentsTotal = %f, want >= 1", val)
	}
}

func TestRecordSelfModWrite(t *testing.T) {
	before := getSimpleCounterValue(SelfModWritesTotal)
	RecordSelfModWrite()
	after := getSimpleCounterValue(SelfModWritesTotal)
	if after != before+1 {
		t.Errorf("SelfModWritesTotal = %f, want %f", after, before+1)
	}
}

func TestSetSurvivalTier(t *testing.T) {
	SetSurvivalTier("critical")
	if val := getGaugeValue(SurvivalTier); val != 1 {
		t.Errorf("SurvivalTier = %f, want 1", val)
	}

	SetSurvivalTier("normal")
	if val := getGaugeValue(SurvivalTier); val != 3 {
		t.Errorf("SurvivalTier = %f, want 3", val)
	}

	SetSurvivalTier("not-a-real-tier")
	if val := getGaugeValue(SurvivalTier); val != 3 {
		t.Errorf("SurvivalTier should be unchanged by an unknown tier name, got %f", val)
	}
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(7)
	if val := getGaugeValue(QueueDepth); val != 7 {
		t.Errorf("QueueDepth = %f, want 7", val)
	}

	SetQueueDepth(0)
	if val := getGaugeValue(QueueDepth); val != 0 {
		t.Errorf("QueueDepth = %f, want 0", val)
	}
}

func TestMultipleActionLabelsIsolated(t *testing.T) {
	RecordAction("self_modify", "executed")
	RecordAction("sleep", "executed")

	selfMod := getCounterValue(ActionsTotal, "self_modify", "executed")
	sleep := getCounterValue(ActionsTotal, "sleep", "executed")
	if selfMod < 1 {
		t.Error("self_modify executed should be >= 1")
	}
	if sleep < 1 {
		t.Error("sleep executed should be >= 1")
	}
}
