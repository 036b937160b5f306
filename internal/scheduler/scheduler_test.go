/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/orchestrator"
	"github.com/marcus-qen/legator/internal/types"
)

type fakeStore struct {
	nextSleepMs *int64
	incidents   []*types.Incident
}

func (f *fakeStore) KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	if key != types.KVAutonomyNextSleepMs || f.nextSleepMs == nil {
		return false, nil
	}
	ptr, ok := out.(*int64)
	if !ok {
		return false, nil
	}
	*ptr = *f.nextSleepMs
	return true, nil
}

func (f *fakeStore) InsertIncident(ctx context.Context, in *types.Incident) error {
	f.incidents = append(f.incidents, in)
	return nil
}

type fakeTicker struct {
	errs []error
	n    int
}

func (f *fakeTicker) Tick(ctx context.Context) error {
	if f.n >= len(f.errs) {
		return nil
	}
	err := f.errs[f.n]
	f.n++
	return err
}

func TestSleepDurationFallsBackToDefault(t *testing.T) {
	store := &fakeStore{}
	s := New(store, &fakeTicker{}, Config{DefaultIntervalMs: 5000, MaxSleepMs: 60000}, logr.Discard())

	got := s.sleepDuration(context.Background())
	if got != 5*time.Second {
		t.Errorf("sleepDuration() = %v, want 5s", got)
	}
}

func TestSleepDurationUsesOrchestratorRequestClampedToCeiling(t *testing.T) {
	ms := int64(120000)
	store := &fakeStore{nextSleepMs: &ms}
	s := New(store, &fakeTicker{}, Config{DefaultIntervalMs: 5000, MaxSleepMs: 60000}, logr.Discard())

	got := s.sleepDuration(context.Background())
	if got != 60*time.Second {
		t.Errorf("sleepDuration() = %v, want 60s (clamped)", got)
	}
}

func TestSleepDurationCronOverridesInterval(t *testing.T) {
	store := &fakeStore{}
	s := New(store, &fakeTicker{}, Config{DefaultIntervalMs: 5000, CronExpr: "* * * * *"}, logr.Discard())

	if s.cronSchedule == nil {
		t.Fatal("expected cron schedule to be parsed")
	}
	got := s.sleepDuration(context.Background())
	if got <= 0 || got > time.Minute {
		t.Errorf("sleepDuration() = %v, want within the next minute", got)
	}
}

func TestSleepDurationInvalidCronFallsBackSilently(t *testing.T) {
	store := &fakeStore{}
	s := New(store, &fakeTicker{}, Config{DefaultIntervalMs: 5000, CronExpr: "not a cron expr"}, logr.Discard())

	if s.cronSchedule != nil {
		t.Fatal("expected invalid cron expression to leave schedule unset")
	}
	got := s.sleepDuration(context.Background())
	if got != 5*time.Second {
		t.Errorf("sleepDuration() = %v, want 5s default", got)
	}
}

func TestRunStopsOnMaxConsecutiveErrors(t *testing.T) {
	store := &fakeStore{}
	ticker := &fakeTicker{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	s := New(store, ticker, Config{DefaultIntervalMs: 1, MaxConsecutiveErrors: 3}, logr.Discard())

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run() to return the tick error once the error ceiling is hit")
	}
	if len(store.incidents) != 3 {
		t.Errorf("incidents recorded = %d, want 3", len(store.incidents))
	}
	if store.incidents[2].Severity != types.SeverityCritical {
		t.Errorf("final incident severity = %q, want critical", store.incidents[2].Severity)
	}
}

func TestRunStopsImmediatelyOnSurvivalDead(t *testing.T) {
	store := &fakeStore{}
	ticker := &fakeTicker{errs: []error{orchestrator.ErrSurvivalDead}}
	s := New(store, ticker, Config{DefaultIntervalMs: 1, MaxConsecutiveErrors: 100}, logr.Discard())

	err := s.Run(context.Background())
	if !errors.Is(err, orchestrator.ErrSurvivalDead) {
		t.Fatalf("Run() error = %v, want ErrSurvivalDead", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(store, &fakeTicker{}, Config{DefaultIntervalMs: 1}, logr.Discard())

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on canceled context", err)
	}
}
