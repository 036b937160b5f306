/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package scheduler runs the daemon loop (spec §4.9): a single-threaded,
// cooperative scheduler that ticks the orchestrator, tracks consecutive
// failures, and sleeps between ticks for an adaptive, policy-bounded
// interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/marcus-qen/legator/internal/orchestrator"
	"github.com/marcus-qen/legator/internal/types"
)

// Store is the subset of the state store the scheduler depends on.
type Store interface {
	KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error)
	InsertIncident(ctx context.Context, in *types.Incident) error
}

// Ticker runs one autonomy tick. *orchestrator.Orchestrator satisfies this.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Config bounds the scheduler's behavior.
type Config struct {
	DefaultIntervalMs    int64
	MaxSleepMs           int64
	MaxConsecutiveErrors int

	// CronExpr, if set, overrides DefaultIntervalMs: the scheduler sleeps
	// until the next time the standard five-field cron expression fires
	// instead of sleeping a fixed/orchestrator-requested interval. An
	// invalid expression is logged once at construction and ignored.
	CronExpr string
}

// Scheduler drives the tick loop until stopped or a fatal condition fires.
type Scheduler struct {
	store  Store
	ticker Ticker
	cfg    Config
	log    logr.Logger

	cronSchedule      cron.Schedule
	consecutiveErrors int
}

func New(store Store, ticker Ticker, cfg Config, log logr.Logger) *Scheduler {
	s := &Scheduler{store: store, ticker: ticker, cfg: cfg, log: log}
	if cfg.CronExpr != "" {
		sched, err := cron.ParseStandard(cfg.CronExpr)
		if err != nil {
			log.Info("ignoring invalid cronExpr, falling back to interval schedule", "cronExpr", cfg.CronExpr, "error", err)
		} else {
			s.cronSchedule = sched
		}
	}
	return s
}

// Run loops until ctx is canceled or a stop condition is reached:
// consecutiveErrors hits cfg.MaxConsecutiveErrors, or a tick's error
// reports the survival tier is dead. It returns the reason the loop
// stopped, or nil if ctx was canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tickErr := s.ticker.Tick(ctx)
		if tickErr != nil {
			s.consecutiveErrors++
			s.onFailure(ctx, tickErr)
			if errors.Is(tickErr, orchestrator.ErrSurvivalDead) || strings.Contains(tickErr.Error(), "survival tier is dead") {
				return tickErr
			}
			if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
				return tickErr
			}
		} else {
			s.consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.sleepDuration(ctx)):
		}
	}
}

// onFailure records a DAEMON_FAILURE incident: critical once the
// consecutive-error streak has exhausted the budget or when the tick
// failed with ErrSurvivalDead, warning otherwise.
func (s *Scheduler) onFailure(ctx context.Context, tickErr error) {
	severity := types.SeverityWarning
	if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors || errors.Is(tickErr, orchestrator.ErrSurvivalDead) {
		severity = types.SeverityCritical
	}
	in := &types.Incident{
		Code:     types.CodeDaemonFailure,
		Severity: severity,
		Category: "scheduler",
		Message:  fmt.Sprintf("%s (consecutive failures: %d)", tickErr.Error(), s.consecutiveErrors),
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertIncident(ctx, in); err != nil {
		s.log.Info("failed to record daemon failure incident", "error", err)
	}
}

// sleepDuration reads the orchestrator's requested inter-tick sleep from
// the KV store, clamped to the configured ceiling, falling back to the
// default interval if nothing was set. If a valid cron schedule was
// configured it takes priority over both: the scheduler sleeps until
// that schedule's next fire time instead.
func (s *Scheduler) sleepDuration(ctx context.Context) time.Duration {
	if s.cronSchedule != nil {
		now := time.Now().UTC()
		until := s.cronSchedule.Next(now).Sub(now)
		if until < 0 {
			until = 0
		}
		return until
	}

	var ms int64
	ok, err := s.store.KVGetJSON(ctx, types.KVAutonomyNextSleepMs, &ms)
	if err != nil || !ok || ms <= 0 {
		ms = s.cfg.DefaultIntervalMs
	}
	if s.cfg.MaxSleepMs > 0 && ms > s.cfg.MaxSleepMs {
		ms = s.cfg.MaxSleepMs
	}
	if ms <= 0 {
		ms = s.cfg.DefaultIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}
