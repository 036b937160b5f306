/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package survival classifies the agent's liquidity into a survival tier
// and routes incidents into alerts (spec §4.7): every incident is recorded,
// a subset crosses a threshold into an alert, and alerts are deduplicated
// and delivered to db, stdout/stderr, or a webhook.
package survival

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/notify"
	"github.com/marcus-qen/legator/internal/types"
)

// Store is the subset of the state store survival depends on.
type Store interface {
	InsertIncident(ctx context.Context, in *types.Incident) error
	InsertAlert(ctx context.Context, a *types.Alert) error
	CountCriticalIncidentsSince(ctx context.Context, since time.Time) (int, error)
	KVGet(ctx context.Context, key string) (string, bool, error)
	KVSet(ctx context.Context, key, value string) error
}

// ClassifyTier maps an estimated USD balance onto the coarse liquidity
// tiers driving gating and alerts (spec §4.7): a balance at or below the
// dead threshold is dead, otherwise the lowest threshold it clears wins.
func ClassifyTier(estimatedUSD int64, cfg config.SurvivalConfig) types.SurvivalTier {
	switch {
	case estimatedUSD <= cfg.DeadUSD:
		return types.TierDead
	case estimatedUSD <= cfg.CriticalUSD:
		return types.TierCritical
	case estimatedUSD <= cfg.LowComputeUSD:
		return types.TierLowCompute
	default:
		return types.TierNormal
	}
}

const dedupWindow = 60 * time.Second

// Monitor evaluates incidents and routes alerts.
type Monitor struct {
	store   Store
	cfg     config.AlertingConfig
	route   types.AlertRoute
	log     logr.Logger
	webhook *notify.WebhookChannel
}

func New(store Store, cfg config.AlertingConfig, log logr.Logger) *Monitor {
	m := &Monitor{
		store: store,
		cfg:   cfg,
		route: types.AlertRoute(cfg.Route),
		log:   log,
	}
	if cfg.WebhookURL != "" {
		var secret []byte
		if cfg.WebhookSecret != "" {
			secret = []byte(cfg.WebhookSecret)
		}
		m.webhook = notify.NewWebhookChannel(cfg.WebhookURL, nil, secret)
	}
	return m
}

// RecordIncident persists an incident. It never raises an alert itself:
// the orchestrator's per-tick evaluateAlerts is the sole alert evaluator
// (spec §4.7), so every incident here is logged but alerting decisions are
// made once, from the aggregated tick state, not per incident.
func (m *Monitor) RecordIncident(ctx context.Context, in *types.Incident) error {
	if err := m.store.InsertIncident(ctx, in); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (m *Monitor) isDuplicate(ctx context.Context, sev types.Severity, message string) bool {
	key := fmt.Sprintf("alert_dedup_v1:%s:%s", sev, message)
	last, ok, err := m.store.KVGet(ctx, key)
	now := time.Now().UTC()
	if err == nil && ok {
		if t, perr := time.Parse(time.RFC3339Nano, last); perr == nil && now.Sub(t) < dedupWindow {
			return true
		}
	}
	_ = m.store.KVSet(ctx, key, now.Format(time.RFC3339Nano))
	return false
}

func (m *Monitor) deliver(ctx context.Context, a *types.Alert) {
	switch m.route {
	case types.RouteDB:
		return
	case types.RouteStdout:
		m.writeStd(a)
	case types.RouteWebhook:
		if err := m.webhook.Send(ctx, a); err != nil {
			m.log.Info("alert webhook delivery failed, degrading gracefully", "error", err)
			incident := &types.Incident{
				Code:      types.CodeProviderFailure,
				Severity:  types.SeverityWarning,
				Category:  "alerting",
				Message:   fmt.Sprintf("webhook delivery failed: %v", err),
				Timestamp: time.Now().UTC(),
			}
			_ = m.store.InsertIncident(ctx, incident)
			m.writeStd(a)
		}
	}
}

func (m *Monitor) writeStd(a *types.Alert) {
	out := os.Stdout
	if a.Severity.Rank() >= types.SeverityError.Rank() {
		out = os.Stderr
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Code, a.Message)
}

// CountCriticalIncidentsSince exposes the store lookup for the
// orchestrator's critical-incident threshold check.
func (m *Monitor) CountCriticalIncidentsSince(ctx context.Context, since time.Time) (int, error) {
	return m.store.CountCriticalIncidentsSince(ctx, since)
}

// RaiseAlert records an ALERT_TRIGGERED incident and its Alert directly,
// for callers (the orchestrator's per-tick alert evaluation) that have
// already decided the condition crosses a threshold. Still subject to
// the same dedup window as any other alert.
func (m *Monitor) RaiseAlert(ctx context.Context, severity types.Severity, category, message string, metadata map[string]interface{}) error {
	now := time.Now().UTC()
	in := &types.Incident{
		Code: types.CodeAlertTriggered, Severity: severity, Category: category,
		Message: message, Metadata: metadata, Timestamp: now,
	}
	if err := m.store.InsertIncident(ctx, in); err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	if !m.cfg.Enabled || m.isDuplicate(ctx, severity, message) {
		return nil
	}
	alert := &types.Alert{
		Code: types.CodeAlertTriggered, Severity: severity, Route: m.route,
		Message: message, Metadata: metadata, Timestamp: now,
	}
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	m.deliver(ctx, alert)
	return nil
}
