/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package orchestrator runs one tick of the autonomy loop (spec §4.8):
// ingest inbound messages, assemble context, call the brain, validate and
// execute its plan, persist the results, and evaluate alerts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/executor"
	"github.com/marcus-qen/legator/internal/metrics"
	"github.com/marcus-qen/legator/internal/survival"
	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/types"
	"github.com/marcus-qen/legator/internal/validator"
)

// ErrEmergency, ErrSurvivalDead and ErrBrainFailures are the sentinel
// errors Tick returns when a gate ends the tick early; callers match them
// with errors.Is (the scheduler records ErrSurvivalDead as critical).
var (
	ErrEmergency     = errors.New("emergency stop is engaged")
	ErrSurvivalDead  = errors.New("survival tier is dead")
	ErrBrainFailures = errors.New("brain failure streak exceeded")
)

// Brain is the subset of the brain client the orchestrator calls.
type Brain interface {
	Call(ctx context.Context, systemPrompt string, input *types.TurnInput) (*types.TurnOutput, error)
}

// Transport polls for inbound messages from the messaging layer.
type Transport interface {
	Poll(ctx context.Context, sinceISO string, limit int) ([]types.InboundMessage, error)
}

// Store is the subset of the state store the orchestrator reads and writes.
type Store interface {
	GetEmergencyState(ctx context.Context) (*types.EmergencyState, error)
	InsertTurn(ctx context.Context, t *types.Turn) error
	InsertTurnTelemetry(ctx context.Context, tt *types.TurnTelemetry) error
	RecentTurns(ctx context.Context, limit int) ([]types.TurnSummary, error)
	MemoryFacts(ctx context.Context, limit int) ([]types.MemoryFact, error)
	MemoryEpisodes(ctx context.Context, limit int) ([]types.MemoryEpisode, error)
	UpsertMessage(ctx context.Context, m *types.Message) error
	PollMessages(ctx context.Context, limit int) ([]types.Message, error)
	MarkMessageProcessed(ctx context.Context, id string) error
	CountMessages(ctx context.Context) (int, error)
	UpsertMemoryFact(ctx context.Context, key, value string, confidence float64, source string) error
	AppendMemoryEpisode(ctx context.Context, e *types.MemoryEpisode) error
	InsertSurvivalSnapshot(ctx context.Context, tier types.SurvivalTier, estimatedUSD int64) error
	KVGet(ctx context.Context, key string) (string, bool, error)
	KVSet(ctx context.Context, key, value string) error
	KVGetJSON(ctx context.Context, key string, out interface{}) (bool, error)
	KVSetJSON(ctx context.Context, key string, v interface{}) error
}

// Deps bundles everything one tick needs.
type Deps struct {
	Store     Store
	Brain     Brain
	Executor  *executor.Executor
	Survival  *survival.Monitor
	Transport Transport
	Config    *config.Config
	Log       logr.Logger

	Agent          string
	SystemPrompt   string
	EstimateUSD    func() int64
	DryRun         bool
	Skills         []string
	ToolSourceIDs  []string
}

// Orchestrator runs ticks.
type Orchestrator struct {
	d Deps
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{d: d}
}

// Tick executes one full iteration of the autonomy loop.
func (o *Orchestrator) Tick(ctx context.Context) (err error) {
	d := o.d
	now := time.Now().UTC()
	tickStart := time.Now()

	ctx, span := telemetry.StartTickSpan(ctx, d.Agent)
	actionCount := 0
	tickState := "error"
	defer func() {
		telemetry.EndTickSpan(span, tickState, actionCount)
		metrics.RecordTick(tickState, time.Since(tickStart))
	}()

	// Step 1: emergency gate.
	emergency, err := d.Store.GetEmergencyState(ctx)
	if err != nil {
		return fmt.Errorf("read emergency state: %w", err)
	}
	if emergency.Enabled {
		tickState = "emergency_stopped"
		return fmt.Errorf("%w: %s", ErrEmergency, emergency.Reason)
	}

	// Step 2: survival tier.
	estimatedUSD := d.EstimateUSD()
	tier := survival.ClassifyTier(estimatedUSD, d.Config.Survival)
	metrics.SetSurvivalTier(string(tier))
	if err := d.Store.InsertSurvivalSnapshot(ctx, tier, estimatedUSD); err != nil {
		return fmt.Errorf("insert survival snapshot: %w", err)
	}
	if tier == types.TierDead {
		tickState = "survival_dead"
		return fmt.Errorf("%w", ErrSurvivalDead)
	}

	// Step 3: dry run short-circuit.
	if d.DryRun {
		tickState = "dry_run"
		return d.Store.InsertTurn(ctx, &types.Turn{
			Timestamp: now,
			State:     types.TurnStateDryRun,
			Metadata:  map[string]interface{}{"survivalTier": string(tier)},
		})
	}

	// Step 4: messaging transport poll.
	if d.Transport != nil {
		lastPoll, _, _ := d.Store.KVGet(ctx, types.KVXMTPLastPollAt)
		if lastPoll == "" {
			lastPoll = now.Add(-24 * time.Hour).Format(time.RFC3339Nano)
		}
		inbound, err := d.Transport.Poll(ctx, lastPoll, 50)
		if err == nil {
			for _, im := range inbound {
				_ = d.Store.UpsertMessage(ctx, &types.Message{
					ID: im.ID, From: im.From, To: im.To, ThreadID: im.ThreadID,
					Content: im.Content, ReceivedAt: now,
				})
			}
			_ = d.Store.KVSet(ctx, types.KVXMTPLastPollAt, now.Format(time.RFC3339Nano))
		} else {
			d.Log.Info("messaging transport poll failed", "error", err)
		}
	}

	// Step 5: inbox claim.
	queueDepth, err := d.Store.CountMessages(ctx)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	metrics.SetQueueDepth(queueDepth)
	claimed, err := d.Store.PollMessages(ctx, 25)
	if err != nil {
		return fmt.Errorf("poll messages: %w", err)
	}
	var inboxMessages []types.InboundMessage
	for _, m := range claimed {
		inboxMessages = append(inboxMessages, types.InboundMessage{
			ID: m.ID, From: m.From, To: m.To, Content: m.Content, ThreadID: m.ThreadID,
		})
		if err := d.Store.MarkMessageProcessed(ctx, m.ID); err != nil {
			d.Log.Info("mark message processed failed", "id", m.ID, "error", err)
		}
	}

	// Step 6: assemble TurnInput.
	recentTurns, _ := d.Store.RecentTurns(ctx, 20)
	facts, _ := d.Store.MemoryFacts(ctx, 150)
	episodes, _ := d.Store.MemoryEpisodes(ctx, 150)
	input := &types.TurnInput{
		Agent:            d.Agent,
		SurvivalTier:     tier,
		EstimatedUSD:     estimatedUSD,
		InboxMessages:    inboxMessages,
		RecentTurns:      recentTurns,
		MemoryFacts:      facts,
		MemoryEpisodes:   episodes,
		Skills:           d.Skills,
		ToolSources:      d.ToolSourceIDs,
		AvailableActions: types.AllowedActionTypes,
	}

	// Step 7: call the brain.
	brainStart := time.Now()
	var raw *types.TurnOutput
	brainErr := false
	raw, err = d.Brain.Call(ctx, d.SystemPrompt, input)
	if err != nil {
		brainErr = true
		o.recordIncident(ctx, types.CodeBrainRequestFailed, types.SeverityError, "brain", err.Error(), nil)
		raw = &types.TurnOutput{Integrity: types.IntegrityMalformed}
	}
	brainDuration := time.Since(brainStart)
	metrics.RecordBrainRequest(brainDuration)

	// Step 8: validate.
	result := validator.Validate(raw, validator.Options{
		MaxActions:      d.Config.Autonomy.MaxActionsPerTurn,
		MaxSleepMs:      d.Config.Autonomy.MaxSleepMs,
		StrictAllowlist: d.Config.Autonomy.StrictActionAllowlist,
	})
	if result.Malformed {
		o.recordIncident(ctx, types.CodeBrainOutputMalformed, types.SeverityError, "brain",
			fmt.Sprintf("turn output malformed: %v", result.Errors), nil)
	}

	// Step 9: brain failure streak.
	streak, fatal := o.updateBrainFailureStreak(ctx, brainErr || result.Malformed)
	if fatal {
		o.recordIncident(ctx, types.CodeBrainRequestFailed, types.SeverityCritical, "brain",
			fmt.Sprintf("brain failure streak %d/%d exceeded", streak, d.Config.Autonomy.MaxBrainFailuresBeforeStop), nil)
		tickState = "brain_failures"
		return fmt.Errorf("%w: %d/%d", ErrBrainFailures, streak, d.Config.Autonomy.MaxBrainFailuresBeforeStop)
	}

	// Step 10: determine executable actions.
	actions := result.Output.NextActions
	if result.Malformed {
		actions = []types.Action{{Type: types.ActionNoop, Reason: "malformed_output"}}
	}
	actionCount = len(actions)

	// Step 11: execute.
	actionFailures := 0
	var actionLog []string
	execCtx := executor.Context{
		EmergencyStopped:      emergency.Enabled,
		SurvivalTier:          tier,
		AllowSelfModifyAction: d.Config.Autonomy.AllowSelfModifyAction,
	}
	for _, action := range actions {
		outcome := d.Executor.Execute(ctx, action, execCtx)
		if outcome.OK {
			actionLog = append(actionLog, fmt.Sprintf("%s:ok", action.Type))
			continue
		}
		actionFailures++
		actionLog = append(actionLog, fmt.Sprintf("%s:%s", action.Type, outcome.Code))
		msg := "action failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		o.recordIncident(ctx, outcome.Code, types.SeverityWarning, "action", msg, map[string]interface{}{"actionType": string(action.Type)})
	}
	if len(actionLog) == 0 {
		actionLog = []string{"noop:none"}
	}

	// Step 12: apply memory writes from the plan (non-malformed only).
	if !result.Malformed && result.Output.MemoryWrites != nil {
		for _, f := range result.Output.MemoryWrites.Facts {
			confidence := f.Confidence
			if confidence == 0 {
				confidence = 0.5
			}
			_ = d.Store.UpsertMemoryFact(ctx, f.Key, f.Value, confidence, f.Source)
		}
		for _, ep := range result.Output.MemoryWrites.Episodes {
			_ = d.Store.AppendMemoryEpisode(ctx, &types.MemoryEpisode{
				Summary: ep.Summary, Outcome: ep.Outcome, ActionType: ep.ActionType, Metadata: ep.Metadata,
			})
		}
	}

	// Step 13: always append a turn-summary episode.
	episodeType := "autonomy_idle"
	if len(actions) > 0 && actions[0].Type != types.ActionNoop {
		episodeType = "autonomy_turn"
	}
	_ = d.Store.AppendMemoryEpisode(ctx, &types.MemoryEpisode{
		Summary: result.Output.Summary, ActionType: episodeType,
	})

	// Step 14: next sleep.
	nextSleepMs := d.Config.Autonomy.DefaultIntervalMs
	if result.Output.SleepMs != nil {
		nextSleepMs = *result.Output.SleepMs
	}
	_ = d.Store.KVSetJSON(ctx, types.KVAutonomyNextSleepMs, nextSleepMs)

	// Step 15: persist turn + telemetry.
	turn := &types.Turn{
		Timestamp: now,
		State:     types.TurnStateCompleted,
		Input:     input,
		Output:    result.Output,
		Metadata: map[string]interface{}{
			"summary":      result.Output.Summary,
			"survivalTier": string(tier),
			"actionCount":  len(actions),
			"actions":      actionLog,
			"queueDepth":   queueDepth,
		},
	}
	if err := d.Store.InsertTurn(ctx, turn); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	telemetry := &types.TurnTelemetry{
		TurnID:          turn.ID,
		SurvivalTier:    tier,
		EstimatedUSD:    estimatedUSD,
		QueueDepth:      queueDepth,
		ActionsTotal:    len(actions),
		ActionFailures:  actionFailures,
		BrainDurationMs: brainDuration.Milliseconds(),
		BrainFailures:   streak,
	}
	if err := d.Store.InsertTurnTelemetry(ctx, telemetry); err != nil {
		return fmt.Errorf("insert turn telemetry: %w", err)
	}

	// Step 16: alert evaluation.
	o.evaluateAlerts(ctx, tier, streak, queueDepth)

	// Step 17: agent state transitions to sleeping outside this call.
	tickState = "completed"
	return nil
}

func (o *Orchestrator) recordIncident(ctx context.Context, code types.IncidentCode, sev types.Severity, category, message string, metadata map[string]interface{}) {
	in := &types.Incident{
		Code: code, Severity: sev, Category: category, Message: message,
		Metadata: metadata, Timestamp: time.Now().UTC(),
	}
	metrics.RecordIncident(string(code), string(sev))
	if o.d.Survival != nil {
		_ = o.d.Survival.RecordIncident(ctx, in)
	}
}

// updateBrainFailureStreak increments the persisted streak on failure and
// resets it on success, returning the new streak and whether it has
// crossed maxBrainFailuresBeforeStop.
func (o *Orchestrator) updateBrainFailureStreak(ctx context.Context, failed bool) (int, bool) {
	var streak int
	_, _ = o.d.Store.KVGetJSON(ctx, types.KVBrainFailureStreak, &streak)
	if failed {
		streak++
	} else {
		streak = 0
	}
	_ = o.d.Store.KVSetJSON(ctx, types.KVBrainFailureStreak, streak)
	return streak, failed && streak >= o.d.Config.Autonomy.MaxBrainFailuresBeforeStop
}

// evaluateAlerts implements the four alert-candidate conditions from spec
// §4.7: a dead survival tier, too many critical incidents in the
// evaluation window, a sustained brain failure streak, or a backed-up
// inbox. Each condition that crosses its threshold raises its own
// deduplicated alert.
func (o *Orchestrator) evaluateAlerts(ctx context.Context, tier types.SurvivalTier, brainStreak, queueDepth int) {
	cfg := o.d.Config.Alerting
	if !cfg.Enabled || o.d.Survival == nil {
		return
	}

	if tier == types.TierDead {
		_ = o.d.Survival.RaiseAlert(ctx, types.SeverityCritical, "survival", "survival tier is dead", nil)
	}

	since := time.Now().UTC().Add(-time.Duration(cfg.EvaluationWindowMinutes) * time.Minute)
	if count, err := o.d.Survival.CountCriticalIncidentsSince(ctx, since); err == nil && count >= cfg.CriticalIncidentThreshold {
		_ = o.d.Survival.RaiseAlert(ctx, types.SeverityCritical, "incidents",
			fmt.Sprintf("critical incident count %d >= threshold %d", count, cfg.CriticalIncidentThreshold), nil)
	}

	if brainStreak >= cfg.BrainFailureThreshold {
		_ = o.d.Survival.RaiseAlert(ctx, types.SeverityCritical, "brain",
			fmt.Sprintf("brain failure streak %d >= threshold %d", brainStreak, cfg.BrainFailureThreshold), nil)
	}

	if queueDepth >= cfg.QueueDepthThreshold {
		_ = o.d.Survival.RaiseAlert(ctx, types.SeverityWarning, "queue",
			fmt.Sprintf("queue depth %d >= threshold %d", queueDepth, cfg.QueueDepthThreshold), nil)
	}
}
