/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package executor runs validated actions through the five gates spec §4.5
// defines (allowlist, emergency/survival, wallet session, chain capability,
// self-modify policy) and dispatches whatever survives to the right
// subsystem.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/coreerr"
	"github.com/marcus-qen/legator/internal/metrics"
	"github.com/marcus-qen/legator/internal/selfmod"
	"github.com/marcus-qen/legator/internal/telemetry"
	"github.com/marcus-qen/legator/internal/types"
)

// Wallet is the subset of the wallet session the executor gates against.
type Wallet interface {
	IsUnlocked() bool
}

// ToolInvoker is the subset of the tool registry the executor dispatches
// invoke_tool actions to.
type ToolInvoker interface {
	Invoke(ctx context.Context, sourceID, toolName string, input map[string]interface{}) (map[string]interface{}, error)
}

// Messenger sends outbound agent-to-agent/operator messages for
// send_message actions.
type Messenger interface {
	Send(ctx context.Context, to, content string, metadata map[string]interface{}) error
}

// MemoryStore is the subset of the state store record_fact and
// record_episode actions write through.
type MemoryStore interface {
	UpsertMemoryFact(ctx context.Context, key, value string, confidence float64, source string) error
	AppendMemoryEpisode(ctx context.Context, e *types.MemoryEpisode) error
	KVSetJSON(ctx context.Context, key string, v interface{}) error
}

// Replicator spawns a child agent for replicate actions.
type Replicator interface {
	Replicate(ctx context.Context, params map[string]interface{}) (string, error)
}

// SelfModifier applies self_modify mutations.
type SelfModifier interface {
	Apply(ctx context.Context, m selfmod.Mutation) (*selfmod.Result, error)
}

// Context carries the per-turn state the executor's gates evaluate.
type Context struct {
	EmergencyStopped     bool
	SurvivalTier         types.SurvivalTier
	AllowSelfModifyAction bool
}

// Outcome is the result of executing one action.
type Outcome struct {
	Action  types.Action
	OK      bool
	Result  map[string]interface{}
	Err     error
	Code    types.IncidentCode
}

// Executor dispatches validated actions after gating them.
type Executor struct {
	cfg        *config.Config
	wallet     Wallet
	tools      ToolInvoker
	messenger  Messenger
	replicator Replicator
	selfMod    SelfModifier
	memory     MemoryStore
	maxSleepMs int64
	log        logr.Logger
}

func New(cfg *config.Config, wallet Wallet, tools ToolInvoker, messenger Messenger, replicator Replicator, selfMod SelfModifier, memory MemoryStore, log logr.Logger) *Executor {
	return &Executor{
		cfg: cfg, wallet: wallet, tools: tools, messenger: messenger,
		replicator: replicator, selfMod: selfMod, memory: memory,
		maxSleepMs: cfg.Autonomy.MaxSleepMs, log: log,
	}
}

// Execute runs the five gates in order and, if the action survives,
// dispatches it to the subsystem that implements it.
func (e *Executor) Execute(ctx context.Context, action types.Action, tctx Context) Outcome {
	ctx, span := telemetry.StartActionSpan(ctx, string(action.Type), "")
	outcome := e.execute(ctx, action, tctx)

	status := "ok"
	blockReason := ""
	if !outcome.OK {
		status = string(outcome.Code)
		if outcome.Err != nil {
			blockReason = outcome.Err.Error()
		}
	}
	telemetry.EndActionSpan(span, status, !outcome.OK, blockReason)
	metrics.RecordAction(string(action.Type), status)
	return outcome
}

func (e *Executor) execute(ctx context.Context, action types.Action, tctx Context) Outcome {
	if err := e.gateAllowlist(action); err != nil {
		return fail(action, err)
	}
	if err := e.gateEmergencySurvival(action, tctx); err != nil {
		return fail(action, err)
	}
	if err := e.gateWalletSession(action); err != nil {
		return fail(action, err)
	}
	if err := e.gateChainCapability(action); err != nil {
		return fail(action, err)
	}
	if err := e.gateSelfModifyPolicy(action, tctx); err != nil {
		return fail(action, err)
	}

	result, err := e.dispatch(ctx, action)
	if err != nil {
		return fail(action, err)
	}
	return Outcome{Action: action, OK: true, Result: result}
}

// --- gates ---

func (e *Executor) gateAllowlist(a types.Action) error {
	if e.cfg.Autonomy.StrictActionAllowlist && !types.IsAllowedActionType(a.Type) {
		return fmt.Errorf("%w: %s", coreerr.ErrAllowlistBlocked, a.Type)
	}
	return nil
}

func (e *Executor) gateEmergencySurvival(a types.Action, tctx Context) error {
	if !types.MutatingActionTypes[a.Type] {
		return nil
	}
	if tctx.EmergencyStopped {
		return coreerr.ErrEmergencyStopped
	}
	if tctx.SurvivalTier == types.TierDead {
		return coreerr.ErrSurvivalGated
	}
	return nil
}

func (e *Executor) gateWalletSession(a types.Action) error {
	if a.Type != types.ActionSendMessage && a.Type != types.ActionReplicate {
		return nil
	}
	if e.wallet == nil || !e.wallet.IsUnlocked() {
		return coreerr.ErrWalletLocked
	}
	return nil
}

// requiredCapability maps an action to the chain capability it exercises,
// per spec §4.5 step 4. self_modify has no chain gate. replicate only
// requires payments capability when it carries initial funding.
func requiredCapability(a types.Action) string {
	switch a.Type {
	case types.ActionSendMessage:
		return "messaging"
	case types.ActionReplicate:
		if fundingRequested(a) {
			return "payments"
		}
		return ""
	default:
		return ""
	}
}

func fundingRequested(a types.Action) bool {
	v, ok := a.Params["initialFundingUsdc"]
	if !ok {
		return false
	}
	switch n := v.(type) {
	case float64:
		return n > 0
	case int:
		return n > 0
	case int64:
		return n > 0
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return err == nil && f > 0
	default:
		return false
	}
}

func (e *Executor) gateChainCapability(a types.Action) error {
	capability := requiredCapability(a)
	if capability == "" {
		return nil
	}
	profile, ok := findChainProfile(e.cfg)
	if !ok {
		return fmt.Errorf("%w: unsupported chain %s", coreerr.ErrChainUnsupported, e.cfg.ChainDefault)
	}
	if !supports(profile, capability) {
		return fmt.Errorf("%w: chain %s does not support %s", coreerr.ErrChainUnsupported, profile.CAIP2, capability)
	}
	return nil
}

func findChainProfile(cfg *config.Config) (config.ChainProfile, bool) {
	for _, p := range cfg.ChainProfiles {
		if p.CAIP2 == cfg.ChainDefault {
			return p, true
		}
	}
	return config.ChainProfile{}, false
}

func supports(p config.ChainProfile, capability string) bool {
	switch capability {
	case "messaging":
		return p.Supports.Messaging
	case "payments":
		return p.Supports.Payments
	case "identity":
		return p.Supports.Identity
	case "reputation":
		return p.Supports.Reputation
	case "auth":
		return p.Supports.Auth
	default:
		return false
	}
}

func (e *Executor) gateSelfModifyPolicy(a types.Action, tctx Context) error {
	if a.Type != types.ActionSelfModify {
		return nil
	}
	if !tctx.AllowSelfModifyAction {
		return coreerr.ErrSelfModifyDisabled
	}
	return nil
}

// --- dispatch ---

func (e *Executor) dispatch(ctx context.Context, a types.Action) (map[string]interface{}, error) {
	switch a.Type {
	case types.ActionNoop:
		return nil, nil

	case types.ActionSleep:
		sleepMs := paramInt64(a.Params, "sleepMs")
		if sleepMs == 0 {
			sleepMs = paramInt64(a.Params, "durationMs")
		}
		clamped := clamp(sleepMs, 0, e.maxSleepMs)
		if e.memory == nil {
			return nil, fmt.Errorf("no memory store configured")
		}
		if err := e.memory.KVSetJSON(ctx, types.KVAutonomyNextSleepMs, clamped); err != nil {
			return nil, err
		}
		return map[string]interface{}{"sleepMs": clamped}, nil

	case types.ActionRecordFact:
		key, _ := a.Params["key"].(string)
		value, _ := a.Params["value"].(string)
		if key == "" || value == "" {
			return nil, fmt.Errorf("record_fact requires non-empty key and value")
		}
		confidence := 0.5
		if c, ok := a.Params["confidence"].(float64); ok {
			confidence = c
		}
		source, _ := a.Params["source"].(string)
		if e.memory == nil {
			return nil, fmt.Errorf("no memory store configured")
		}
		if err := e.memory.UpsertMemoryFact(ctx, key, value, confidence, source); err != nil {
			return nil, err
		}
		return map[string]interface{}{"key": key}, nil

	case types.ActionRecordEpisode:
		summary, _ := a.Params["summary"].(string)
		if summary == "" {
			return nil, fmt.Errorf("record_episode requires a non-empty summary")
		}
		outcome, _ := a.Params["outcome"].(string)
		episodeType, _ := a.Params["actionType"].(string)
		if e.memory == nil {
			return nil, fmt.Errorf("no memory store configured")
		}
		ep := &types.MemoryEpisode{Summary: summary, Outcome: outcome, ActionType: episodeType, Metadata: a.Params}
		if err := e.memory.AppendMemoryEpisode(ctx, ep); err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": ep.ID}, nil

	case types.ActionSendMessage:
		to, _ := a.Params["to"].(string)
		content, _ := a.Params["content"].(string)
		if to == "" || content == "" {
			return nil, fmt.Errorf("send_message requires non-empty params.to and params.content")
		}
		if e.messenger == nil {
			return nil, fmt.Errorf("no messenger configured")
		}
		if err := e.messenger.Send(ctx, to, content, a.Params); err != nil {
			return nil, err
		}
		return map[string]interface{}{"to": to}, nil

	case types.ActionReplicate:
		if e.replicator == nil {
			return nil, fmt.Errorf("no replicator configured")
		}
		childID, err := e.replicator.Replicate(ctx, replicatePlan(a.Params))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"childId": childID}, nil

	case types.ActionSelfModify:
		path, _ := a.Params["path"].(string)
		content, _ := a.Params["content"].(string)
		if e.selfMod == nil {
			return nil, fmt.Errorf("no self-mod engine configured")
		}
		res, err := e.selfMod.Apply(ctx, selfmod.Mutation{Path: path, Content: []byte(content), Reason: a.Reason})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"mutationId": res.MutationID, "afterHash": res.AfterHash}, nil

	case types.ActionInvokeTool:
		sourceID, _ := a.Params["sourceId"].(string)
		toolName, _ := a.Params["tool"].(string)
		input, _ := a.Params["input"].(map[string]interface{})
		if e.tools == nil {
			return nil, fmt.Errorf("no tool registry configured")
		}
		return e.tools.Invoke(ctx, sourceID, toolName, input)

	default:
		return nil, fmt.Errorf("unhandled action type: %s", a.Type)
	}
}

// --- failure classification ---

// fail classifies a gate/dispatch error into the incident code precedence
// from spec §4.5: WALLET_LOCKED, then CHAIN_CAPABILITY_BLOCKED, then
// ACTION_BLOCKED, then SECURITY_POLICY_VIOLATION, else ACTION_FAILED.
func fail(a types.Action, err error) Outcome {
	code := classify(err)
	return Outcome{Action: a, OK: false, Err: err, Code: code}
}

func classify(err error) types.IncidentCode {
	switch {
	case errors.Is(err, coreerr.ErrWalletLocked):
		return types.CodeWalletLocked
	case errors.Is(err, coreerr.ErrChainUnsupported):
		return types.CodeChainCapabilityBlocked
	case errors.Is(err, coreerr.ErrAllowlistBlocked),
		errors.Is(err, coreerr.ErrEmergencyStopped),
		errors.Is(err, coreerr.ErrSurvivalGated):
		return types.CodeActionBlocked
	case errors.Is(err, coreerr.ErrSelfModifyDisabled),
		errors.Is(err, coreerr.ErrProtectedPath),
		errors.Is(err, coreerr.ErrOutOfScope),
		errors.Is(err, coreerr.ErrRateLimited):
		return types.CodeSecurityPolicyViolation
	default:
		return types.CodeActionFailed
	}
}

// replicatePlan fills in the replicate action's defaults (spec §4.5):
// name, genesis prompt, and initial funding all default when absent.
func replicatePlan(params map[string]interface{}) map[string]interface{} {
	plan := make(map[string]interface{}, len(params)+3)
	for k, v := range params {
		plan[k] = v
	}
	if _, ok := plan["name"]; !ok {
		plan["name"] = "aethernet-child"
	}
	if _, ok := plan["genesisPrompt"]; !ok {
		plan["genesisPrompt"] = "You are a newly spawned autonomous agent. Await instructions."
	}
	if _, ok := plan["initialFundingUsdc"]; !ok {
		plan["initialFundingUsdc"] = "0"
	}
	return plan
}

func paramInt64(params map[string]interface{}, key string) int64 {
	v, ok := params[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
