/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/state"
	"github.com/marcus-qen/legator/internal/types"
)

// InternalStore is the read-only slice of the state store the internal
// tool adapter may query. Every internal.* tool is read-only by design:
// mutation happens only through the closed action allowlist.
type InternalStore interface {
	MemoryFacts(ctx context.Context, limit int) ([]types.MemoryFact, error)
	MemoryEpisodes(ctx context.Context, limit int) ([]types.MemoryEpisode, error)
	CountMessages(ctx context.Context) (int, error)
	GetLatestSurvivalSnapshot(ctx context.Context) (*state.SurvivalSnapshot, error)
}

// InternalAdapter answers introspection queries about the agent's own
// state: status, memory, inbox depth, and survival tier. It never mutates
// anything and never leaves the process.
type InternalAdapter struct {
	store   InternalStore
	startAt time.Time
}

func NewInternalAdapter(store InternalStore, startAt time.Time) *InternalAdapter {
	return &InternalAdapter{store: store, startAt: startAt}
}

func (a *InternalAdapter) Invoke(ctx context.Context, source config.ToolSource, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	switch toolName {
	case "agent.status":
		return a.status(ctx)
	case "agent.memory.facts":
		return a.facts(ctx, input)
	case "agent.memory.episodes":
		return a.episodes(ctx, input)
	case "agent.queue_depth":
		return a.queueDepth(ctx)
	case "agent.survival":
		return a.survival(ctx)
	default:
		return nil, fmt.Errorf("internal adapter has no tool named %q", toolName)
	}
}

func (a *InternalAdapter) status(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"startedAt": a.startAt.Format(time.RFC3339),
		"uptimeSec": int64(time.Since(a.startAt).Seconds()),
	}, nil
}

func (a *InternalAdapter) facts(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	limit := intParam(input, "limit", 50)
	facts, err := a.store.MemoryFacts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load memory facts: %w", err)
	}
	return map[string]interface{}{"facts": facts}, nil
}

func (a *InternalAdapter) episodes(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	limit := intParam(input, "limit", 50)
	episodes, err := a.store.MemoryEpisodes(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load memory episodes: %w", err)
	}
	return map[string]interface{}{"episodes": episodes}, nil
}

func (a *InternalAdapter) queueDepth(ctx context.Context) (map[string]interface{}, error) {
	n, err := a.store.CountMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return map[string]interface{}{"queueDepth": n}, nil
}

func (a *InternalAdapter) survival(ctx context.Context) (map[string]interface{}, error) {
	snap, err := a.store.GetLatestSurvivalSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load survival snapshot: %w", err)
	}
	if snap == nil {
		return map[string]interface{}{"tier": string(types.TierNormal), "estimatedUsd": 0}, nil
	}
	return map[string]interface{}{
		"tier":         string(snap.Tier),
		"estimatedUsd": snap.EstimatedUSD,
		"timestamp":    snap.CreatedAt.Format(time.RFC3339),
	}, nil
}

func intParam(input map[string]interface{}, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
