/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tools implements the tool registry (spec §4.2): the brain's
// invoke_tool action is dispatched here against a configured set of tool
// sources, each backed by an adapter (internal, read-only HTTP API, or
// MCP).
package tools

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/config"
)

// Result is what Invoke returns to the action executor.
type Result struct {
	OK       bool                   `json:"ok"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Adapter executes one tool call against a single source.
type Adapter interface {
	Invoke(ctx context.Context, source config.ToolSource, toolName string, input map[string]interface{}) (map[string]interface{}, error)
}

// Registry resolves a sourceId to its configured source and adapter, and
// dispatches invoke_tool calls against it.
type Registry struct {
	sources map[string]config.ToolSource
	cfg     config.ToolingConfig
	log     logr.Logger

	internal *InternalAdapter
	readonly *ReadonlyAPIAdapter
	mcp      Adapter // nil if no MCP adapter was wired
}

// New builds a registry from the configured tool sources. mcpAdapter may
// be nil if no MCP-backed source is configured.
func New(sources []config.ToolSource, cfg config.ToolingConfig, internal *InternalAdapter, mcpAdapter Adapter, log logr.Logger) *Registry {
	idx := make(map[string]config.ToolSource, len(sources))
	for _, s := range sources {
		idx[s.ID] = s
	}
	return &Registry{
		sources:  idx,
		cfg:      cfg,
		log:      log,
		internal: internal,
		readonly: NewReadonlyAPIAdapter(),
		mcp:      mcpAdapter,
	}
}

// Invoke runs the five-step tool dispatch policy from spec §4.2: unknown
// source, disabled source, external sources disabled for non-internal
// types, adapter selection by source.metadata.adapter or type default,
// and a missing adapter all resolve to ok=false rather than an error, so
// a bad tool call never aborts a turn.
func (r *Registry) Invoke(ctx context.Context, sourceID, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	source, known := r.sources[sourceID]
	if !known {
		return asMap(Result{OK: false, Error: fmt.Sprintf("unknown tool source %q", sourceID)}), nil
	}
	if !source.Enabled {
		return asMap(Result{OK: false, Error: fmt.Sprintf("tool source %q is disabled", sourceID)}), nil
	}
	if source.Type != "internal" && !r.cfg.AllowExternalSources {
		return asMap(Result{OK: false, Error: "external tool sources are disabled by policy"}), nil
	}

	adapter := r.selectAdapter(source)
	if adapter == nil {
		return asMap(Result{OK: false, Error: fmt.Sprintf("no adapter available for tool source %q", sourceID)}), nil
	}

	out, err := adapter.Invoke(ctx, source, toolName, input)
	if err != nil {
		return asMap(Result{OK: false, Error: err.Error()}), nil
	}
	return asMap(Result{OK: true, Output: out}), nil
}

// selectAdapter honors an explicit source.metadata.adapter override before
// falling back to the type-based default.
func (r *Registry) selectAdapter(source config.ToolSource) Adapter {
	if name, _ := source.Metadata["adapter"].(string); name != "" {
		switch name {
		case "internal":
			return r.internal
		case "readonly_api":
			return r.readonly
		case "mcp":
			return r.mcp
		default:
			return nil
		}
	}
	switch source.Type {
	case "internal":
		return r.internal
	case "api":
		return r.readonly
	case "mcp":
		return r.mcp
	default:
		return nil
	}
}

func asMap(r Result) map[string]interface{} {
	out := map[string]interface{}{"ok": r.OK}
	if r.Output != nil {
		out["output"] = r.Output
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Metadata != nil {
		out["metadata"] = r.Metadata
	}
	return out
}
