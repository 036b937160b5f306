/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package mcp

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/legator/internal/config"
)

func TestNewManager(t *testing.T) {
	m := NewManager(logr.Discard())
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if len(m.connections) != 0 {
		t.Errorf("expected 0 connections, got %d", len(m.connections))
	}
	if m.httpTimeout == 0 {
		t.Error("httpTimeout should have a default")
	}
}

func TestConnectAllSkipsNonMCPAndDisabledSources(t *testing.T) {
	m := NewManager(logr.Discard())
	sources := []config.ToolSource{
		{ID: "internal.runtime", Type: "internal", Enabled: true},
		{ID: "disabled.mcp", Type: "mcp", Enabled: false},
	}
	m.ConnectAll(context.Background(), sources)
	if len(m.connections) != 0 {
		t.Errorf("expected no connections for non-mcp/disabled sources, got %d", len(m.connections))
	}
}

func TestConnectAllRecordsFailureForUnreachableServer(t *testing.T) {
	m := NewManager(logr.Discard())
	sources := []config.ToolSource{
		{ID: "unreachable", Type: "mcp", Enabled: true, BaseURL: "http://127.0.0.1:1"},
	}
	m.ConnectAll(context.Background(), sources)
	conn, ok := m.connections["unreachable"]
	if !ok {
		t.Fatal("expected a connection entry even on failure")
	}
	if conn.healthy {
		t.Error("expected connection to be marked unhealthy")
	}
	if conn.err == nil {
		t.Error("expected connection error to be recorded")
	}
}

func TestInvokeUnknownSource(t *testing.T) {
	m := NewManager(logr.Discard())
	_, err := m.Invoke(context.Background(), config.ToolSource{ID: "missing"}, "anything", nil)
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestExtractTextContentNil(t *testing.T) {
	if got := extractTextContent(nil); got != "" {
		t.Errorf("expected empty string for nil result, got %q", got)
	}
}
