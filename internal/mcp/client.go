/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package mcp bridges MCP (Model Context Protocol) tool servers into the
// tool registry's mcp adapter (spec §4.2). It connects to the MCP servers
// named by config.ToolSource entries of type "mcp", discovers their
// tools, and dispatches invoke_tool calls to them by name.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/legator/internal/config"
)

// serverConnection is a live connection to one MCP server.
type serverConnection struct {
	session *mcpsdk.ClientSession
	tools   map[string]*mcpsdk.Tool
	healthy bool
	err     error
}

// Manager connects to the MCP servers declared in config.ToolSource
// entries and dispatches tool calls to them, implementing tools.Adapter.
type Manager struct {
	log         logr.Logger
	client      *mcpsdk.Client
	httpTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*serverConnection // keyed by tool source ID
}

func NewManager(log logr.Logger) *Manager {
	return &Manager{
		log: log.WithName("mcp"),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "legator", Version: "0.1.0"},
			nil,
		),
		httpTimeout: 30 * time.Second,
		connections: make(map[string]*serverConnection),
	}
}

// ConnectAll connects to every enabled mcp-type tool source. Failures are
// logged and leave that source unhealthy rather than aborting startup —
// an agent should run degraded rather than refuse to start because one
// optional MCP server is unreachable.
func (m *Manager) ConnectAll(ctx context.Context, sources []config.ToolSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sources {
		if s.Type != "mcp" || !s.Enabled {
			continue
		}
		conn, err := m.connectOne(ctx, s)
		if err != nil {
			m.log.Error(err, "failed to connect to MCP server, degrading gracefully", "source", s.ID, "endpoint", s.BaseURL)
			conn = &serverConnection{err: err}
		}
		m.connections[s.ID] = conn
	}
}

func (m *Manager) connectOne(ctx context.Context, s config.ToolSource) (*serverConnection, error) {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:             s.BaseURL,
		HTTPClient:           &http.Client{Timeout: m.httpTimeout},
		DisableStandaloneSSE: true,
	}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.BaseURL, err)
	}

	result, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return &serverConnection{session: session, healthy: true, err: fmt.Errorf("list tools: %w", err)}, nil
	}

	byName := make(map[string]*mcpsdk.Tool, len(result.Tools))
	for _, t := range result.Tools {
		byName[t.Name] = t
	}
	m.log.Info("connected to MCP server", "source", s.ID, "endpoint", s.BaseURL, "tools", len(byName))
	return &serverConnection{session: session, tools: byName, healthy: true}, nil
}

// Invoke implements tools.Adapter: it calls toolName on the MCP server
// bound to source.ID.
func (m *Manager) Invoke(ctx context.Context, source config.ToolSource, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	m.mu.RLock()
	conn, ok := m.connections[source.ID]
	m.mu.RUnlock()
	if !ok || conn.session == nil {
		return nil, fmt.Errorf("no live MCP connection for tool source %q", source.ID)
	}
	if _, known := conn.tools[toolName]; !known {
		return nil, fmt.Errorf("MCP server %q has no tool named %q", source.ID, toolName)
	}

	result, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: input})
	if err != nil {
		return nil, fmt.Errorf("MCP call %s/%s: %w", source.ID, toolName, err)
	}

	text := extractTextContent(result)
	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", text)
	}
	return map[string]interface{}{"text": text}, nil
}

// HealthCheck pings every connected server and updates its health status.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.connections))
	for id, conn := range m.connections {
		if conn.session == nil {
			out[id] = false
			continue
		}
		err := conn.session.Ping(ctx, &mcpsdk.PingParams{})
		conn.healthy = err == nil
		conn.err = err
		out[id] = conn.healthy
	}
	return out
}

// Close closes every MCP server connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.connections {
		if conn.session != nil {
			if err := conn.session.Close(); err != nil {
				m.log.Error(err, "failed to close MCP session", "source", id)
			}
		}
	}
	m.connections = make(map[string]*serverConnection)
}

func extractTextContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
