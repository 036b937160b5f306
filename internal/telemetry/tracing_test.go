/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartTickSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartTickSpan(ctx, "agent-7")
	EndTickSpan(span, "completed", 2)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.orchestrate" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "turn.orchestrate")
	}

	attrs := spans[0].Attributes
	foundAgent := false
	foundOutcome := false
	for _, a := range attrs {
		if string(a.Key) == "legator.agent_id" && a.Value.AsString() == "agent-7" {
			foundAgent = true
		}
		if string(a.Key) == "legator.tick_outcome" && a.Value.AsString() == "completed" {
			foundOutcome = true
		}
	}
	if !foundAgent {
		t.Error("missing legator.agent_id attribute")
	}
	if !foundOutcome {
		t.Error("missing legator.tick_outcome attribute")
	}
}

func TestStartBrainCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, brainSpan := StartBrainCallSpan(ctx, "claude-sonnet-4-5", "anthropic")
	EndBrainCallSpan(brainSpan, 1000, 500, 2)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.brain_call" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "turn.brain_call")
	}

	attrs := spans[0].Attributes
	foundModel := false
	foundSystem := false
	foundInputTokens := false
	for _, a := range attrs {
		if string(a.Key) == "gen_ai.request.model" && a.Value.AsString() == "claude-sonnet-4-5" {
			foundModel = true
		}
		if string(a.Key) == "gen_ai.system" && a.Value.AsString() == "anthropic" {
			foundSystem = true
		}
		if string(a.Key) == "gen_ai.usage.input_tokens" && a.Value.AsInt64() == 1000 {
			foundInputTokens = true
		}
	}
	if !foundModel {
		t.Error("missing gen_ai.request.model")
	}
	if !foundSystem {
		t.Error("missing gen_ai.system")
	}
	if !foundInputTokens {
		t.Error("missing gen_ai.usage.input_tokens")
	}
}

func TestStartActionSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, actionSpan := StartActionSpan(ctx, "post_message", "read")
	EndActionSpan(actionSpan, "executed", false, "")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.action_execute" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "turn.action_execute")
	}
}

func TestActionSpanBlocked(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, actionSpan := StartActionSpan(ctx, "transfer_funds", "wallet-mutation")
	EndActionSpan(actionSpan, "blocked", true, "exceeds spending limit")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := spans[0].Attributes
	foundBlocked := false
	foundReason := false
	for _, a := range attrs {
		if string(a.Key) == "legator.blocked" && a.Value.AsBool() {
			foundBlocked = true
		}
		if string(a.Key) == "legator.block_reason" && a.Value.AsString() == "exceeds spending limit" {
			foundReason = true
		}
	}
	if !foundBlocked {
		t.Error("missing legator.blocked attribute")
	}
	if !foundReason {
		t.Error("missing legator.block_reason attribute")
	}
}

func TestSelfModSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, modSpan := StartSelfModSpan(ctx, "skills/greeter/SKILL.md")
	EndSelfModSpan(modSpan, true, false)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.self_mod" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "turn.self_mod")
	}

	attrs := spans[0].Attributes
	foundApplied := false
	for _, a := range attrs {
		if string(a.Key) == "legator.applied" && a.Value.AsBool() {
			foundApplied = true
		}
	}
	if !foundApplied {
		t.Error("missing legator.applied attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, tickSpan := StartTickSpan(ctx, "test-agent")
	_, brainSpan := StartBrainCallSpan(ctx, "claude-sonnet-4-5", "anthropic")
	brainSpan.End()
	EndTickSpan(tickSpan, "completed", 1)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	// Brain span ends first
	brainStub := spans[0]
	tickStub := spans[1]

	if brainStub.Parent.TraceID() != tickStub.SpanContext.TraceID() {
		t.Error("brain span should share trace ID with tick span")
	}
	if !brainStub.Parent.SpanID().IsValid() {
		t.Error("brain span should have a valid parent span ID")
	}
}
