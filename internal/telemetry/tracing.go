/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the runtime core.
//
// LLM spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the LLM provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `legator.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "legator.io/runtime"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // plaintext gRPC; this option overrides OTEL_EXPORTER_OTLP_INSECURE
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("legator"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartTickSpan creates the parent span for one autonomy tick.
func StartTickSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "turn.orchestrate",
		trace.WithAttributes(
			attribute.String("legator.agent_id", agentID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndTickSpan enriches the tick span with its terminal outcome.
func EndTickSpan(span trace.Span, outcome string, actionCount int) {
	span.SetAttributes(
		attribute.String("legator.tick_outcome", outcome),
		attribute.Int("legator.action_count", actionCount),
	)
	span.End()
}

// StartBrainCallSpan creates a child span for a brain request, following GenAI conventions.
func StartBrainCallSpan(ctx context.Context, model, provider string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "turn.brain_call",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndBrainCallSpan enriches the brain span with usage data.
func EndBrainCallSpan(span trace.Span, inputTokens, outputTokens int64, actionCount int) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Int("legator.proposed_actions", actionCount),
	)
	span.End()
}

// StartActionSpan creates a child span for executing one action.
func StartActionSpan(ctx context.Context, actionType, gate string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "turn.action_execute",
		trace.WithAttributes(
			attribute.String("legator.action_type", actionType),
			attribute.String("legator.gate", gate),
		),
	)
}

// EndActionSpan enriches the action span with its outcome.
func EndActionSpan(span trace.Span, outcome string, blocked bool, blockReason string) {
	span.SetAttributes(
		attribute.String("legator.action_outcome", outcome),
		attribute.Bool("legator.blocked", blocked),
	)
	if blocked {
		span.SetAttributes(attribute.String("legator.block_reason", blockReason))
	}
	span.End()
}

// StartSelfModSpan creates a child span for a self-modification write.
func StartSelfModSpan(ctx context.Context, targetPath string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "turn.self_mod",
		trace.WithAttributes(
			attribute.String("legator.target_path", targetPath),
		),
	)
}

// EndSelfModSpan enriches the self-mod span with its result.
func EndSelfModSpan(span trace.Span, applied bool, rolledBack bool) {
	span.SetAttributes(
		attribute.Bool("legator.applied", applied),
		attribute.Bool("legator.rolled_back", rolledBack),
	)
	span.End()
}
