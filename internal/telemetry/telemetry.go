// Package telemetry provides the kernel's startXSpan/endXSpan helpers for
// phase transitions, gate evaluations, recovery runs, checkpoint creation
// and agent dispatches. Only the phase helpers have callers (the feature
// orchestrator's implementing phase and the bug orchestrator's fixing
// phase); the gate, recovery manager, checkpoint system and dispatchers
// emit no spans. Code here always goes through
// agentkit/telemetry's global tracer accessor; it never constructs an
// exporter or provider directly (§4.15).
package telemetry

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartPhaseSpan starts a span for a feature/bug orchestrator phase
// transition.
func StartPhaseSpan(ctx context.Context, entityKind, entityID, phase string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "phase."+phase)
	span.SetAttributes(
		attribute.String("entity.kind", entityKind),
		attribute.String("entity.id", entityID),
		attribute.String("phase.name", phase),
	)
	return ctx, span
}

// EndPhaseSpan ends a phase span, recording err if the transition failed.
func EndPhaseSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartGateSpan starts a span for one complexity gate evaluation.
func StartGateSpan(ctx context.Context, issueTitle string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "gate.evaluate")
	span.SetAttributes(attribute.String("gate.issue_title", issueTitle))
	return ctx, span
}

// EndGateSpan ends a gate span with its verdict.
func EndGateSpan(span trace.Span, needsSplit bool, err error) {
	span.SetAttributes(attribute.Bool("gate.needs_split", needsSplit))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartRecoverySpan starts a span for one recovery-manager run.
func StartRecoverySpan(ctx context.Context, goal string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "recovery.run")
	span.SetAttributes(attribute.String("recovery.goal", goal))
	return ctx, span
}

// EndRecoverySpan ends a recovery span with the level it resolved at.
func EndRecoverySpan(span trace.Span, level int, err error) {
	span.SetAttributes(attribute.Int("recovery.level_used", level))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartCheckpointSpan starts a span for checkpoint creation.
func StartCheckpointSpan(ctx context.Context, trigger string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "checkpoint.create")
	span.SetAttributes(attribute.String("checkpoint.trigger", trigger))
	return ctx, span
}

// EndCheckpointSpan ends a checkpoint span.
func EndCheckpointSpan(span trace.Span, checkpointID string, err error) {
	span.SetAttributes(attribute.String("checkpoint.id", checkpointID))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartDispatchSpan starts a span for one agent dispatch.
func StartDispatchSpan(ctx context.Context, role string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "agent.dispatch."+role)
	span.SetAttributes(attribute.String("agent.role", role))
	return ctx, span
}

// EndDispatchSpan ends a dispatch span with the outcome variant.
func EndDispatchSpan(span trace.Span, variant string, err error) {
	span.SetAttributes(attribute.String("agent.result_variant", variant))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
