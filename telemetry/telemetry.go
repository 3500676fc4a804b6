// Package telemetry wraps the OpenTelemetry tracing API for workflow runs and
// their stages. Spans go to the global tracer provider unless one is supplied,
// so tracing stays a no-op until the host installs an SDK.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies factorymesh spans.
const InstrumentationName = "github.com/hupe1980/factorymesh"

// Tracer starts run and stage spans.
type Tracer struct {
	tracer trace.Tracer
}

// New returns a Tracer backed by the global tracer provider.
func New() *Tracer {
	return &Tracer{tracer: otel.Tracer(InstrumentationName)}
}

// NewFromProvider returns a Tracer backed by tp. A nil tp falls back to the
// global provider.
func NewFromProvider(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		return New()
	}
	return &Tracer{tracer: tp.Tracer(InstrumentationName)}
}

// Ensure returns t, or a global-provider Tracer when t is nil.
func Ensure(t *Tracer) *Tracer {
	if t == nil {
		return New()
	}
	return t
}

// StartRun opens the workflow.run span.
func (t *Tracer) StartRun(ctx context.Context, runID, requestID string, stages int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("workflow.run_id", runID),
		attribute.String("workflow.request_id", requestID),
		attribute.Int("workflow.stages", stages),
	)
	return ctx, span
}

// StartStage opens a stage.<name> span as a child of the run span in ctx.
func (t *Tracer) StartStage(ctx context.Context, index int, name, backend string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "stage."+name)
	span.SetAttributes(
		attribute.String("stage.name", name),
		attribute.Int("stage.index", index),
		attribute.String("stage.backend", backend),
	)
	return ctx, span
}

// End records status and err on span and ends it.
func End(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
