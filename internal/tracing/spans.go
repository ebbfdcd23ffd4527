package tracing

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span name prefixes and attribute keys used across the harness.
const (
	SpanPrefixCommand = "command."
	SpanRenderTick    = "render.tick"

	AttrCommandType = "command.type"
	AttrRequestID   = "command.request_id"
	AttrScopeTenant = "scope.tenant_id"
	AttrScopeWS     = "scope.workspace_id"
	AttrSessionID   = "session.id"
)

// CommandSpan starts a span for one command dispatch. The returned finish
// func records the outcome; call it with the dispatch error (nil for
// success).
func CommandSpan(ctx context.Context, tracer trace.Tracer, cmdType string, requestID uint64) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, SpanPrefixCommand+cmdType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrCommandType, cmdType),
			attribute.Int64(AttrRequestID, int64(requestID)),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// RenderTracer gates render-pipeline spans behind a runtime toggle, flipped
// by the render-trace.start and render-trace.stop commands.
type RenderTracer struct {
	tracer  trace.Tracer
	active  atomic.Bool
	noopTrc trace.Tracer
}

// NewRenderTracer wraps tracer; the toggle starts off.
func NewRenderTracer(tracer trace.Tracer) *RenderTracer {
	return &RenderTracer{
		tracer:  tracer,
		noopTrc: noop.NewTracerProvider().Tracer("noop"),
	}
}

// Start enables render span emission. Returns false when already running.
func (r *RenderTracer) Start() bool {
	return r.active.CompareAndSwap(false, true)
}

// Stop disables render span emission. Returns false when already stopped.
func (r *RenderTracer) Stop() bool {
	return r.active.CompareAndSwap(true, false)
}

// Active reports whether render tracing is on.
func (r *RenderTracer) Active() bool {
	return r.active.Load()
}

// TickSpan starts a span for one render tick when tracing is active,
// otherwise a no-op span.
func (r *RenderTracer) TickSpan(ctx context.Context) (context.Context, trace.Span) {
	if !r.active.Load() {
		return r.noopTrc.Start(ctx, SpanRenderTick)
	}
	return r.tracer.Start(ctx, SpanRenderTick)
}
