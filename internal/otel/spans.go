package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for host spans.
var (
	AttrGroupFolder  = attribute.Key("nanoclaw.group.folder")
	AttrLane         = attribute.Key("nanoclaw.group.lane")
	AttrRunID        = attribute.Key("nanoclaw.run.id")
	AttrRunState     = attribute.Key("nanoclaw.run.state")
	AttrContainerID  = attribute.Key("nanoclaw.container.id")
	AttrAuthLane     = attribute.Key("nanoclaw.auth.lane")
	AttrSteerID      = attribute.Key("nanoclaw.steer.id")
	AttrIngestSeq    = attribute.Key("nanoclaw.ingest.seq")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (channel ingest, Host Router).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (container runner, Docker API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
