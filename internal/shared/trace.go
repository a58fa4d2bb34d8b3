// Package shared provides small cross-cutting helpers — context-propagated
// identifiers and secret redaction — used by every other package in this
// module.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type runKey struct{}
type groupKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a worker run_id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID extracts run_id from context. Returns "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runKey{}).(string)
	return v
}

// WithGroupFolder attaches the owning group_folder to the context.
func WithGroupFolder(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, groupKey{}, group)
}

// GroupFolder extracts group_folder from context. Returns "" if absent.
func GroupFolder(ctx context.Context) string {
	v, _ := ctx.Value(groupKey{}).(string)
	return v
}
