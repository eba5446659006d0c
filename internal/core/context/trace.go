package context

import (
	"context"
	"strings"

	"orseries/internal/core/id"
)

// TraceContext correlates log lines, audit entries and spans of one request
// or one background job tick.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns the request id recorded in sys_audit, or "".
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext creates a TraceContext with fresh ids.
func NewTraceContext() *TraceContext {
	return NewTraceContextFrom("", "", "")
}

// NewTraceContextFrom keeps the given ids and generates the missing ones.
// Generated ids are UUIDv7, so they sort by start time.
func NewTraceContextFrom(traceID, spanID, requestID string) *TraceContext {
	if traceID == "" {
		traceID = id.New().String()
	}
	if spanID == "" {
		spanID = strings.ReplaceAll(id.New().String(), "-", "")[16:]
	}
	if requestID == "" {
		requestID = id.New().String()
	}
	return &TraceContext{TraceID: traceID, SpanID: spanID, RequestID: requestID}
}
