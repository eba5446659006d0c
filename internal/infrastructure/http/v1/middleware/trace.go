package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appctx "orseries/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

var tracer = otel.Tracer("orseries/http")

// Trace opens a server span and puts trace and request ids into the request
// context. Incoming X-Trace-ID / X-Request-ID headers are kept. Otherwise the
// ids of a recording span are used, or fresh ones are generated.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		traceID := c.GetHeader(HeaderTraceID)
		var spanID string
		if sc := span.SpanContext(); sc.IsValid() {
			if traceID == "" {
				traceID = sc.TraceID().String()
			}
			spanID = sc.SpanID().String()
		}
		tc := appctx.NewTraceContextFrom(traceID, spanID, c.GetHeader(HeaderRequestID))

		span.SetAttributes(
			attribute.String("http.request_id", tc.RequestID),
			attribute.String("http.trace_id", tc.TraceID),
		)
		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, tc))

		c.Set("trace_id", tc.TraceID)
		c.Set("request_id", tc.RequestID)
		c.Header(HeaderRequestID, tc.RequestID)
		c.Header(HeaderTraceID, tc.TraceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
