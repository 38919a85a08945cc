package httpmw

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vigilops/vigilops/internal/common/tracing"
)

// OtelTracing wraps each request in a span. Streamed investigations hold
// their span open for the life of the SSE response, so span duration is the
// investigation duration. Without OTEL_EXPORTER_OTLP_ENDPOINT this is a
// no-op tracer and costs nothing.
func OtelTracing(serverName string) gin.HandlerFunc {
	tracer := tracing.Tracer(serverName)

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracer.Start(c.Request.Context(),
			fmt.Sprintf("%s %s", c.Request.Method, route))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPResponseStatusCodeKey.Int(status),
		)
		if threadID := requestThreadID(c); threadID != "" {
			span.SetAttributes(attribute.String("vigilops.thread_id", threadID))
		}
		if c.Writer.Header().Get("Content-Type") == "text/event-stream" {
			span.SetAttributes(attribute.Bool("vigilops.streamed", true))
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
