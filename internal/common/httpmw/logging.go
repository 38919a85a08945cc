package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/constants"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// RequestLogger logs each request after its handler completes. Investigation
// requests are tagged with their thread so one thread's whole lifecycle can
// be filtered from the logs. Health probes only appear at debug level.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if threadID := requestThreadID(c); threadID != "" {
			fields = append(fields, zap.String("thread_id", threadID))
		}
		if size := c.Writer.Size(); size > 0 {
			fields = append(fields, zap.Int("bytes", size))
		}

		switch {
		case status >= 500:
			log.Error("http", fields...)
		case path == "/health":
			log.Debug("http", fields...)
		default:
			log.Info("http", fields...)
		}
	}
}

// requestThreadID recovers the thread a request concerns: from the route
// parameter on thread-scoped routes, or from the response header the
// investigate handler sets once the thread ID is known.
func requestThreadID(c *gin.Context) string {
	if threadID := c.Param("thread_id"); threadID != "" {
		return threadID
	}
	return c.Writer.Header().Get(constants.HeaderThreadID)
}
