package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger logs one line per request through the global zap logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
		}

		switch {
		case status >= 500:
			zap.L().Error("Server error", fields...)
		case status >= 400:
			zap.L().Warn("Client error", fields...)
		default:
			zap.L().Info("Request processed", fields...)
		}
	}
}
