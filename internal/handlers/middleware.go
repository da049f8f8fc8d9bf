package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request at a level chosen by status class.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("size_bytes", c.Writer.Size()),
		}
		if requestID, ok := c.Get(requestIDKey); ok {
			fields = append(fields, zap.Any("request_id", requestID))
		}

		switch {
		case status >= 500:
			logger.Error("http server error", fields...)
		case status >= 400:
			logger.Warn("http client error", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
