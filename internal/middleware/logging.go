package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLogger attaches a request-scoped *zap.Logger (carrying a request
// ID, method and path) to the gin context and logs one line per request,
// at Warn for slow requests and Info otherwise.
func RequestLogger(base *zap.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		reqLogger := base.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Set("logger", reqLogger)

		c.Next()

		elapsed := time.Since(start)
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("remote_addr", c.Request.RemoteAddr),
		}
		if tokenID, ok := c.Get("token_id"); ok {
			fields = append(fields, zap.Any("token_id", tokenID))
		}
		if elapsed >= slowThreshold {
			reqLogger.Warn("slow request", fields...)
			return
		}
		reqLogger.Info("request", fields...)
	}
}

// Logger extracts the request-scoped logger set by RequestLogger, falling
// back to base if none was attached (e.g. in tests that skip middleware).
func Logger(c *gin.Context, base *zap.Logger) *zap.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return base
}
