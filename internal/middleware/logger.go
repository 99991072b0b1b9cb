package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/medstock/medstock-server/pkg/logger"
)

// Logger writes a structured access log for each request, including the
// verified subject id once authentication has run.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithModule("http").Info("request", accessLogFields(c, start)...)
	}
}

// accessLogFields builds the per-request log fields after the handler chain
// has run, so values set by downstream middleware (the authenticated user id,
// handler errors) are visible.
func accessLogFields(c *gin.Context, start time.Time) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)),
		zap.String("client_ip", c.ClientIP()),
	}

	if uid, ok := c.Get(CtxUserIDKey); ok {
		if id, ok := uid.(string); ok && id != "" {
			fields = append(fields, zap.String("user_id", id))
		}
	}

	if len(c.Errors) > 0 {
		fields = append(fields, zap.String("errors", c.Errors.String()))
	}

	return fields
}
