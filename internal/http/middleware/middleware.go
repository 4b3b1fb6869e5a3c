package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Recovery converts a panic inside a handler into a 500 response and a
// structured log line instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered in http handler",
					"panic", rec, "path", c.Request.URL.Path, "method", c.Request.Method)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// Logger emits one structured log line per request, after the handler chain
// completes, matching the fields OTel's span attributes would carry.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
