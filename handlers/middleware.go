package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sms-server-go/db"
	"sms-server-go/logger"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	sessionKey   = "db_session"
)

// RequestID reuses the caller's X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString(requestIDKey),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.LogWarn("HTTP request", args...)
		default:
			logger.LogInfo("HTTP request", args...)
		}
	}
}

// Recovery turns a panic into a 500 with the usual error body.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.LogError("Panic while handling request", nil,
			"panic", recovered, "path", c.Request.URL.Path, "request_id", c.GetString(requestIDKey))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	})
}

// SessionScope checks out one db.Session for the request and releases it
// once the handler chain returns, whatever the outcome.
func SessionScope(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Acquire(c.Request.Context())
		if err != nil {
			logger.LogError("Failed to acquire database session", err, "request_id", c.GetString(requestIDKey))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Database unavailable"})
			return
		}
		defer func() {
			if err := sess.Release(); err != nil {
				logger.LogWarn("Failed to release database session", "error", err)
			}
		}()

		c.Set(sessionKey, sess)
		c.Next()
	}
}

// SessionFrom returns the Session installed by SessionScope.
func SessionFrom(c *gin.Context) *db.Session {
	return c.MustGet(sessionKey).(*db.Session)
}
