// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, structured access logging and
// panic recovery:
//
//   - RequestID() reuses or generates X-Request-ID and stores it in the Gin
//     context.
//   - Logger() builds a request-scoped zerolog.Logger, exposes it through
//     both the Gin context and the request's context.Context (so services can
//     log via zerolog.Ctx), and emits one access line per request.
//   - Recovery() turns panics into the JSON error envelope.
//
// Install in that order so every log line and error body carries the ID.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes a structured access log for each request. Level follows the
// outcome: error for 5xx or collected gin errors, warn for 4xx, info
// otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := requestLogger(c, c.Request.URL.RawQuery, c.ClientIP())
		attachLogger(c, &l)

		c.Next()
		emitAccess(c, l, start)
	}
}

// requestLogger derives the per-request logger from the global one. The
// request ID comes from RequestID() when installed, else from the headers.
func requestLogger(c *gin.Context, query, ip string) zerolog.Logger {
	v, _ := c.Get(requestIDKey)
	rid := asString(v)
	if rid == "" {
		rid = c.Writer.Header().Get(requestIDHeader)
	}
	if rid == "" {
		rid = c.GetHeader(requestIDHeader)
	}
	path := c.FullPath()
	if path == "" {
		// Fallback when route not matched / 404.
		path = c.Request.URL.Path
	}
	return log.With().
		Str("request_id", rid).
		Str("method", c.Request.Method).
		Str("path", path).
		Str("remote_ip", ip).
		Str("user_agent", c.Request.UserAgent()).
		Str("query", truncate(query, maxQueryLogLength)).
		// ContentLength can be -1 if unknown.
		Int64("bytes_in", c.Request.ContentLength).
		Logger()
}

// attachLogger makes l reachable from handlers (LoggerFrom) and from code
// that only sees the request context (zerolog.Ctx / sysutil.Logger).
func attachLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

func emitAccess(c *gin.Context, l zerolog.Logger, start time.Time) {
	status := c.Writer.Status()
	ev := l.With().
		Int("status", status).
		Dur("latency", time.Since(start)).
		Int("bytes_out", c.Writer.Size()).
		Logger()

	switch {
	case len(c.Errors) > 0:
		ev.Error().Str("errors", c.Errors.String()).Msg("request")
	case status >= 500:
		ev.Error().Msg("request")
	case status >= 400:
		ev.Warn().Msg("request")
	default:
		ev.Info().Msg("request")
	}
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500
// unless the handler already started writing.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			v, _ := c.Get(requestIDKey)
			rid := asString(v)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"error":      "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a copy of the global
// logger when Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes with an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
