// Package middleware contains shared Gin middleware used by the HTTP layer:
// request IDs, structured access logging with redaction, panic recovery,
// Prometheus instrumentation, token-bucket rate limiting, and security
// headers.
//
// Recommended order: RequestID → RedactingLogger → Recovery → Metrics →
// rate limiter → CORS → SecurityHeaders, so panics and rejections carry a
// correlation ID and are logged.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// tenantIDKey is set by handlers once a request is scoped to a tenant.
	tenantIDKey = "tenantID"
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a new UUIDv4 is generated.
// The ID is echoed on the response and stored in the Gin context.
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

// Logger attaches a request-scoped zerolog.Logger (Gin context key "logger")
// carrying the correlation ID, method and route. It emits nothing itself;
// RedactingLogger owns the access log, since webhook URLs and headers carry
// customer phone numbers and provider secrets that must be scrubbed first.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Logger()
		c.Set("logger", &l)
		c.Next()
	}
}

// Recovery intercepts panics, logs the stack with the correlation ID, and
// returns a JSON 500 if nothing has been written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or a fallback without
// request fields when none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// SetTenantID scopes the request to a tenant for logging purposes.
func SetTenantID(c *gin.Context, tenantID string) {
	c.Set(tenantIDKey, tenantID)
}

// routePath prefers the registered route to bound label/log cardinality,
// falling back to the raw path for unmatched requests.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// asString converts a context value to a string, empty when absent or not a
// string.
func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
