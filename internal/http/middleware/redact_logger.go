package middleware

// RedactingLogger is the access logger. It scrubs what this product's
// traffic is full of: customer phone numbers in webhook payloads and URLs,
// provider tokens and verification secrets in query strings, and bearer
// tokens in headers. Request and response bodies are never logged.

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Query parameters whose values are always fully masked. These are the
// token-bearing parameters of the provider surfaces this service talks to.
var maskedQueryParams = map[string]struct{}{
	"access_token":     {},
	"apikey":           {},
	"code":             {},
	"pin":              {},
	"hub.verify_token": {},
}

// RedactOptions configures additional scrub behavior for RedactingLogger.
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced with "[REDACTED]", merged with the built-ins Authorization,
// Cookie and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware that logs each request with the
// sensitive values scrubbed. Level is info, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	uuidRE := regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE := regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone pattern; UUIDs are redacted first so their digit
	// segments cannot match here.
	phoneRE := regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
		out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
		return out
	}

	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		safeQuery := redactQuery(c.Request.URL.RawQuery, redact)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		tenantID, _ := c.Get(tenantIDKey)
		ev.
			Str("request_id", rid).
			Str("tenant_id", asString(tenantID)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}

// redactQuery masks token-bearing parameter values entirely and applies the
// pattern redaction to the rest. A query string that fails to parse is
// treated as one opaque value and pattern-redacted as a whole.
func redactQuery(rawQuery string, redact func(string) string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return redact(rawQuery)
	}
	out := make(url.Values, len(values))
	for k, vv := range values {
		if _, masked := maskedQueryParams[strings.ToLower(k)]; masked {
			out[k] = []string{"[REDACTED]"}
			continue
		}
		for _, v := range vv {
			out[k] = append(out[k], redact(v))
		}
	}
	return out.Encode()
}
