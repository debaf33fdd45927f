package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS adds Strict-Transport-Security. Leave false when the
	// service is not always reached via TLS (behind an internal LB, local
	// dev), otherwise browsers will pin HTTPS for the whole host.
	EnableHSTS bool
	// HSTSMaxAgeSeconds is the max-age for HSTS; defaults to 180 days
	// when zero or negative.
	HSTSMaxAgeSeconds int
	// ContentSecurityPolicy overrides the default deny-all CSP. The API
	// serves JSON only, so the default forbids everything.
	ContentSecurityPolicy string
}

// SecurityHeaders sets conservative security headers suited to a JSON API.
func SecurityHeaders(opts SecurityOptions) gin.HandlerFunc {
	csp := opts.ContentSecurityPolicy
	if csp == "" {
		csp = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	}

	maxAge := opts.HSTSMaxAgeSeconds
	if maxAge <= 0 {
		maxAge = 15552000
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", csp)
		h.Set("Cache-Control", "no-store")
		if opts.EnableHSTS {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}
