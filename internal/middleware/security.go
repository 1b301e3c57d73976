package middleware

import "github.com/gin-gonic/gin"

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	// Responses may carry masked settings or audit exports.
	{"Cache-Control", "no-store"},
	// The API lives next to the sites it optimizes; keep it out of search indexes.
	{"X-Robots-Tag", "noindex, nofollow"},
}

// SecurityHeaders sets the response headers every seovault API reply carries.
// HSTS is only sent over TLS.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range securityHeaders {
			c.Header(h[0], h[1])
		}
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		c.Next()
	}
}
