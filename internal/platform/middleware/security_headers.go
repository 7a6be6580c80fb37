package middleware

import (
	"github.com/labstack/echo/v4"
)

type SecurityHeadersConfig struct {
	// HSTS adds Strict-Transport-Security. Only enable it when the server
	// terminates TLS itself.
	HSTS bool
}

// SecurityHeaders sets response headers for a JSON and PDF API that carries
// patient data.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// Assessments and reports must not be cached by intermediaries.
			h.Set("Cache-Control", "no-store")

			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			return next(c)
		}
	}
}
