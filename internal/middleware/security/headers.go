package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	IsDevelopment bool
}

// HeadersMiddleware sets the baseline security headers for the JSON API.
// The engine serves no HTML, so the CSP can stay locked down.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}
