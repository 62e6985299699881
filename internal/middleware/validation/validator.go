package validation

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxURLLength        int
	MaxURLsPerRequest   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed evaluation requests before they reach the
// handler: wrong content type, oversized URL lists, or URLs that are not
// plain http(s).
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = 2048
	}
	if cfg.MaxURLsPerRequest == 0 {
		cfg.MaxURLsPerRequest = 50
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "unsupported content type",
				})
			}
		}

		if c.Method() == "POST" && strings.Contains(c.Path(), "/api/v1/evaluations") {
			var req struct {
				RequirementURLs []string `json:"requirement_urls"`
				CandidateURLs   []string `json:"candidate_urls"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid JSON format",
				})
			}

			all := append(append([]string{}, req.RequirementURLs...), req.CandidateURLs...)
			if len(all) > cfg.MaxURLsPerRequest {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "too many URLs in request",
				})
			}

			for _, raw := range all {
				if len(raw) > cfg.MaxURLLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "URL exceeds maximum length",
					})
				}
				if !isValidURL(raw) {
					cfg.Logger.Warn("rejected evaluation request URL",
						zap.String("ip", c.IP()),
						zap.String("url", raw),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "invalid URL: " + raw,
					})
				}
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
