// Package apikey guards fiber routes with a static shared key, read from the
// X-API-Key header or an Authorization bearer token.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// DefaultHeaderName is the header checked before Authorization.
const DefaultHeaderName = "X-API-Key"

// Config defines the configuration for the middleware.
type Config struct {
	// Key is the expected value. An empty Key disables the check.
	Key string

	// HeaderName overrides DefaultHeaderName.
	HeaderName string

	// Skip defines a function to skip the middleware.
	Skip func(*fiber.Ctx) bool

	// ErrorHandler renders rejected requests. The default writes a JSON 401.
	ErrorHandler fiber.Handler
}

// New returns the middleware.
func New(cfg Config) fiber.Handler {
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = unauthorized
	}

	expected := sha256.Sum256([]byte(cfg.Key))

	return func(c *fiber.Ctx) error {
		if cfg.Key == "" || (cfg.Skip != nil && cfg.Skip(c)) {
			return c.Next()
		}

		presented := Extract(c, cfg.HeaderName)
		if presented == "" {
			return cfg.ErrorHandler(c)
		}

		got := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(expected[:], got[:]) != 1 {
			return cfg.ErrorHandler(c)
		}
		return c.Next()
	}
}

// Extract returns the key from header, falling back to a bearer token.
func Extract(c *fiber.Ctx, header string) string {
	if key := strings.TrimSpace(c.Get(header)); key != "" {
		return key
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   "unauthorized",
		"message": "Missing or invalid API key",
	})
}
