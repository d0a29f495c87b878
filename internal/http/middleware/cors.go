package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORS allows browser calls to the API from the given origins. No origins means any.
func CORS(origins []string) fiber.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		switch {
		case len(allowed) == 0:
			c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		case origin != "":
			if _, ok := allowed[origin]; !ok {
				if c.Method() == fiber.MethodOptions {
					return c.SendStatus(fiber.StatusForbidden)
				}
				return c.Next()
			}
			c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
			c.Vary(fiber.HeaderOrigin)
		}

		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, DELETE, OPTIONS")
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Origin, Content-Type, Accept, Authorization, "+RequestIDHeader)
		c.Set(fiber.HeaderAccessControlExposeHeaders, RequestIDHeader+", X-RateLimit-Remaining")
		c.Set(fiber.HeaderAccessControlMaxAge, "86400")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
