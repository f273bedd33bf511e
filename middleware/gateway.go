// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// GatewayAuthMiddleware checks the service token the gateway sends as a
// Bearer credential. An empty expectedToken disables the check.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	log := logrus.WithField("component", "gateway_auth")
	if expectedToken == "" {
		log.Warn("no gateway token configured, internal routes are unauthenticated")
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			log.WithField("path", c.Path()).Warn("missing gateway token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "gateway authentication token missing",
			})
		}

		if !gatewayTokenMatches(authHeader, expectedToken) {
			log.WithField("path", c.Path()).Warn("invalid gateway token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}

// gatewayTokenMatches compares an Authorization header against the gateway
// token. The "Bearer " prefix is optional.
func gatewayTokenMatches(authHeader, expectedToken string) bool {
	if expectedToken == "" {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1
}
