// middleware/auth.go
package middleware

import (
	"context"
	"strings"

	"design-battle-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	localUserID    = "user_id"
	localUserRoles = "user_roles"

	RoleAdmin = "admin"
)

// TokenValidator resolves an end-user access token. Satisfied by
// services.AuthServiceClient.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// UserContextMiddleware attaches the caller's identity to the request.
//
// X-User-ID / X-User-Roles are trusted only on requests that carry the
// gateway token (or on every request when gatewayToken is empty, which
// config refuses in production). Identity headers without it are rejected
// with 401. Any other Bearer token is checked with validator when one is
// configured. Anonymous requests pass through; RequireUser guards the routes
// that need a caller.
func UserContextMiddleware(gatewayToken string, validator TokenValidator) fiber.Handler {
	log := logrus.WithField("component", "user_context")
	if gatewayToken == "" {
		log.Warn("no gateway token configured, identity headers are trusted from any caller")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		headerID := strings.TrimSpace(c.Get("X-User-ID"))
		headerRoles := strings.TrimSpace(c.Get("X-User-Roles"))

		viaGateway := gatewayTokenMatches(authHeader, gatewayToken)
		trustHeaders := gatewayToken == "" || viaGateway

		var (
			userID string
			roles  []string
		)
		switch {
		case trustHeaders && headerID != "":
			userID = headerID
			roles = splitRoles(headerRoles)
		case !trustHeaders && (headerID != "" || headerRoles != ""):
			log.WithFields(logrus.Fields{
				"path": c.Path(),
				"ip":   c.IP(),
			}).Warn("identity headers without gateway token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "identity headers require gateway authentication",
			})
		case !viaGateway && validator != nil:
			token, ok := bearerToken(authHeader)
			if !ok {
				break
			}
			resp, err := validator.ValidateToken(c.UserContext(), token, c.Get("X-Device-ID"))
			switch {
			case err == nil:
				userID = resp.UserID
				roles = resp.Roles
			case services.IsInvalidToken(err):
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"success": false,
					"message": "invalid or expired access token",
				})
			default:
				log.WithError(err).Error("token validation failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"success": false,
					"message": "authentication temporarily unavailable",
				})
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserRoles, roles)
		return c.Next()
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "authentication required",
			})
		}
		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "authentication required",
			})
		}
		if !HasRole(c, RoleAdmin) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"message": "admin role required",
			})
		}
		return c.Next()
	}
}

// UserID returns the caller set by UserContextMiddleware, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(localUserRoles).([]string)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
