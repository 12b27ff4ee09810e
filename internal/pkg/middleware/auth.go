package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopgridhq/shopgrid/app/models"
	"github.com/shopgridhq/shopgrid/internal/pkg/security"
	"github.com/shopgridhq/shopgrid/internal/pkg/usercontext"
)

// RequireAuth validates the bearer token and installs the user context.
// Returns JSON 401 for API callers instead of a redirect.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		claims, err := security.ParseAccessToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired token"})
		}

		userCtx := usercontext.UserContext{
			UserID:     claims.UserID,
			Username:   claims.Email,
			IsLoggedIn: true,
			IsAdmin:    claims.Role == models.ROLE_ADMIN,
		}
		c.Locals("USER_CONTEXT", userCtx)
		c.Locals(usercontext.KeyFromProtected, true)
		c.Locals(usercontext.KeyUserID, claims.UserID)
		c.Locals(usercontext.KeyUsername, claims.Email)
		c.Locals(usercontext.KeyIsAdmin, claims.Role == models.ROLE_ADMIN)

		return c.Next()
	}
}

// RequireAdmin ensures a logged-in admin; JSON 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if isAdmin, ok := c.Locals(usercontext.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
