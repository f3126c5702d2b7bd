package middleware

import (
	"strings"

	"github.com/admissions-portal/backend/internal/auth"
	"github.com/admissions-portal/backend/internal/config"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/rbac"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CtxAdminID  = "admin_id"
	CtxIdentity = "admin_identity"
)

// AuthMiddleware accepts a bearer token, or a token query parameter for
// WebSocket upgrades where browsers cannot set headers.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query("token")
		if authHeader := c.Get("Authorization"); authHeader != "" {
			tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == authHeader {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
			}
		}
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxAdminID, claims.AdminID)
		c.Locals(CtxIdentity, claims.Identity())

		return c.Next()
	}
}

func GetAdminID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxAdminID).(uuid.UUID)
	return id
}

func GetIdentity(c *fiber.Ctx) models.AdminIdentity {
	identity, _ := c.Locals(CtxIdentity).(models.AdminIdentity)
	return identity
}

// RequirePermission rejects sessions whose role lacks permission.
func RequirePermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rbac.HasPermission(GetIdentity(c).Role, permission) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient permissions"})
		}
		return c.Next()
	}
}
