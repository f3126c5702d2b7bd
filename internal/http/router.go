package http

import (
	"time"

	"github.com/admissions-portal/backend/internal/config"
	"github.com/admissions-portal/backend/internal/http/handlers"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	applicationHandler *handlers.ReviewHandler,
	storyHandler *handlers.ReviewHandler,
	auditHandler *handlers.AuditHandler,
	notificationHandler *handlers.NotificationHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Login is throttled harder than the rest of the API
	api.Post("/auth/login", middleware.RateLimitMiddleware(rdb, 10, time.Minute), authHandler.Login)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log), middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	protected.Get("/me", authHandler.Me)

	// Applications
	protected.Get("/applications", applicationHandler.List)
	protected.Get("/applications/board", applicationHandler.Board)
	protected.Post("/applications/board/move", applicationHandler.MoveCard)
	protected.Get("/applications/:id", applicationHandler.Get)
	protected.Post("/applications/:id/transition", applicationHandler.Transition)
	protected.Get("/applications/:id/viewers", applicationHandler.Viewers)

	// Stories
	protected.Get("/stories", storyHandler.List)
	protected.Get("/stories/board", storyHandler.Board)
	protected.Post("/stories/board/move", storyHandler.MoveCard)
	protected.Get("/stories/:id", storyHandler.Get)
	protected.Post("/stories/:id/transition", storyHandler.Transition)

	// Notifications
	protected.Get("/notifications", notificationHandler.List)
	protected.Post("/notifications/read-all", notificationHandler.MarkAllRead)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)
	protected.Delete("/notifications/:id", notificationHandler.Delete)

	// Own credentials; the service checks self-or-admin
	protected.Post("/admins/:id/password", adminHandler.ChangePassword)
	protected.Post("/admins/:id/2fa", adminHandler.SetTwoFactor)

	// Audit
	audit := protected.Group("/audit", middleware.RequirePermission(rbac.PermViewAudit))
	audit.Get("/", auditHandler.List)
	audit.Get("/:table/:id", auditHandler.ListByRecord)

	// Admin management
	admins := protected.Group("/admins", middleware.RequirePermission(rbac.PermManageAdmins))
	admins.Get("/", adminHandler.List)
	admins.Post("/", adminHandler.Create)
	admins.Put("/:id/role", adminHandler.ChangeRole)
	admins.Put("/:id/permissions", adminHandler.SetModulePermission)
	admins.Delete("/:id", adminHandler.Delete)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware(), middleware.AuthMiddleware(cfg, log))
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
