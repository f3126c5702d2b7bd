package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admissions-portal/backend/internal/alerts"
	"github.com/admissions-portal/backend/internal/audit"
	"github.com/admissions-portal/backend/internal/config"
	"github.com/admissions-portal/backend/internal/db"
	"github.com/admissions-portal/backend/internal/events"
	apphttp "github.com/admissions-portal/backend/internal/http"
	"github.com/admissions-portal/backend/internal/http/handlers"
	"github.com/admissions-portal/backend/internal/jobs"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/notifications"
	"github.com/admissions-portal/backend/internal/presence"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/admissions-portal/backend/internal/review"
	"github.com/admissions-portal/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	recordRepo := repositories.NewRecordRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	adminRepo := repositories.NewAdminRepo(pool)
	permissionRepo := repositories.NewPermissionRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Presence
	registry := presence.NewRegistry(presence.NewRedisStore(rdb, 0), publisher, subscriber, cfg.PresenceGrace, log)
	registry.Start(ctx, cfg.PresenceSweepInterval)

	// Audit and critical alerts
	var alertChannel alerts.Channel = alerts.NewLogChannel(log)
	if cfg.AlertWebhookURL != "" {
		alertChannel = alerts.NewWebhookChannel(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, cfg.AlertTimeout)
	}
	dispatcher := alerts.NewDispatcher(alertChannel, cfg.AlertTimeout, log)
	auditLog := audit.NewLog(auditRepo, log, dispatcher.OnAuditEntry)

	// Services
	outboundQueue := jobs.NewQueue(rdb, jobs.QueueOutbound)
	machine := review.NewMachine(recordRepo, adminRepo, permissionRepo, auditLog, publisher, outboundQueue, log)
	fanout := notifications.NewFanout(notificationRepo, adminRepo, publisher, subscriber, cfg.NotificationListLimit, log)
	adminService := services.NewAdminService(adminRepo, permissionRepo, auditLog, cfg.JWTSecret, cfg.JWTExpiration, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(adminService, machine, log)
	applicationHandler := handlers.NewReviewHandler(models.KindApplication, machine, registry, log)
	storyHandler := handlers.NewReviewHandler(models.KindStory, machine, registry, log)
	auditHandler := handlers.NewAuditHandler(auditLog, log)
	notificationHandler := handlers.NewNotificationHandler(fanout, log)
	adminHandler := handlers.NewAdminHandler(adminService, log)
	wsHub := handlers.NewWSHub(registry, fanout, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb,
		authHandler, applicationHandler, storyHandler,
		auditHandler, notificationHandler, adminHandler, wsHub,
	)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		_ = app.ShutdownWithTimeout(10 * time.Second)
		cancel()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}

	_ = registry.Close()
	dispatcher.Wait()
	stats := dispatcher.Stats()
	log.Info("API server stopped",
		zap.Int64("alerts_delivered", stats.Delivered),
		zap.Int64("alerts_failed", stats.Failed),
	)
}
