package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/admissions-portal/backend/internal/config"
	"github.com/admissions-portal/backend/internal/db"
	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/jobs"
	"github.com/admissions-portal/backend/internal/notifications"
	"github.com/admissions-portal/backend/internal/outbound"
	"github.com/admissions-portal/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	notificationRepo := repositories.NewNotificationRepo(pool)
	adminRepo := repositories.NewAdminRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// In-app notifications for editors
	fanout := notifications.NewFanout(notificationRepo, adminRepo, publisher, subscriber, cfg.NotificationListLimit, log)
	if err := fanout.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to review events", zap.Error(err))
	}

	// Applicant-facing delivery
	mailer := outbound.NewEmailSender(outbound.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	sender := outbound.NewSender(mailer, log,
		outbound.NewGatewayClient("sms", cfg.SMSGatewayURL, cfg.GatewayToken, log),
		outbound.NewGatewayClient("whatsapp", cfg.WhatsAppGatewayURL, cfg.GatewayToken, log),
	)
	worker := outbound.NewWorker(
		jobs.NewQueue(rdb, jobs.QueueOutbound),
		jobs.NewQueue(rdb, jobs.QueueDead),
		sender, cfg.OutboundMaxRetries, log,
	)

	log.Info("worker started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down worker")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}
