package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/freshsave/pkg/config"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/pkg/utils"
	"github.com/sakashimaa/freshsave/services/notification/internal/infrastructure/email"
	"github.com/sakashimaa/freshsave/services/notification/internal/service"
	"github.com/sakashimaa/freshsave/services/notification/transport/kafka"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: "notification-service",
		Endpoint:    cfg.Tracing.Endpoint,
		Env:         cfg.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Error starting telemetry: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("error syncing logger: %v", err)
		}
	}()

	if err := db.Migrate(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, logger); err != nil {
		log.Fatalf("error migrating: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, db.PoolConfig{
		URL:             cfg.Postgres.URL,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	}, logger)
	if err != nil {
		log.Fatalf("error creating postgres db: %v", err)
	}

	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	notificationService := service.NewNotificationService(
		emailSender,
		service.NewPostgresDeduplicator(pool, logger),
		cfg.SMTP.BaseURL,
		logger,
	)

	consumer := kafka.NewConsumer(notificationService, logger)

	if err := consumer.Start(ctx, cfg.Kafka.BrokerList(), cfg.Kafka.NotificationGroup, cfg.Kafka.NotificationTopic); err != nil {
		mylogger.Error(ctx, logger, "Consumer stopped", zap.Error(err))
		stop()
	}

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error closing telemetry: %v\n", err)
	} else {
		log.Printf("Closed telemetry successfully")
	}

	pool.Close()
	log.Println("✅ Postgres pool closed")
}
