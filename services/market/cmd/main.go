package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/freshsave/pkg/config"
	"github.com/sakashimaa/freshsave/pkg/db"
	"github.com/sakashimaa/freshsave/pkg/kafka"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/freshsave/pkg/outbox/repository"
	"github.com/sakashimaa/freshsave/pkg/outbox/worker"
	"github.com/sakashimaa/freshsave/pkg/utils"
	"github.com/sakashimaa/freshsave/services/market/internal/infrastructure/external"
	"github.com/sakashimaa/freshsave/services/market/internal/infrastructure/redislock"
	"github.com/sakashimaa/freshsave/services/market/internal/metrics"
	"github.com/sakashimaa/freshsave/services/market/internal/repository"
	"github.com/sakashimaa/freshsave/services/market/internal/repository/memory"
	"github.com/sakashimaa/freshsave/services/market/internal/repository/postgres"
	"github.com/sakashimaa/freshsave/services/market/internal/scheduler"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/handler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName: "market-service",
		Endpoint:    cfg.Tracing.Endpoint,
		Env:         cfg.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("failed to sync logger: %v", err)
		}
	}()

	var (
		uow  repository.UnitOfWork
		pool *pgxpool.Pool
	)

	switch cfg.Storage.Driver {
	case "memory":
		uow = memory.NewStore()
		mylogger.Warn(ctx, logger, "Using in-memory storage, data is lost on restart")
	default:
		if err := db.Migrate(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, logger); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}

		pool, err = db.NewPostgresDB(ctx, db.PoolConfig{
			URL:             cfg.Postgres.URL,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create pool: %v", err)
		}
		uow = postgres.NewStore(pool, logger)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.BrokerList(), logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	m := metrics.New()

	catalogService := service.NewCachedCatalogService(
		service.NewCatalogService(uow, logger, time.Now),
		rdb,
		cfg.Redis.CacheTTL,
		logger,
	)

	orderService := service.NewOrderService(uow, service.OrderConfig{
		CancelWindow: cfg.Orders.CancelWindow,
		TTL:          cfg.Orders.TTL,
		Topic:        cfg.Kafka.OrderTopic,
	}, logger,
		service.WithOrderMetrics(m),
		service.WithOrderItemInvalidator(catalogService),
	)

	fanout := service.NewFanoutService(uow, external.NewKafkaSender(kafkaProducer, cfg.Kafka.NotificationTopic, logger), service.FanoutConfig{
		TTL:     cfg.Sweep.NotificationTTL,
		Sampler: service.NewRateSampler(cfg.Sweep.ExternalSampleRate),
		Metrics: m,
	}, logger)

	sweepService := service.NewSweepService(uow, fanout, service.SweepConfig{
		Horizon:       cfg.Sweep.Horizon,
		LockTTL:       cfg.Sweep.LockTTL,
		ReadRetention: cfg.Sweep.NotificationRetained,
	}, logger,
		service.WithSweepLocker(redislock.NewLock(rdb, logger)),
		service.WithSweepItemInvalidator(catalogService),
		service.WithSweepMetrics(m),
	)

	notificationService := service.NewNotificationService(uow.Notifications(), logger, time.Now)

	jobs := scheduler.New(sweepService, orderService, scheduler.Config{
		SweepSpec:   cfg.Sweep.Spec,
		LapseSpec:   cfg.Orders.LapseSpec,
		CleanupSpec: cfg.Sweep.CleanupSpec,
		Horizon:     cfg.Sweep.Horizon,
	}, logger)

	app := http.NewApp(&http.Handlers{
		Order:        handler.NewOrderHandler(orderService, logger),
		Item:         handler.NewItemHandler(catalogService, logger),
		Notification: handler.NewNotificationHandler(notificationService, logger),
		Admin:        handler.NewAdminHandler(sweepService, logger, time.Now),
	}, http.Options{
		Registry:          m.Registry,
		LimiterMax:        cfg.Limiter.Max,
		LimiterExpiration: cfg.Limiter.Expiration,
		Timeout:           cfg.HTTP.Timeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	if pool != nil {
		outboxProcessor := worker.NewOutboxProcessor(
			pool,
			outboxRepository.NewOutboxRepository(logger),
			kafkaProducer,
			logger,
			worker.WithBatchSize(cfg.Kafka.OutboxBatchSize),
			worker.WithInterval(cfg.Kafka.OutboxPollInterval),
			worker.WithRetention(cfg.Kafka.OutboxRetention),
		)

		g.Go(func() error {
			outboxProcessor.Start(gctx)
			return nil
		})
	}

	if err := jobs.Start(gctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	g.Go(func() error {
		mylogger.Info(gctx, logger, "HTTP service listening", zap.String("port", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})

	<-gctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down market service")

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to stop HTTP app", zap.Error(err))
	}

	jobs.Stop(shutdownCtx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mylogger.Error(shutdownCtx, logger, "Service stopped with error", zap.Error(err))
	}

	if err := kafkaProducer.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close kafka producer", zap.Error(err))
	}

	if err := rdb.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close redis client", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}

	if pool != nil {
		pool.Close()
	}
}
