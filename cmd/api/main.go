package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/notification-center/internal/config"
	"github.com/kursadbilgin/notification-center/internal/driver"
	"github.com/kursadbilgin/notification-center/internal/handler"
	"github.com/kursadbilgin/notification-center/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-center/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-center/internal/infra/redis"
	"github.com/kursadbilgin/notification-center/internal/observability"
	"github.com/kursadbilgin/notification-center/internal/queue"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"github.com/kursadbilgin/notification-center/internal/service"
	"github.com/kursadbilgin/notification-center/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	defer postgresql.Close(db) //nolint:errcheck

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	channels, err := cfg.Channels()
	if err != nil {
		logger.Fatal("channel configuration failed", zap.Error(err))
	}
	registry := driver.NewRegistry(channels, driver.WithLogger(logger))

	var publisher queue.Publisher
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, "notification-center-api", logger)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher = queue.NewRabbitMQPublisher(rmq)
		defer publisher.Close()
	}

	metrics := observability.NewMetrics()

	notificationService, err := service.NewNotificationService(
		repository.NewGormNotificationRepo(db),
		repository.NewGormJobRepo(db),
		repository.NewGormDeliveryLogRepo(db),
		registry,
		publisher,
		logger,
	)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	notificationService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(), transport.RequestID(), transport.Correlate(), metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterMetricsRoute(app, metrics.Handler())
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notification-center api started",
			zap.Int("port", cfg.APIPort),
			zap.Strings("channels", registry.ListChannels()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
