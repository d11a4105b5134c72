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
	"github.com/kursadbilgin/notification-center/internal/ratelimit"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"github.com/kursadbilgin/notification-center/internal/service"
	"github.com/kursadbilgin/notification-center/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	signalPrefetch  = 10
	shutdownTimeout = 10 * time.Second
)

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

	channels, err := cfg.Channels()
	if err != nil {
		logger.Fatal("channel configuration failed", zap.Error(err))
	}
	registry := driver.NewRegistry(channels, driver.WithLogger(logger))

	overrides, err := cfg.RateLimitOverrides()
	if err != nil {
		logger.Fatal("rate limit configuration failed", zap.Error(err))
	}

	var limiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.ChannelRateLimitPerSec, overrides)
		if err != nil {
			logger.Fatal("redis rate limiter initialization failed", zap.Error(err))
		}
	} else {
		limiter = ratelimit.NewLocalRateLimiter(cfg.ChannelRateLimitPerSec, overrides)
	}

	var (
		publisher queue.Publisher
		consumer  queue.Consumer
	)
	if cfg.RabbitMQURL != "" {
		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, "notification-center-worker", logger)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close()
		publisher = queue.NewRabbitMQPublisher(rmq)
		consumer = queue.NewRabbitMQConsumer(rmq, signalPrefetch, logger)
	}

	notifications := repository.NewGormNotificationRepo(db)
	jobs := repository.NewGormJobRepo(db)
	logs := repository.NewGormDeliveryLogRepo(db)
	metrics := observability.NewMetrics()

	worker, err := service.NewWorkerService(notifications, jobs, logs, registry, limiter, service.WorkerConfig{
		PollInterval:  cfg.WorkerPollInterval,
		MaxAttempts:   cfg.WorkerMaxAttempts,
		LeaseDuration: cfg.WorkerLeaseDuration,
	}, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	sweeper, err := service.NewLeaseSweeper(jobs, notifications, logs, publisher, cfg.SweepInterval, cfg.SweepLimit, cfg.WorkerMaxAttempts, logger)
	if err != nil {
		logger.Fatal("lease sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(groupCtx)
	})
	g.Go(func() error {
		return sweeper.Start(groupCtx)
	})
	if cfg.WorkerMetricsPort > 0 {
		app := newMetricsApp(metrics, logger)
		g.Go(func() error {
			return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
		})
		g.Go(func() error {
			<-groupCtx.Done()
			return app.ShutdownWithTimeout(shutdownTimeout)
		})
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Consume(groupCtx, queue.JobSignalQueue, worker.HandleSignal)
		})
	}

	logger.Info("notification-center worker started",
		zap.String("workerId", worker.ID()),
		zap.Strings("channels", registry.ListChannels()),
		zap.Bool("signals", consumer != nil),
		zap.Bool("sharedThrottle", cfg.RedisURL != ""),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker shut down")
}

// newMetricsApp serves the worker's delivery metrics on /metrics.
func newMetricsApp(metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	handler.RegisterMetricsRoute(app, metrics.Handler())
	return app
}
