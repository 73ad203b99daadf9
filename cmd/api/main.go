package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquademia/notify-engine/internal/config"
	"github.com/aquademia/notify-engine/internal/dispatch"
	"github.com/aquademia/notify-engine/internal/handler"
	"github.com/aquademia/notify-engine/internal/infra/postgresql"
	"github.com/aquademia/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/aquademia/notify-engine/internal/infra/redis"
	"github.com/aquademia/notify-engine/internal/mail"
	"github.com/aquademia/notify-engine/internal/observability"
	"github.com/aquademia/notify-engine/internal/presence"
	"github.com/aquademia/notify-engine/internal/queue"
	"github.com/aquademia/notify-engine/internal/repository"
	"github.com/aquademia/notify-engine/internal/service"
	"github.com/aquademia/notify-engine/internal/targeting"
	"github.com/aquademia/notify-engine/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	metrics := observability.NewMetrics()

	notificationRepo := repository.NewGormNotificationRepo(db)
	userRepo := repository.NewGormUserRepo(db)

	resolver, err := targeting.NewResolver(userRepo)
	if err != nil {
		logger.Fatal("targeting resolver initialization failed", zap.Error(err))
	}

	registry := presence.NewRegistry()

	pusher, err := infraredis.NewConnectionPusher(rdb)
	if err != nil {
		logger.Fatal("connection pusher initialization failed", zap.Error(err))
	}

	dispatcher, err := dispatch.NewDispatcher(
		registry,
		pusher,
		time.Duration(cfg.PushTimeoutMillis)*time.Millisecond,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	var publisher queue.Publisher
	if cfg.EmailEnabled() {
		publisher = queue.NewRabbitMQPublisher(broker)
	}

	notificationService, err := service.NewNotificationService(
		notificationRepo,
		userRepo,
		resolver,
		dispatcher,
		publisher,
		cfg.BulkDispatchWorkers,
		logger,
	)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	notificationService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		logger.Fatal("failed to register notification routes", zap.Error(err))
	}
	if err := handler.RegisterPresenceRoutes(app, registry, notificationService, metrics); err != nil {
		logger.Fatal("failed to register presence routes", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	if cfg.EmailEnabled() {
		sender, err := mail.NewWebhookSender(cfg.EmailWebhookURL)
		if err != nil {
			logger.Fatal("mail sender initialization failed", zap.Error(err))
		}

		limiter, err := infraredis.NewRateLimiter(rdb, cfg.EmailRatePerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}

		consumer := queue.NewRabbitMQConsumer(broker, cfg.EmailWorkerConcurrency, logger)
		worker, err := service.NewEmailWorker(consumer, sender, limiter, cfg.EmailWorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("email worker initialization failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)

		g.Go(func() error {
			return worker.Start(groupCtx)
		})
	} else {
		logger.Warn("email channel disabled: EMAIL_WEBHOOK_URL is not set")
	}

	g.Go(func() error {
		logger.Info("notify-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}
