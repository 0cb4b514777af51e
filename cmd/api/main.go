package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/auth"
	"github.com/kursadbilgin/notification-engine/internal/breaker"
	"github.com/kursadbilgin/notification-engine/internal/config"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/handler"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-engine/internal/infra/redis"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/push"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	pendingGaugeQuery = 2 * time.Second
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notification-engine stopped with error", zap.Error(err))
		stop()
		os.Exit(1)
	}
	logger.Info("notification-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	audit := observability.NewAuditLogger(logger)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	baseStore, attempts, sqlDB, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}
	store := repository.NewCachedStore(baseStore, cfg.CacheSize, cfg.CacheTTL)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()
	}

	limiter, err := newLimiter(cfg, rdb)
	if err != nil {
		return err
	}

	var (
		channel push.Channel
		hub     *push.Hub
	)
	switch cfg.PushMode {
	case config.PushModeWebhook:
		channel, err = push.NewWebhookChannel(cfg.PushWebhookURL)
	default:
		hub, err = push.NewHub(verifier, logger)
		channel = hub
	}
	if err != nil {
		return fmt.Errorf("push channel initialization failed: %w", err)
	}

	engine, err := service.NewDeliveryEngine(store, attempts, channel, service.EngineConfig{
		MaxRetries:              cfg.MaxRetries,
		PushTimeout:             cfg.PushTimeout,
		BackoffBase:             cfg.RetryBackoffBase,
		BackoffMultiplier:       cfg.RetryBackoffMultiplier,
		BackoffMax:              cfg.RetryBackoffMax,
		AllowCrossRecipient:     cfg.AllowCrossRecipient,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenDuration:     cfg.BreakerOpenDuration,
		OnBreakerStateChange: func(name string, from, to breaker.State) {
			metrics.SetBreakerState(name, int(to), to.String())
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}, logger)
	if err != nil {
		return err
	}
	engine.SetAudit(audit)
	engine.SetMetrics(metrics)

	if err := metrics.RegisterPendingGauge(func() float64 {
		queryCtx, cancel := context.WithTimeout(context.Background(), pendingGaugeQuery)
		defer cancel()
		n, err := baseStore.CountByStatus(queryCtx, domain.StatusPending)
		if err != nil {
			return 0
		}
		return float64(n)
	}); err != nil {
		return fmt.Errorf("failed to register pending gauge: %w", err)
	}

	scheduler, err := service.NewRetryScheduler(store, engine, cfg.RetrySweepInterval, cfg.RetrySweepLimit, cfg.MaxRetries, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	cleanup, err := service.NewCleanupTask(store, attempts, cfg.RetentionPeriod, cfg.CleanupSchedule, logger)
	if err != nil {
		return err
	}
	cleanup.SetAudit(audit)
	cleanup.SetMetrics(metrics)

	var dispatcher service.Dispatcher
	dispatcher, err = service.NewSyncDispatcher(engine, store, logger)
	if err != nil {
		return err
	}

	var (
		rabbit *queue.RabbitMQ
		worker *service.DispatchWorker
	)
	if cfg.DispatchMode == config.DispatchModeQueue {
		rabbit, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer rabbit.Close()

		queueDispatcher, err := service.NewQueueDispatcher(queue.NewRabbitMQPublisher(rabbit), dispatcher, logger)
		if err != nil {
			return err
		}
		queueDispatcher.SetMetrics(metrics)
		dispatcher = queueDispatcher

		consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
		worker, err = service.NewDispatchWorker(consumer, engine, cfg.WorkerConcurrency, logger)
		if err != nil {
			return err
		}
		worker.SetMetrics(metrics)
	}

	notifications, err := handler.NewNotificationHandler(engine, dispatcher, logger)
	if err != nil {
		return err
	}
	admin, err := handler.NewAdminHandler(scheduler, cleanup, limiter, audit)
	if err != nil {
		return err
	}

	health := handler.Dependencies{SQL: sqlDB, Redis: rdb}
	if rabbit != nil {
		health.Broker = rabbit
	}

	app := handler.NewApp(handler.AppOptions{
		Logger:        logger,
		Metrics:       metrics,
		Verifier:      verifier,
		Limiter:       limiter,
		Notifications: notifications,
		Admin:         admin,
		Health:        health,
	})

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notification-engine api started",
			zap.Int("port", cfg.APIPort),
			zap.String("dispatchMode", cfg.DispatchMode),
			zap.String("pushMode", cfg.PushMode),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		wsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WSPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("websocket push server started", zap.Int("port", cfg.WSPort))
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-groupCtx.Done()
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return wsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return cleanup.Start(groupCtx) })
	if worker != nil {
		g.Go(func() error { return worker.Start(groupCtx) })
	}

	return g.Wait()
}

func openStores(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (repository.NotificationStore, repository.AttemptStore, *sql.DB, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("using in-memory store, notifications are lost on restart")
		return repository.NewMemoryNotificationStore(), repository.NewMemoryAttemptStore(), nil, nil
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, nil, nil, fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	return repository.NewGormNotificationRepo(db), repository.NewGormAttemptRepo(db), sqlDB, nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.RateLimiter, error) {
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerWindow, cfg.RateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter initialization failed: %w", err)
		}
		return limiter, nil
	}
	return ratelimit.NewMemoryLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow), nil
}
