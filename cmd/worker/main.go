package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/careflow/clinical-records/internal/config"
	"github.com/careflow/clinical-records/internal/repository/postgres"
	eventService "github.com/careflow/clinical-records/internal/service/event"
	notificationService "github.com/careflow/clinical-records/internal/service/notification"
	"github.com/careflow/clinical-records/internal/worker"
	"github.com/careflow/clinical-records/pkg/logger"
	redisbroker "github.com/careflow/clinical-records/pkg/messaging/redis"
	"github.com/careflow/clinical-records/pkg/metrics"
)

// envOverrides are the worker's env-only knobs, layered over the shared
// YAML config so a deployment can tune the drain loop without a file edit.
type envOverrides struct {
	BatchSize     int           `envconfig:"WORKER_BATCH_SIZE"`
	PollInterval  time.Duration `envconfig:"WORKER_POLL_INTERVAL"`
	RetryAttempts int           `envconfig:"WORKER_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `envconfig:"WORKER_RETRY_DELAY"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to read environment overrides")
	}
	if env.BatchSize > 0 {
		cfg.Worker.BatchSize = env.BatchSize
	}
	if env.PollInterval > 0 {
		cfg.Worker.PollInterval = env.PollInterval
	}
	if env.RetryAttempts > 0 {
		cfg.Worker.RetryAttempts = env.RetryAttempts
	}
	if env.RetryDelay > 0 {
		cfg.Worker.RetryDelay = env.RetryDelay
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("careflow", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	brokerLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &brokerLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	base := postgres.NewBaseRepository(db)
	userRepo := postgres.NewUserRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	eventSvc := eventService.NewService(outboxRepo, broker, appLogger, appMetrics)
	notificationSvc := notificationService.NewService(
		notificationRepo, userRepo, eventSvc,
		notificationService.Config{IncludeSupervisors: cfg.Notifier.IncludeSupervisors},
		appLogger, appMetrics,
	)

	processor := worker.NewFanoutProcessor(
		outboxRepo,
		notificationSvc,
		broker,
		worker.FanoutProcessorConfig{
			BatchSize:          cfg.Worker.BatchSize,
			PollInterval:       cfg.Worker.PollInterval,
			RetryAttempts:      cfg.Worker.RetryAttempts,
			RetryDelay:         cfg.Worker.RetryDelay,
			CleanupInterval:    cfg.Worker.CleanupInterval,
			ProcessedRetention: cfg.Worker.ProcessedRetention,
		},
		appLogger,
		appMetrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go processor.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
}
