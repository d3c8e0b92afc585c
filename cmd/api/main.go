package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/careflow/clinical-records/internal/config"
	"github.com/careflow/clinical-records/internal/handler"
	authHandler "github.com/careflow/clinical-records/internal/handler/auth"
	dashboardHandler "github.com/careflow/clinical-records/internal/handler/dashboard"
	healthHandler "github.com/careflow/clinical-records/internal/handler/health"
	notificationHandler "github.com/careflow/clinical-records/internal/handler/notification"
	patientHandler "github.com/careflow/clinical-records/internal/handler/patient"
	streamHandler "github.com/careflow/clinical-records/internal/handler/stream"
	treatmentHandler "github.com/careflow/clinical-records/internal/handler/treatment"
	userHandler "github.com/careflow/clinical-records/internal/handler/user"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/repository/postgres"
	"github.com/careflow/clinical-records/internal/router"
	eventService "github.com/careflow/clinical-records/internal/service/event"
	notificationService "github.com/careflow/clinical-records/internal/service/notification"
	patientService "github.com/careflow/clinical-records/internal/service/patient"
	treatmentService "github.com/careflow/clinical-records/internal/service/treatment"
	userService "github.com/careflow/clinical-records/internal/service/user"
	"github.com/careflow/clinical-records/internal/service/workflow"
	"github.com/careflow/clinical-records/pkg/auth"
	"github.com/careflow/clinical-records/pkg/feed"
	"github.com/careflow/clinical-records/pkg/logger"
	redisbroker "github.com/careflow/clinical-records/pkg/messaging/redis"
	"github.com/careflow/clinical-records/pkg/metrics"
	"github.com/careflow/clinical-records/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("careflow", "api")

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

	// Repositories
	base := postgres.NewBaseRepository(db)
	userRepo := postgres.NewUserRepository(base)
	patientRepo := postgres.NewPatientRepository(base)
	treatmentRepo := postgres.NewTreatmentRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	// Services
	eventSvc := eventService.NewService(outboxRepo, broker, appLogger, appMetrics)
	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.ExpiryHours)*time.Hour)
	hasher := security.NewBcryptHasher(cfg.Auth.BcryptCost)
	userSvc := userService.NewService(userRepo, hasher, jwtSvc, eventSvc, appLogger)
	patientSvc := patientService.NewService(patientRepo, eventSvc, appLogger)
	treatmentSvc := treatmentService.NewService(treatmentRepo, patientRepo, eventSvc, appLogger)
	workflowSvc := workflow.NewService(patientRepo, treatmentRepo, userRepo, eventSvc, appLogger)
	notificationSvc := notificationService.NewService(
		notificationRepo, userRepo, eventSvc,
		notificationService.Config{IncludeSupervisors: cfg.Notifier.IncludeSupervisors},
		appLogger, appMetrics,
	)

	// Middleware
	userCache := gocache.New(cfg.Auth.UserCacheTTL, 2*cfg.Auth.UserCacheTTL)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc, userSvc, userCache)

	feedOpts := &feed.Options{
		SnapshotRetries:    cfg.Feed.SnapshotRetries,
		SnapshotBackoff:    cfg.Feed.SnapshotBackoff,
		MaxSnapshotBackoff: cfg.Feed.MaxSnapshotBackoff,
	}

	// Handlers
	h := handler.NewHandler()
	authH := authHandler.NewHandler(userSvc)
	patientH := patientHandler.NewHandler(patientSvc, treatmentSvc, workflowSvc)
	treatmentH := treatmentHandler.NewHandler(workflowSvc)
	userH := userHandler.NewHandler(userSvc, workflowSvc)
	notificationH := notificationHandler.NewHandler(notificationSvc)
	dashboardH := dashboardHandler.NewHandler(patientRepo, notificationRepo)
	streamH := streamHandler.NewHandler(patientRepo, notificationRepo, broker, appLogger, feedOpts)
	healthH := healthHandler.NewHandler(db)

	r := router.NewRouter(
		authMiddleware,
		authH, patientH, treatmentH, userH, notificationH, dashboardH, streamH, healthH,
		h,
		router.Config{
			RateLimit:     100,
			RateBurst:     200,
			CORSConfig:    middleware.DefaultCORSConfig(),
			MetricsPrefix: "careflow_api",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
