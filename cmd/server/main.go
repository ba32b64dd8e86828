package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/enersight/peakline/internal/api"
	"github.com/enersight/peakline/internal/api/handlers"
	"github.com/enersight/peakline/internal/classifier"
	"github.com/enersight/peakline/internal/config"
	"github.com/enersight/peakline/internal/database"
	"github.com/enersight/peakline/internal/logging"
	"github.com/enersight/peakline/internal/middleware"
	"github.com/enersight/peakline/internal/services"
	"github.com/enersight/peakline/internal/telemetry"
)

func main() {
	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logging.ParseLogrusLevel(cfg.LogLevel))

	stdLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: telemetry.ServiceVersion,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})

	ctx := context.Background()
	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	repo := database.NewPeakRepository(db.Pool)
	scorer := services.NewDeviationScorer(logger)
	detector := services.NewPeakDetector(repo, services.SystemClock(), cfg.Detection, logger)
	batcher := services.NewBatchBuilder(repo, logger)
	reconciler := services.NewAttributionReconciler(repo, cfg.Attribution, logger)
	classifierClient := classifier.NewClient(&cfg.Classifier)

	var sender services.MessageSender
	if cfg.Alerts.TelegramBotToken != "" {
		telegramSender, err := services.NewTelegramSender(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID)
		if err != nil {
			log.Fatalf("Failed to create telegram sender: %v", err)
		}
		sender = telegramSender
	} else {
		sender = logSender{logger: logger}
	}
	notifier := services.NewAnomalyNotifier(
		repo,
		scorer,
		redis,
		sender,
		services.SystemClock(),
		time.Duration(cfg.Alerts.DedupTTLHours)*time.Hour,
		logger,
	)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	healthHandler := handlers.NewHealthHandler(db, redis)
	peakHandler := handlers.NewPeakHandler(detector, batcher, reconciler, notifier, classifierClient, repo, logger)
	trigger := middleware.NewTriggerMiddleware(cfg.Server.TriggerSecret)
	auth := middleware.NewAuthMiddleware(cfg.Security.JWTSecret)

	api.SetupRoutes(router, healthHandler, peakHandler, trigger, auth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		stdLogger.LogStartup("peakline", telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stdLogger.LogShutdown("peakline", "signal received")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
}

// logSender is the development fallback when no Telegram token is
// configured: notices land in the service log.
type logSender struct {
	logger *logrus.Logger
}

func (s logSender) Send(_ context.Context, text string) error {
	s.logger.WithField("notice", text).Info("Anomaly notice (log only)")
	return nil
}
