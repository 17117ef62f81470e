package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/config"
	"diet-coach/internal/database"
	"diet-coach/internal/llm"
	"diet-coach/internal/logging"
	"diet-coach/internal/metrics"
	"diet-coach/internal/swap"
	"diet-coach/internal/web"

	"go.uber.org/zap"
)

const requestsPerSecond = 20

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.WebJWTSecret == "" {
		log.Fatalf("WEB_JWT_SECRET environment variable not set")
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	metricsStore := metrics.NewStore(db.SQL, logger)
	client, err := coach.NewClient(cfg, coach.WithObserver(metricsStore))
	if err != nil {
		logger.Fatal("failed to create backend client", zap.Error(err))
	}

	transcriber, err := llm.NewTranscriber(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create transcriber", zap.Error(err))
	}
	if transcriber != nil {
		defer transcriber.Close()
	}

	sessions := calendar.NewRegistry(calendar.CoachSessions(client, calendar.SessionOptions{
		Calendar: calendar.Options{Logger: logger, Location: cfg.Location},
		Swap: swap.Options{
			Transcriber: transcriber,
			Debounce:    cfg.SearchDebounce,
			ResultDelay: cfg.SwapResultDelay,
			Logger:      logger,
		},
	}))

	app := web.NewApp(web.Options{
		Sessions:   sessions,
		JWTService: web.NewJWTService(cfg.WebJWTSecret, "diet-coach"),
		Logger:     logger,
		RateLimit:  requestsPerSecond,
	})

	go func() {
		logger.Info("web server listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting")
}
