package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diet-coach/internal/coach"
	"diet-coach/internal/config"
	"diet-coach/internal/database"
	"diet-coach/internal/llm"
	"diet-coach/internal/logging"
	"diet-coach/internal/metrics"
	"diet-coach/internal/telegram"

	"go.uber.org/zap"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// 2. Storage
	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	metricsStore := metrics.NewStore(db.SQL, logger)
	chats := telegram.NewChatRepository(db.SQL)

	// 3. Backend and voice transcription
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
	} else {
		logger.Info("no transcription key set, voice input disabled")
	}

	// 4. Telegram Bot
	bot, err := telegram.NewBot(cfg, client, transcriber, metricsStore, chats, logger)
	if err != nil {
		logger.Fatal("failed to initialize telegram bot", zap.Error(err))
	}

	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("telegram bot server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	bot.Wait()

	logger.Info("server exiting")
}
