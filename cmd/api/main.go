package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"talent/internal/cache"
	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/notify"
	"talent/internal/orchestrator"
	"talent/internal/rabbitmq"
	"talent/internal/server"
)

func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	configPath := "config/config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Change notifications ride on redis pub/sub
	notifier, err := notify.NewRedisChannel(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect notification channel")
	}
	defer notifier.Close()

	db, err := database.New(cfg, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisCache.Close()

	rabbitClient, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer rabbitClient.Close()

	docs, err := docstore.NewS3Store(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize document store")
	}

	invoker, err := orchestrator.NewRabbitInvoker(rabbitClient, cfg.RabbitMQ, time.Duration(cfg.Import.InvokeTimeoutMs)*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up worker invoker")
	}

	orch := orchestrator.New(db, docs, invoker, cfg.Import)

	srv := server.New(*cfg, db, redisCache, rabbitClient, notifier, docs, orch)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}

	log.Info().Msg("API server stopped")
}
