package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/notify"
	"talent/internal/rabbitmq"
	"talent/internal/worker"
	"talent/pkg/cvparse"
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

	notifier, err := notify.NewRedisChannel(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect notification channel")
	}
	defer notifier.Close()

	db, err := database.New(cfg, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	rabbitClient, err := rabbitmq.NewClientFromConfig(cfg.RabbitMQ)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RabbitMQ client")
	}
	defer rabbitClient.Close()

	docs, err := docstore.NewS3Store(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize document store")
	}

	parserClient := cvparse.New(cfg.Parser.APIKey, cfg.Parser.BaseURL, cfg.Parser.RequestsPerMinute, cfg.Parser.TimeoutSeconds)
	defer parserClient.Close()

	extractWorker := worker.NewExtractWorker(db, docs, worker.NewAPIExtractor(parserClient), cfg.Import)
	consumer := worker.NewConsumer(rabbitClient, cfg.RabbitMQ, extractWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start extraction worker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down extraction worker")

	// Give the in-flight session a moment to reach a clean file boundary
	cancel()
	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Shutdown timed out, exiting anyway")
	}

	log.Info().Msg("Extraction worker stopped")
}
