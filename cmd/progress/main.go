package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/model"
	"talent/internal/notify"
	"talent/internal/progress"
)

// Console watcher for one import session. Useful when chasing a stuck batch
// without going through the API.
func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Println("Usage: progress <session_id> [config_path]")
		os.Exit(1)
	}

	sessionID, err := primitive.ObjectIDFromHex(os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid session id")
	}

	configPath := "config/config.json"
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}

	subscriber, err := notify.NewRedisChannel(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect notification channel")
	}
	defer subscriber.Close()

	threshold := time.Duration(cfg.Import.StaleThresholdMs) * time.Millisecond
	tracker := progress.NewTracker(db, sessionID, threshold)
	source := progress.NewFallbackSource(
		progress.NewPushSource(subscriber, sessionID),
		progress.NewPullSource(5*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	go func() {
		if err := source.Run(ctx, tracker); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Progress source failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tracker.Changes():
			snap := tracker.Snapshot()
			printSnapshot(snap)

			if snap.Session != nil && !snap.HasPendingWork &&
				(snap.Session.Status == model.SessionCompleted || snap.Session.Status == model.SessionFailed) {
				return
			}
		}
	}
}

func printSnapshot(snap progress.Snapshot) {
	if snap.Session == nil {
		return
	}

	fmt.Printf("[%s] %3d%%  parsed=%d imported=%d failed=%d of %d",
		snap.Session.Status,
		snap.Percent,
		snap.Session.ParsedCount,
		snap.Session.ImportedCount,
		snap.Session.FailedCount,
		snap.Session.TotalFiles,
	)

	if snap.IsStale {
		fmt.Printf("  STALE")
	}
	for category, count := range snap.ErrorBreakdown {
		fmt.Printf("  %s=%d", category, count)
	}
	fmt.Println()
}
