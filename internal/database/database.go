package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"talent/internal/config"
	"talent/internal/notify"
)

var (
	ErrSessionNotFound = errors.New("import session not found")
	ErrFileNotFound    = errors.New("import file not found")

	// ErrInvalidTransition is returned when a status update would take an edge
	// outside the state machine, or when the record is no longer in the
	// expected source status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Database interface {
	Health() error
	SessionDatabase
	FileDatabase
	CandidateDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	sessionsCol   *mongo.Collection
	filesCol      *mongo.Collection
	candidatesCol *mongo.Collection

	notifier notify.Notifier
}

func New(config *config.Config, notifier notify.Notifier) (Database, error) {
	clientOptions := options.Client().ApplyURI(config.MongoDB.URI)
	if config.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: config.MongoDB.Username,
			Password: config.MongoDB.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(config.MongoDB.DB)

	sessionsCol := db.Collection("import_sessions")
	sessionIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries (stale-session sweeps)
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for owner listings
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	filesCol := db.Collection("import_files")
	fileIndexModels := []mongo.IndexModel{
		{
			// Compound index for the worker's eligible-file scans
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index(),
		},
	}

	candidatesCol := db.Collection("candidates")
	candidateIndexModels := []mongo.IndexModel{
		{
			// At most one candidate per file record, however often the import
			// step is re-invoked
			Keys:    bson.D{{Key: "file_record_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err = sessionsCol.Indexes().CreateMany(context.Background(), sessionIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "import_sessions").Msg("Error creating indexes")
	}

	_, err = filesCol.Indexes().CreateMany(context.Background(), fileIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "import_files").Msg("Error creating indexes")
	}

	_, err = candidatesCol.Indexes().CreateMany(context.Background(), candidateIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "candidates").Msg("Error creating indexes")
	}

	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	return &mongoDB{
		client:        client,
		db:            db,
		sessionsCol:   sessionsCol,
		filesCol:      filesCol,
		candidatesCol: candidatesCol,
		notifier:      notifier,
	}, nil
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)

	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}
