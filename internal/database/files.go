package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"talent/internal/model"
	"talent/internal/notify"
)

// FileDatabase defines import-file store operations
type FileDatabase interface {
	// Get a file record by ID
	GetFileByID(ctx context.Context, id primitive.ObjectID) (*model.ImportFile, error)

	// List all file records of a session
	ListFilesBySession(ctx context.Context, sessionID primitive.ObjectID) ([]*model.ImportFile, error)

	// List a session's file records currently in one of the given statuses
	ListFilesBySessionAndStatuses(ctx context.Context, sessionID primitive.ObjectID, statuses []model.FileStatus) ([]*model.ImportFile, error)

	// Take one state-machine edge; fails with ErrInvalidTransition when the
	// record is not in the expected source status
	TransitionFile(ctx context.Context, id primitive.ObjectID, from, to model.FileStatus) (*model.ImportFile, error)

	// Record a successful extraction: parsing -> parsed plus the data snapshot
	MarkFileParsed(ctx context.Context, id primitive.ObjectID, data *model.ParsedCV) (*model.ImportFile, error)

	// Record a successful import: importing -> imported
	MarkFileImported(ctx context.Context, id primitive.ObjectID) (*model.ImportFile, error)

	// Record a categorized failure; fails with ErrInvalidTransition when the
	// record has left the expected mid-flight status
	MarkFileErrored(ctx context.Context, id primitive.ObjectID, from model.FileStatus, category model.ErrorCategory, message string) (*model.ImportFile, error)

	// Reset error-status files back to pending for retry; returns the ids reset
	ResetFilesForRetry(ctx context.Context, sessionID primitive.ObjectID, ids []primitive.ObjectID) ([]primitive.ObjectID, error)
}

// GetFileByID retrieves a file record by its ID
func (m *mongoDB) GetFileByID(ctx context.Context, id primitive.ObjectID) (*model.ImportFile, error) {
	var file model.ImportFile
	err := m.filesCol.FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrFileNotFound
		}
		log.Error().Err(err).Str("fileID", id.Hex()).Msg("Failed to get import file")
		return nil, err
	}

	return &file, nil
}

// ListFilesBySession retrieves all file records of a session
func (m *mongoDB) ListFilesBySession(ctx context.Context, sessionID primitive.ObjectID) ([]*model.ImportFile, error) {
	return m.listFiles(ctx, bson.M{"session_id": sessionID})
}

// ListFilesBySessionAndStatuses retrieves a session's file records by status
func (m *mongoDB) ListFilesBySessionAndStatuses(ctx context.Context, sessionID primitive.ObjectID, statuses []model.FileStatus) ([]*model.ImportFile, error) {
	return m.listFiles(ctx, bson.M{
		"session_id": sessionID,
		"status":     bson.M{"$in": statuses},
	})
}

func (m *mongoDB) listFiles(ctx context.Context, filter bson.M) ([]*model.ImportFile, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})

	cursor, err := m.filesCol.Find(ctx, filter, opts)
	if err != nil {
		log.Error().Err(err).Interface("filter", filter).Msg("Failed to list import files")
		return nil, err
	}
	defer cursor.Close(ctx)

	var files []*model.ImportFile
	if err := cursor.All(ctx, &files); err != nil {
		log.Error().Err(err).Msg("Failed to decode import files")
		return nil, err
	}

	return files, nil
}

// TransitionFile takes one edge of the file state machine. The source status
// is part of the update filter, so a record that has moved on since the caller
// read it is left untouched and ErrInvalidTransition is returned. Per-file
// ordering needs no lock beyond this conditional write.
func (m *mongoDB) TransitionFile(ctx context.Context, id primitive.ObjectID, from, to model.FileStatus) (*model.ImportFile, error) {
	if !model.CanTransitionFile(from, to) {
		return nil, ErrInvalidTransition
	}

	file, err := m.updateFile(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("fileID", id.Hex()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("File status transition")

	return file, nil
}

// MarkFileParsed records the extraction snapshot with the parsing -> parsed edge
func (m *mongoDB) MarkFileParsed(ctx context.Context, id primitive.ObjectID, data *model.ParsedCV) (*model.ImportFile, error) {
	file, err := m.updateFile(ctx,
		bson.M{"_id": id, "status": model.FileParsing},
		bson.M{"$set": bson.M{
			"status":      model.FileParsed,
			"parsed_data": data,
		}},
	)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("fileID", id.Hex()).Str("name", data.Name).Msg("File parsed")
	return file, nil
}

// MarkFileImported records the terminal happy-path outcome
func (m *mongoDB) MarkFileImported(ctx context.Context, id primitive.ObjectID) (*model.ImportFile, error) {
	file, err := m.updateFile(ctx,
		bson.M{"_id": id, "status": model.FileImporting},
		bson.M{"$set": bson.M{
			"status":       model.FileImported,
			"processed_at": time.Now(),
		}},
	)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("fileID", id.Hex()).Msg("File imported")
	return file, nil
}

// MarkFileErrored records a categorized failure. Error is reachable only from
// a mid-flight status, and the expected source status is part of the filter,
// so a record another invocation has already advanced is never overwritten.
func (m *mongoDB) MarkFileErrored(ctx context.Context, id primitive.ObjectID, from model.FileStatus, category model.ErrorCategory, message string) (*model.ImportFile, error) {
	if !model.CanTransitionFile(from, model.FileError) {
		return nil, ErrInvalidTransition
	}

	file, err := m.updateFile(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{
			"status":         model.FileError,
			"error_category": category,
			"error_message":  message,
			"processed_at":   time.Now(),
		}},
	)
	if err != nil {
		return nil, err
	}

	log.Warn().
		Str("fileID", id.Hex()).
		Str("category", string(category)).
		Str("error", message).
		Msg("File errored")

	return file, nil
}

// ResetFilesForRetry takes the only recovery edge, error -> pending, for the
// given file ids. Files not currently in error are skipped, which makes the
// operation safe to repeat.
func (m *mongoDB) ResetFilesForRetry(ctx context.Context, sessionID primitive.ObjectID, ids []primitive.ObjectID) ([]primitive.ObjectID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"_id":        bson.M{"$in": ids},
		"session_id": sessionID,
		"status":     model.FileError,
	}

	// Collect the ids actually eligible before mutating, so callers learn the
	// exact reset set
	eligible, err := m.listFiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	resetIDs := make([]primitive.ObjectID, 0, len(eligible))
	for _, f := range eligible {
		resetIDs = append(resetIDs, f.ID)
	}

	update := bson.M{
		"$set": bson.M{"status": model.FilePending},
		"$unset": bson.M{
			"error_category": "",
			"error_message":  "",
			"processed_at":   "",
		},
		"$inc": bson.M{"retry_count": 1},
	}

	result, err := m.filesCol.UpdateMany(ctx, bson.M{
		"_id":    bson.M{"$in": resetIDs},
		"status": model.FileError,
	}, update)
	if err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to reset files for retry")
		return nil, err
	}

	log.Info().
		Str("sessionID", sessionID.Hex()).
		Int64("reset", result.ModifiedCount).
		Msg("Reset errored files to pending")

	for _, fileID := range resetIDs {
		if file, err := m.GetFileByID(ctx, fileID); err == nil {
			m.publishFileEvent(ctx, notify.EventUpdate, file)
		}
	}

	return resetIDs, nil
}

// updateFile applies an update and returns the post-update document,
// publishing a change notification on success
func (m *mongoDB) updateFile(ctx context.Context, filter, update bson.M) (*model.ImportFile, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var file model.ImportFile
	err := m.filesCol.FindOneAndUpdate(ctx, filter, update, opts).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the record does not exist or it is not in the expected
			// source status; disambiguate for the caller
			if _, getErr := m.GetFileByID(ctx, filter["_id"].(primitive.ObjectID)); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	m.publishFileEvent(ctx, notify.EventUpdate, &file)
	return &file, nil
}

func (m *mongoDB) publishFileEvent(ctx context.Context, eventType notify.EventType, file *model.ImportFile) {
	doc, err := json.Marshal(file)
	if err != nil {
		log.Warn().Err(err).Str("fileID", file.ID.Hex()).Msg("Failed to encode file change event")
		return
	}

	_ = m.notifier.Publish(ctx, notify.Event{
		Table:     notify.TableFiles,
		Type:      eventType,
		SessionID: file.SessionID.Hex(),
		New:       doc,
	})
}
