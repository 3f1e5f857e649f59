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

// SessionDatabase defines import-session store operations
type SessionDatabase interface {
	// Create one session together with all of its file records; all or nothing
	CreateSessionWithFiles(ctx context.Context, session *model.ImportSession, files []*model.ImportFile) error

	// Get a session by ID
	GetSessionByID(ctx context.Context, id primitive.ObjectID) (*model.ImportSession, error)

	// List sessions owned by a user, newest first
	ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.ImportSession, error)

	// Move a session (back) into processing, clearing any terminal bookkeeping
	MarkSessionProcessing(ctx context.Context, id primitive.ObjectID) error

	// Record a terminal session outcome
	CompleteSession(ctx context.Context, id primitive.ObjectID, status model.SessionStatus, errorMsg string) error

	// Record a session-level fatal error; file records keep their last status
	SetSessionError(ctx context.Context, id primitive.ObjectID, errorMsg string) error

	// Advance the worker heartbeat
	TouchSessionHeartbeat(ctx context.Context, id primitive.ObjectID) error

	// Adjust the aggregate counters
	IncrementSessionCounts(ctx context.Context, id primitive.ObjectID, parsed, imported, failed int) error

	// Replace the per-category error rollup
	SetSessionErrorBreakdown(ctx context.Context, id primitive.ObjectID, breakdown map[string]int) error

	// Record the rolling average extraction duration
	SetSessionAvgParseTime(ctx context.Context, id primitive.ObjectID, avgMs float64) error
}

// CreateSessionWithFiles inserts the session and its file records in a single
// transaction so a partial batch is never observable.
func (m *mongoDB) CreateSessionWithFiles(ctx context.Context, session *model.ImportSession, files []*model.ImportFile) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}

	now := time.Now()
	session.CreatedAt = now
	session.Status = model.SessionPending
	session.TotalFiles = len(files)
	if session.ErrorBreakdown == nil {
		session.ErrorBreakdown = map[string]int{}
	}

	fileDocs := make([]interface{}, 0, len(files))
	for _, f := range files {
		if f.ID.IsZero() {
			f.ID = primitive.NewObjectID()
		}
		f.SessionID = session.ID
		f.Status = model.FilePending
		f.CreatedAt = now
		fileDocs = append(fileDocs, f)
	}

	mongoSess, err := m.client.StartSession()
	if err != nil {
		log.Error().Err(err).Msg("Failed to start mongo session for batch creation")
		return err
	}
	defer mongoSess.EndSession(ctx)

	_, err = mongoSess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.sessionsCol.InsertOne(sc, session); err != nil {
			return nil, err
		}
		if _, err := m.filesCol.InsertMany(sc, fileDocs); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		log.Error().Err(err).Str("sessionID", session.ID.Hex()).Int("files", len(files)).Msg("Failed to create import session batch")
		return err
	}

	log.Info().
		Str("sessionID", session.ID.Hex()).
		Str("userID", session.UserID).
		Int("totalFiles", session.TotalFiles).
		Msg("Created import session")

	m.publishSessionEvent(ctx, notify.EventInsert, session)
	for _, f := range files {
		m.publishFileEvent(ctx, notify.EventInsert, f)
	}

	return nil
}

// GetSessionByID retrieves a session by its ID
func (m *mongoDB) GetSessionByID(ctx context.Context, id primitive.ObjectID) (*model.ImportSession, error) {
	var session model.ImportSession
	err := m.sessionsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		log.Error().Err(err).Str("sessionID", id.Hex()).Msg("Failed to get import session")
		return nil, err
	}

	return &session, nil
}

// ListSessionsByUser retrieves sessions owned by a user
func (m *mongoDB) ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.ImportSession, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := m.sessionsCol.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Failed to list import sessions")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.ImportSession
	if err := cursor.All(ctx, &sessions); err != nil {
		log.Error().Err(err).Msg("Failed to decode import sessions")
		return nil, err
	}

	return sessions, nil
}

// MarkSessionProcessing re-enters processing from any prior status. Resume is
// allowed on completed, failed, and stale-processing sessions alike.
func (m *mongoDB) MarkSessionProcessing(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":         model.SessionProcessing,
			"last_heartbeat": now,
		},
		"$unset": bson.M{
			"completed_at":  "",
			"error_message": "",
		},
	}

	session, err := m.updateSession(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}

	// First entry into processing stamps started_at
	if session.StartedAt == nil {
		session, err = m.updateSession(ctx, bson.M{"_id": id, "started_at": bson.M{"$exists": false}}, bson.M{
			"$set": bson.M{"started_at": now},
		})
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	log.Debug().Str("sessionID", id.Hex()).Msg("Session marked processing")
	return nil
}

// CompleteSession records the worker's terminal outcome for the session
func (m *mongoDB) CompleteSession(ctx context.Context, id primitive.ObjectID, status model.SessionStatus, errorMsg string) error {
	if status != model.SessionCompleted && status != model.SessionFailed {
		return ErrInvalidTransition
	}

	set := bson.M{
		"status":       status,
		"completed_at": time.Now(),
	}
	if errorMsg != "" {
		set["error_message"] = errorMsg
	}

	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}

	log.Info().Str("sessionID", id.Hex()).Str("status", string(status)).Msg("Session completed")
	return nil
}

// SetSessionError records a session-level fatal error. Existing file records
// keep their last known status so Resume can pick up where processing stopped.
func (m *mongoDB) SetSessionError(ctx context.Context, id primitive.ObjectID, errorMsg string) error {
	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":        model.SessionFailed,
			"error_message": errorMsg,
		},
	})
	if err != nil {
		return err
	}

	log.Error().Str("sessionID", id.Hex()).Str("error", errorMsg).Msg("Session failed")
	return nil
}

// TouchSessionHeartbeat advances last_heartbeat while the worker is active
func (m *mongoDB) TouchSessionHeartbeat(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"last_heartbeat": time.Now()},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionID", id.Hex()).Msg("Failed to touch session heartbeat")
		return err
	}

	log.Debug().Str("sessionID", id.Hex()).Msg("Touched session heartbeat")
	return nil
}

// IncrementSessionCounts adjusts the aggregate counters atomically
func (m *mongoDB) IncrementSessionCounts(ctx context.Context, id primitive.ObjectID, parsed, imported, failed int) error {
	if parsed == 0 && imported == 0 && failed == 0 {
		return nil
	}

	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{
			"parsed_count":   parsed,
			"imported_count": imported,
			"failed_count":   failed,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionID", id.Hex()).Msg("Failed to increment session counts")
		return err
	}

	return nil
}

// SetSessionErrorBreakdown replaces the per-category error rollup
func (m *mongoDB) SetSessionErrorBreakdown(ctx context.Context, id primitive.ObjectID, breakdown map[string]int) error {
	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"error_breakdown": breakdown},
	})
	return err
}

// SetSessionAvgParseTime records the rolling average extraction duration
func (m *mongoDB) SetSessionAvgParseTime(ctx context.Context, id primitive.ObjectID, avgMs float64) error {
	_, err := m.updateSession(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"avg_parse_time_ms": avgMs},
	})
	return err
}

// updateSession applies an update and returns the post-update document,
// publishing a change notification on success
func (m *mongoDB) updateSession(ctx context.Context, filter, update bson.M) (*model.ImportSession, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session model.ImportSession
	err := m.sessionsCol.FindOneAndUpdate(ctx, filter, update, opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	m.publishSessionEvent(ctx, notify.EventUpdate, &session)
	return &session, nil
}

func (m *mongoDB) publishSessionEvent(ctx context.Context, eventType notify.EventType, session *model.ImportSession) {
	doc, err := json.Marshal(session)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", session.ID.Hex()).Msg("Failed to encode session change event")
		return
	}

	// Best effort: a dropped notification degrades to polling, never fails the write
	_ = m.notifier.Publish(ctx, notify.Event{
		Table:     notify.TableSessions,
		Type:      eventType,
		SessionID: session.ID.Hex(),
		New:       doc,
	})
}
