package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"talent/internal/model"
)

// CandidateDatabase defines candidate-record store operations
type CandidateDatabase interface {
	// Insert the candidate created by a successful import. The insert is
	// conditional on the file record id: re-invoking the import step for a
	// file that already produced a candidate returns (false, nil).
	InsertCandidateForFile(ctx context.Context, candidate *model.Candidate) (bool, error)

	// Get the candidate produced by a file record, if any
	GetCandidateByFileID(ctx context.Context, fileID primitive.ObjectID) (*model.Candidate, error)

	// Count candidates produced by a session
	CountCandidatesBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error)
}

// InsertCandidateForFile performs the at-most-once import write. The unique
// index on file_record_id turns a duplicate invoke into a no-op.
func (m *mongoDB) InsertCandidateForFile(ctx context.Context, candidate *model.Candidate) (bool, error) {
	if candidate.ID.IsZero() {
		candidate.ID = primitive.NewObjectID()
	}
	candidate.CreatedAt = time.Now()

	_, err := m.candidatesCol.InsertOne(ctx, candidate)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug().
				Str("fileID", candidate.FileRecordID.Hex()).
				Msg("Candidate already imported for file record, skipping")
			return false, nil
		}
		log.Error().Err(err).Str("fileID", candidate.FileRecordID.Hex()).Msg("Failed to insert candidate")
		return false, err
	}

	log.Info().
		Str("candidateID", candidate.ID.Hex()).
		Str("fileID", candidate.FileRecordID.Hex()).
		Str("name", candidate.Name).
		Msg("Candidate imported")

	return true, nil
}

// GetCandidateByFileID retrieves the candidate produced by a file record
func (m *mongoDB) GetCandidateByFileID(ctx context.Context, fileID primitive.ObjectID) (*model.Candidate, error) {
	var candidate model.Candidate
	err := m.candidatesCol.FindOne(ctx, bson.M{"file_record_id": fileID}).Decode(&candidate)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &candidate, nil
}

// CountCandidatesBySession counts candidates produced by a session
func (m *mongoDB) CountCandidatesBySession(ctx context.Context, sessionID primitive.ObjectID) (int64, error) {
	count, err := m.candidatesCol.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to count candidates")
		return 0, err
	}

	return count, nil
}
