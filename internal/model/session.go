package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus represents the current state of an import session
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// sessionEdges is the allowed session transition set. Completed and failed
// sessions may re-enter processing through resume/retry.
var sessionEdges = map[SessionStatus][]SessionStatus{
	SessionPending:    {SessionProcessing, SessionFailed},
	SessionProcessing: {SessionCompleted, SessionFailed},
	SessionCompleted:  {SessionProcessing},
	SessionFailed:     {SessionProcessing},
}

// CanTransitionSession reports whether a session may move from one status to another
func CanTransitionSession(from, to SessionStatus) bool {
	for _, next := range sessionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ImportSession represents one batch import of CV documents
type ImportSession struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID         string             `bson:"user_id" json:"user_id"`
	UserEmail      string             `bson:"user_email" json:"user_email"`
	Status         SessionStatus      `bson:"status" json:"status"`
	TotalFiles     int                `bson:"total_files" json:"total_files"`
	ParsedCount    int                `bson:"parsed_count" json:"parsed_count"`
	ImportedCount  int                `bson:"imported_count" json:"imported_count"`
	FailedCount    int                `bson:"failed_count" json:"failed_count"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	StartedAt      *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	LastHeartbeat  *time.Time         `bson:"last_heartbeat,omitempty" json:"last_heartbeat,omitempty"`
	ErrorMessage   string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ErrorBreakdown map[string]int     `bson:"error_breakdown,omitempty" json:"error_breakdown,omitempty"`
	AvgParseTimeMs float64            `bson:"avg_parse_time_ms,omitempty" json:"avg_parse_time_ms,omitempty"`
	BatchSize      int                `bson:"batch_size,omitempty" json:"batch_size,omitempty"`
}

// IsStale reports whether a processing session's heartbeat is older than the
// threshold. Sessions in any other status are never stale.
func (s *ImportSession) IsStale(now time.Time, threshold time.Duration) bool {
	if s.Status != SessionProcessing {
		return false
	}
	if s.LastHeartbeat == nil {
		// Processing but never heartbeated counts from start time
		if s.StartedAt == nil {
			return false
		}
		return now.Sub(*s.StartedAt) > threshold
	}
	return now.Sub(*s.LastHeartbeat) > threshold
}

// ProgressPercent returns the rounded terminal-outcome percentage for the session
func (s *ImportSession) ProgressPercent() int {
	if s.TotalFiles == 0 {
		return 0
	}
	return int(float64(s.ImportedCount+s.FailedCount)/float64(s.TotalFiles)*100 + 0.5)
}
