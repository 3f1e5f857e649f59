package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Candidate is the record created as the side effect of a successful import.
// FileRecordID is the idempotency key: at most one candidate may ever exist
// per file record, however many times the session is resumed or retried.
type Candidate struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FileRecordID primitive.ObjectID `bson:"file_record_id" json:"file_record_id"`
	SessionID    primitive.ObjectID `bson:"session_id" json:"session_id"`
	Name         string             `bson:"name" json:"name"`
	JobTitle     string             `bson:"job_title" json:"job_title"`
	Sector       string             `bson:"sector" json:"sector"`
	CVScore      float64            `bson:"cv_score" json:"cv_score"`
	CVPath       string             `bson:"cv_path" json:"cv_path"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
