package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileStatus represents the current state of one document within a session
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileParsing   FileStatus = "parsing"
	FileParsed    FileStatus = "parsed"
	FileImporting FileStatus = "importing"
	FileImported  FileStatus = "imported"
	FileError     FileStatus = "error"
)

// fileEdges is the allowed file transition set. The worker owns every edge
// except error->pending, which only retry/resume may take.
var fileEdges = map[FileStatus][]FileStatus{
	FilePending:   {FileParsing},
	FileParsing:   {FileParsed, FileError},
	FileParsed:    {FileImporting, FileError},
	FileImporting: {FileImported, FileError},
	FileImported:  {},
	FileError:     {FilePending},
}

// CanTransitionFile reports whether a file record may move from one status to another
func CanTransitionFile(from, to FileStatus) bool {
	for _, next := range fileEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalFileStatus reports whether a file has reached a terminal outcome
func IsTerminalFileStatus(status FileStatus) bool {
	return status == FileImported || status == FileError
}

// ResumableFileStatuses are the statuses ResumePending reprocesses: anything
// not yet terminal, including work suspected abandoned mid-flight.
var ResumableFileStatuses = []FileStatus{FilePending, FileParsing, FileParsed, FileImporting}

// ParsedCV is the snapshot of the extraction result kept on the file record
// for progress display after the candidate record is created
type ParsedCV struct {
	Name     string  `bson:"name" json:"name"`
	JobTitle string  `bson:"job_title" json:"job_title"`
	Sector   string  `bson:"sector" json:"sector"`
	CVScore  float64 `bson:"cv_score" json:"cv_score"`
}

// ImportFile tracks one document's progress within an import session
type ImportFile struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID     primitive.ObjectID `bson:"session_id" json:"session_id"`
	FileName      string             `bson:"file_name" json:"file_name"`
	FilePath      string             `bson:"file_path" json:"file_path"`
	Status        FileStatus         `bson:"status" json:"status"`
	ErrorMessage  string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ErrorCategory ErrorCategory      `bson:"error_category,omitempty" json:"error_category,omitempty"`
	RetryCount    int                `bson:"retry_count" json:"retry_count"`
	ParsedData    *ParsedCV          `bson:"parsed_data,omitempty" json:"parsed_data,omitempty"`
	ProcessedAt   *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// TransitionTo moves the record to the requested status, rejecting edges
// outside the state machine
func (f *ImportFile) TransitionTo(to FileStatus) error {
	if !CanTransitionFile(f.Status, to) {
		return fmt.Errorf("illegal file transition %s -> %s", f.Status, to)
	}
	f.Status = to
	return nil
}

// IsRetryable reports whether the file failed with a category expected to
// succeed on resubmission
func (f *ImportFile) IsRetryable() bool {
	return f.Status == FileError && f.ErrorCategory.Retryable()
}
