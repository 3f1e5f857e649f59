package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/model"
)

// ErrEmptyBatch is returned when StartImport is called without documents
var ErrEmptyBatch = errors.New("import batch contains no documents")

// Store is the slice of the database the orchestrator needs
type Store interface {
	database.SessionDatabase
	database.FileDatabase
}

// DocumentUpload is one CV handed to StartImport
type DocumentUpload struct {
	FileName string
	Content  io.Reader
}

// Owner identifies who initiated the batch
type Owner struct {
	UserID string
	Email  string
}

// Orchestrator creates sessions and file records, hands work to the
// extraction worker, and owns the resume/retry recovery operations. It never
// takes a worker-owned state-machine edge itself.
type Orchestrator struct {
	db      Store
	docs    docstore.DocumentStore
	invoker Invoker
	cfg     config.ImportConfig
}

func New(db Store, docs docstore.DocumentStore, invoker Invoker, cfg config.ImportConfig) *Orchestrator {
	return &Orchestrator{
		db:      db,
		docs:    docs,
		invoker: invoker,
		cfg:     cfg,
	}
}

// StartImport uploads the batch, creates the session with one file record per
// document in a single transaction, then invokes the worker asynchronously.
// The caller gets the session id back immediately and is never blocked on
// extraction.
func (o *Orchestrator) StartImport(ctx context.Context, docs []DocumentUpload, owner Owner) (primitive.ObjectID, error) {
	if len(docs) == 0 {
		return primitive.NilObjectID, ErrEmptyBatch
	}

	session := &model.ImportSession{
		ID:        primitive.NewObjectID(),
		UserID:    owner.UserID,
		UserEmail: owner.Email,
		BatchSize: o.cfg.DefaultBatchSize,
	}

	files := make([]*model.ImportFile, 0, len(docs))
	uploaded := make([]string, 0, len(docs))
	for _, doc := range docs {
		filePath, err := o.docs.Upload(ctx, session.ID.Hex(), doc.FileName, doc.Content)
		if err != nil {
			o.cleanupUploads(ctx, uploaded)
			return primitive.NilObjectID, err
		}
		uploaded = append(uploaded, filePath)
		files = append(files, &model.ImportFile{
			FileName: doc.FileName,
			FilePath: filePath,
		})
	}

	if err := o.db.CreateSessionWithFiles(ctx, session, files); err != nil {
		o.cleanupUploads(ctx, uploaded)
		return primitive.NilObjectID, err
	}

	log.Info().
		Str("sessionID", session.ID.Hex()).
		Str("userID", owner.UserID).
		Int("totalFiles", len(files)).
		Msg("Import session started")

	o.invokeWorker(session.ID, nil)

	return session.ID, nil
}

// ResumePending re-invokes the worker for every file record not yet terminal
// and moves the session back into processing. Calling it on a session with no
// eligible files is a no-op, so whoever re-opens an abandoned session may call
// it without knowing the exact state. Returns the number of files handed back
// to the worker.
func (o *Orchestrator) ResumePending(ctx context.Context, sessionID primitive.ObjectID) (int, error) {
	files, err := o.db.ListFilesBySessionAndStatuses(ctx, sessionID, model.ResumableFileStatuses)
	if err != nil {
		return 0, err
	}

	if len(files) == 0 {
		log.Debug().Str("sessionID", sessionID.Hex()).Msg("Resume requested with no eligible files, nothing to do")
		return 0, nil
	}

	if err := o.db.MarkSessionProcessing(ctx, sessionID); err != nil {
		return 0, err
	}

	fileIDs := make([]string, 0, len(files))
	for _, f := range files {
		fileIDs = append(fileIDs, f.ID.Hex())
	}

	log.Info().
		Str("sessionID", sessionID.Hex()).
		Int("files", len(fileIDs)).
		Msg("Resuming pending work")

	o.invokeWorker(sessionID, fileIDs)

	return len(files), nil
}

// RetryFailed resets errored files back to pending and resumes them. With no
// explicit ids the target is every errored file whose category is retryable;
// explicit ids override retryability as the manual escape hatch. A session
// with nothing to retry is left untouched.
func (o *Orchestrator) RetryFailed(ctx context.Context, sessionID primitive.ObjectID, fileIDs []primitive.ObjectID) (int, error) {
	targets := fileIDs
	if len(targets) == 0 {
		errored, err := o.db.ListFilesBySessionAndStatuses(ctx, sessionID, []model.FileStatus{model.FileError})
		if err != nil {
			return 0, err
		}
		for _, f := range errored {
			if f.ErrorCategory.Retryable() {
				targets = append(targets, f.ID)
			}
		}
	}

	if len(targets) == 0 {
		log.Debug().Str("sessionID", sessionID.Hex()).Msg("Retry requested with no retryable files, nothing to do")
		return 0, nil
	}

	resetIDs, err := o.db.ResetFilesForRetry(ctx, sessionID, targets)
	if err != nil {
		return 0, err
	}
	if len(resetIDs) == 0 {
		log.Debug().Str("sessionID", sessionID.Hex()).Msg("No files were eligible for retry, session unchanged")
		return 0, nil
	}

	// A retried failure is no longer a terminal outcome; the counters and the
	// breakdown must say so before the worker re-reports these files
	if err := o.db.IncrementSessionCounts(ctx, sessionID, 0, 0, -len(resetIDs)); err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to unwind failed count for retried files")
	}
	o.refreshErrorBreakdown(ctx, sessionID)

	if err := o.db.MarkSessionProcessing(ctx, sessionID); err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(resetIDs))
	for _, id := range resetIDs {
		ids = append(ids, id.Hex())
	}

	log.Info().
		Str("sessionID", sessionID.Hex()).
		Int("files", len(ids)).
		Msg("Retrying failed files")

	o.invokeWorker(sessionID, ids)

	return len(resetIDs), nil
}

// cleanupUploads backs out blobs of a batch that never became a session, so
// nothing in the document store is left without a file record pointing at it
func (o *Orchestrator) cleanupUploads(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := o.docs.Delete(ctx, p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Failed to clean up uploaded document")
		}
	}
}

// refreshErrorBreakdown recomputes the per-category rollup from the files
// still in error
func (o *Orchestrator) refreshErrorBreakdown(ctx context.Context, sessionID primitive.ObjectID) {
	errored, err := o.db.ListFilesBySessionAndStatuses(ctx, sessionID, []model.FileStatus{model.FileError})
	if err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to list errored files for breakdown refresh")
		return
	}

	breakdown := map[string]int{}
	for _, f := range errored {
		breakdown[string(f.ErrorCategory)]++
	}

	if err := o.db.SetSessionErrorBreakdown(ctx, sessionID, breakdown); err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to refresh error breakdown")
	}
}

// invokeWorker hands the session to the worker without blocking the caller.
// A hand-off failure is a session-level fatal error; file records keep their
// status so a later Resume picks up from where processing stopped.
func (o *Orchestrator) invokeWorker(sessionID primitive.ObjectID, fileIDs []string) {
	handle := o.invoker.Invoke(context.Background(), InvokeRequest{
		SessionID: sessionID.Hex(),
		FileIDs:   fileIDs,
	})

	go func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.InvokeTimeoutMs)*time.Millisecond+time.Second)
		defer cancel()

		if err := handle.Wait(waitCtx); err != nil {
			log.Error().
				Err(err).
				Str("sessionID", sessionID.Hex()).
				Msg("Worker hand-off failed, marking session failed")

			if dbErr := o.db.SetSessionError(context.Background(), sessionID, err.Error()); dbErr != nil {
				log.Error().Err(dbErr).Str("sessionID", sessionID.Hex()).Msg("Failed to record session error")
			}
		}
	}()
}
