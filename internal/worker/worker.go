package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/docstore"
	"talent/internal/model"
)

// Store is the slice of the database the worker mutates. The worker owns
// every state-machine edge except error -> pending.
type Store interface {
	database.SessionDatabase
	database.FileDatabase
	database.CandidateDatabase
}

// ExtractWorker drives a session's file records through the import pipeline:
// extract, snapshot, then the conditional candidate insert
type ExtractWorker struct {
	db        Store
	docs      docstore.DocumentStore
	extractor Extractor
	cfg       config.ImportConfig
}

func NewExtractWorker(db Store, docs docstore.DocumentStore, extractor Extractor, cfg config.ImportConfig) *ExtractWorker {
	return &ExtractWorker{
		db:        db,
		docs:      docs,
		extractor: extractor,
		cfg:       cfg,
	}
}

// runTally aggregates one invocation's outcomes
type runTally struct {
	mu             sync.Mutex
	imported       int
	failed         int
	parseDurations []time.Duration
}

func (t *runTally) addParse(d time.Duration) {
	t.mu.Lock()
	t.parseDurations = append(t.parseDurations, d)
	t.mu.Unlock()
}

func (t *runTally) addImported() {
	t.mu.Lock()
	t.imported++
	t.mu.Unlock()
}

func (t *runTally) addFailed() {
	t.mu.Lock()
	t.failed++
	t.mu.Unlock()
}

// ProcessSession handles one invocation of the worker contract. Files already
// terminal are skipped, so overlapping invocations never duplicate work; the
// candidate insert itself is conditional on the file record either way.
func (w *ExtractWorker) ProcessSession(ctx context.Context, sessionID primitive.ObjectID, fileIDs []primitive.ObjectID) error {
	session, err := w.db.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := w.db.MarkSessionProcessing(ctx, sessionID); err != nil {
		return w.fatal(ctx, sessionID, fmt.Errorf("failed to mark session processing: %w", err))
	}

	files, err := w.eligibleFiles(ctx, sessionID, fileIDs)
	if err != nil {
		return w.fatal(ctx, sessionID, fmt.Errorf("failed to load eligible files: %w", err))
	}

	logger := log.With().Str("sessionID", sessionID.Hex()).Logger()
	logger.Info().Int("files", len(files)).Msg("Processing import session")

	// Heartbeat while the session is being worked
	heartbeatDone := make(chan struct{})
	go w.heartbeat(sessionID, heartbeatDone)
	defer close(heartbeatDone)

	batchSize := session.BatchSize
	if batchSize <= 0 {
		batchSize = w.cfg.DefaultBatchSize
	}

	tally := &runTally{}

	// Bounded parallelism: one goroutine per file within a batch, batches in
	// sequence. File outcomes are independent; a failure never aborts siblings.
	for _, batch := range SplitIntoBatches(files, batchSize) {
		var wg sync.WaitGroup
		wg.Add(len(batch))
		for _, file := range batch {
			go func(file *model.ImportFile) {
				defer wg.Done()
				w.processFile(ctx, file, tally)
			}(file)
		}
		wg.Wait()
	}

	if err := w.finishSession(ctx, sessionID, session, tally); err != nil {
		return w.fatal(ctx, sessionID, err)
	}

	logger.Info().
		Int("imported", tally.imported).
		Int("failed", tally.failed).
		Msg("Import invocation finished")

	return nil
}

// eligibleFiles loads the records this invocation should touch: the scoped
// ids when given, otherwise every non-terminal record of the session
func (w *ExtractWorker) eligibleFiles(ctx context.Context, sessionID primitive.ObjectID, fileIDs []primitive.ObjectID) ([]*model.ImportFile, error) {
	if len(fileIDs) == 0 {
		return w.db.ListFilesBySessionAndStatuses(ctx, sessionID, model.ResumableFileStatuses)
	}

	files := make([]*model.ImportFile, 0, len(fileIDs))
	for _, id := range fileIDs {
		file, err := w.db.GetFileByID(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrFileNotFound) {
				log.Warn().Str("fileID", id.Hex()).Msg("Invoked with unknown file id, skipping")
				continue
			}
			return nil, err
		}
		if file.SessionID != sessionID || model.IsTerminalFileStatus(file.Status) {
			continue
		}
		files = append(files, file)
	}

	return files, nil
}

// processFile walks one record through the state machine from wherever it
// currently stands. A record abandoned mid-flight by a dead worker resumes
// from its last status instead of restarting.
func (w *ExtractWorker) processFile(ctx context.Context, file *model.ImportFile, tally *runTally) {
	logger := log.With().
		Str("fileID", file.ID.Hex()).
		Str("fileName", file.FileName).
		Str("status", string(file.Status)).
		Logger()

	current := file

	if current.Status == model.FilePending {
		next, err := w.db.TransitionFile(ctx, current.ID, model.FilePending, model.FileParsing)
		if err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				// Another invocation claimed this record first
				logger.Debug().Msg("File already claimed, skipping")
				return
			}
			w.recordFailure(ctx, current, err, tally)
			return
		}
		current = next
	}

	if current.Status == model.FileParsing {
		parsed, parseTime, err := w.extract(ctx, current)
		if err != nil {
			w.recordFailure(ctx, current, err, tally)
			return
		}

		next, err := w.db.MarkFileParsed(ctx, current.ID, parsed)
		if err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				// An overlapping invocation finished the parse first; its
				// result stands
				logger.Debug().Msg("File already parsed by another invocation, skipping")
				return
			}
			w.recordFailure(ctx, current, err, tally)
			return
		}
		current = next

		tally.addParse(parseTime)
		// parsed_count means "ever parsed": it is incremented here and never
		// decremented, even if the import step fails later
		if err := w.db.IncrementSessionCounts(ctx, current.SessionID, 1, 0, 0); err != nil {
			logger.Error().Err(err).Msg("Failed to bump parsed count")
		}
	}

	if current.Status == model.FileParsed {
		next, err := w.db.TransitionFile(ctx, current.ID, model.FileParsed, model.FileImporting)
		if err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				logger.Debug().Msg("File already claimed for import, skipping")
				return
			}
			w.recordFailure(ctx, current, err, tally)
			return
		}
		current = next
	}

	if current.Status != model.FileImporting {
		return
	}

	if err := w.importCandidate(ctx, current); err != nil {
		w.recordFailure(ctx, current, err, tally)
		return
	}

	if _, err := w.db.MarkFileImported(ctx, current.ID); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			logger.Debug().Msg("File already imported by another invocation")
			return
		}
		w.recordFailure(ctx, current, err, tally)
		return
	}

	tally.addImported()
	if err := w.db.IncrementSessionCounts(ctx, current.SessionID, 0, 1, 0); err != nil {
		logger.Error().Err(err).Msg("Failed to bump imported count")
	}

	logger.Info().Msg("File imported")
}

// extract pulls the blob from the document store and runs the extraction
func (w *ExtractWorker) extract(ctx context.Context, file *model.ImportFile) (*model.ParsedCV, time.Duration, error) {
	blob, err := w.docs.Download(ctx, file.FilePath)
	if err != nil {
		// Transient store failures keep their own category; only an
		// uncategorized download failure is pinned on the file
		if category := model.CategorizeError(err); category != model.CategoryUnknown {
			return nil, 0, model.NewCategoryError(category, err)
		}
		return nil, 0, model.NewCategoryError(model.CategoryFileError, err)
	}
	defer blob.Close()

	start := time.Now()
	parsed, err := w.extractor.Extract(ctx, file.FileName, blob)
	if err != nil {
		return nil, 0, err
	}

	return parsed, time.Since(start), nil
}

// importCandidate performs the at-most-once import side effect. The insert is
// keyed on the file record id, so re-invoking for a file whose candidate
// already exists is a no-op.
func (w *ExtractWorker) importCandidate(ctx context.Context, file *model.ImportFile) error {
	if file.ParsedData == nil {
		return model.NewCategoryErrorf(model.CategoryParseError, "file %s reached import without parsed data", file.ID.Hex())
	}

	created, err := w.db.InsertCandidateForFile(ctx, &model.Candidate{
		FileRecordID: file.ID,
		SessionID:    file.SessionID,
		Name:         file.ParsedData.Name,
		JobTitle:     file.ParsedData.JobTitle,
		Sector:       file.ParsedData.Sector,
		CVScore:      file.ParsedData.CVScore,
		CVPath:       file.FilePath,
	})
	if err != nil {
		return model.NewCategoryError(model.CategoryDBError, err)
	}

	if !created {
		log.Debug().Str("fileID", file.ID.Hex()).Msg("Candidate already existed for file record")
	}

	return nil
}

// recordFailure categorizes the error and marks the file record; sibling
// files are unaffected. The record's last-read status is part of the write, so
// a file another invocation has already advanced keeps its progress.
func (w *ExtractWorker) recordFailure(ctx context.Context, file *model.ImportFile, cause error, tally *runTally) {
	category := model.CategorizeError(cause)

	errored, err := w.db.MarkFileErrored(ctx, file.ID, file.Status, category, cause.Error())
	if err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			log.Debug().Str("fileID", file.ID.Hex()).Msg("File moved on before the failure landed, leaving it")
			return
		}
		log.Error().Err(err).Str("fileID", file.ID.Hex()).Msg("Failed to record file error")
		return
	}

	tally.addFailed()
	if err := w.db.IncrementSessionCounts(ctx, errored.SessionID, 0, 0, 1); err != nil {
		log.Error().Err(err).Str("fileID", file.ID.Hex()).Msg("Failed to bump failed count")
	}
}

// finishSession recomputes the derived session fields and records the
// terminal outcome. Per-file failures leave the session completed with a
// populated error breakdown; only a session-level fault marks it failed. A
// session with non-terminal files outside this invocation's scope is not
// completed, it stays processing until something drains them.
func (w *ExtractWorker) finishSession(ctx context.Context, sessionID primitive.ObjectID, before *model.ImportSession, tally *runTally) error {
	errored, err := w.db.ListFilesBySessionAndStatuses(ctx, sessionID, []model.FileStatus{model.FileError})
	if err != nil {
		return fmt.Errorf("failed to list errored files: %w", err)
	}

	breakdown := map[string]int{}
	for _, f := range errored {
		breakdown[string(f.ErrorCategory)]++
	}
	if err := w.db.SetSessionErrorBreakdown(ctx, sessionID, breakdown); err != nil {
		return fmt.Errorf("failed to store error breakdown: %w", err)
	}

	if avg, ok := w.rollParseAverage(before, tally); ok {
		if err := w.db.SetSessionAvgParseTime(ctx, sessionID, avg); err != nil {
			log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to store average parse time")
		}
	}

	remaining, err := w.db.ListFilesBySessionAndStatuses(ctx, sessionID, model.ResumableFileStatuses)
	if err != nil {
		return fmt.Errorf("failed to list remaining files: %w", err)
	}
	if len(remaining) > 0 {
		log.Info().
			Str("sessionID", sessionID.Hex()).
			Int("remaining", len(remaining)).
			Msg("Session still has unprocessed files, leaving it processing")
		return nil
	}

	return w.db.CompleteSession(ctx, sessionID, model.SessionCompleted, "")
}

// rollParseAverage folds this run's extraction durations into the session's
// prior average, weighted by its prior parsed count
func (w *ExtractWorker) rollParseAverage(before *model.ImportSession, tally *runTally) (float64, bool) {
	tally.mu.Lock()
	defer tally.mu.Unlock()

	if len(tally.parseDurations) == 0 {
		return 0, false
	}

	var sumMs float64
	for _, d := range tally.parseDurations {
		sumMs += float64(d.Milliseconds())
	}

	priorN := float64(before.ParsedCount)
	n := float64(len(tally.parseDurations))
	avg := (before.AvgParseTimeMs*priorN + sumMs) / (priorN + n)

	return avg, true
}

// fatal records a session-level error and passes the cause through
func (w *ExtractWorker) fatal(ctx context.Context, sessionID primitive.ObjectID, cause error) error {
	if err := w.db.SetSessionError(ctx, sessionID, cause.Error()); err != nil {
		log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to record session-level error")
	}
	return cause
}

// heartbeat advances the session heartbeat at a bounded interval until done
// is closed
func (w *ExtractWorker) heartbeat(sessionID primitive.ObjectID, done <-chan struct{}) {
	interval := time.Duration(w.cfg.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := w.db.TouchSessionHeartbeat(ctx, sessionID); err != nil {
				log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Heartbeat update failed")
			}
			cancel()
		}
	}
}
