package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/model"
	"talent/pkg/cvparse"
)

// fakeStore is an in-memory stand-in for the session, file, and candidate
// collections
type fakeStore struct {
	mu         sync.Mutex
	sessions   map[primitive.ObjectID]*model.ImportSession
	files      map[primitive.ObjectID]*model.ImportFile
	candidates map[primitive.ObjectID]*model.Candidate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   map[primitive.ObjectID]*model.ImportSession{},
		files:      map[primitive.ObjectID]*model.ImportFile{},
		candidates: map[primitive.ObjectID]*model.Candidate{},
	}
}

func (s *fakeStore) addSession(session *model.ImportSession) *model.ImportSession {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	if session.Status == "" {
		session.Status = model.SessionPending
	}
	s.sessions[session.ID] = session
	return session
}

func (s *fakeStore) addFile(sessionID primitive.ObjectID, file *model.ImportFile) *model.ImportFile {
	file.ID = primitive.NewObjectID()
	file.SessionID = sessionID
	if file.Status == "" {
		file.Status = model.FilePending
	}
	s.files[file.ID] = file
	return file
}

func (s *fakeStore) CreateSessionWithFiles(_ context.Context, session *model.ImportSession, files []*model.ImportFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addSession(session)
	for _, f := range files {
		s.addFile(session.ID, f)
	}
	return nil
}

func (s *fakeStore) GetSessionByID(_ context.Context, id primitive.ObjectID) (*model.ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *fakeStore) ListSessionsByUser(_ context.Context, userID string, limit, offset int) ([]*model.ImportSession, error) {
	return nil, nil
}

func (s *fakeStore) MarkSessionProcessing(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	session.Status = model.SessionProcessing
	now := time.Now()
	if session.StartedAt == nil {
		session.StartedAt = &now
	}
	session.LastHeartbeat = &now
	return nil
}

func (s *fakeStore) CompleteSession(_ context.Context, id primitive.ObjectID, status model.SessionStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	session.Status = status
	session.ErrorMessage = errorMsg
	now := time.Now()
	session.CompletedAt = &now
	return nil
}

func (s *fakeStore) SetSessionError(_ context.Context, id primitive.ObjectID, errorMsg string) error {
	return s.CompleteSession(context.Background(), id, model.SessionFailed, errorMsg)
}

func (s *fakeStore) TouchSessionHeartbeat(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	now := time.Now()
	session.LastHeartbeat = &now
	return nil
}

func (s *fakeStore) IncrementSessionCounts(_ context.Context, id primitive.ObjectID, parsed, imported, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	session.ParsedCount += parsed
	session.ImportedCount += imported
	session.FailedCount += failed
	return nil
}

func (s *fakeStore) SetSessionErrorBreakdown(_ context.Context, id primitive.ObjectID, breakdown map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	session.ErrorBreakdown = breakdown
	return nil
}

func (s *fakeStore) SetSessionAvgParseTime(_ context.Context, id primitive.ObjectID, avgMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	session.AvgParseTimeMs = avgMs
	return nil
}

func (s *fakeStore) GetFileByID(_ context.Context, id primitive.ObjectID) (*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	copied := *file
	return &copied, nil
}

func (s *fakeStore) ListFilesBySession(_ context.Context, sessionID primitive.ObjectID) ([]*model.ImportFile, error) {
	return s.ListFilesBySessionAndStatuses(context.Background(), sessionID, nil)
}

func (s *fakeStore) ListFilesBySessionAndStatuses(_ context.Context, sessionID primitive.ObjectID, statuses []model.FileStatus) ([]*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ImportFile
	for _, file := range s.files {
		if file.SessionID != sessionID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, file.Status) {
			continue
		}
		copied := *file
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) TransitionFile(_ context.Context, id primitive.ObjectID, from, to model.FileStatus) (*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	if file.Status != from || !model.CanTransitionFile(from, to) {
		return nil, database.ErrInvalidTransition
	}
	file.Status = to
	copied := *file
	return &copied, nil
}

func (s *fakeStore) MarkFileParsed(_ context.Context, id primitive.ObjectID, data *model.ParsedCV) (*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	if file.Status != model.FileParsing {
		return nil, database.ErrInvalidTransition
	}
	file.Status = model.FileParsed
	file.ParsedData = data
	copied := *file
	return &copied, nil
}

func (s *fakeStore) MarkFileImported(_ context.Context, id primitive.ObjectID) (*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	if file.Status != model.FileImporting {
		return nil, database.ErrInvalidTransition
	}
	file.Status = model.FileImported
	now := time.Now()
	file.ProcessedAt = &now
	copied := *file
	return &copied, nil
}

func (s *fakeStore) MarkFileErrored(_ context.Context, id primitive.ObjectID, from model.FileStatus, category model.ErrorCategory, message string) (*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	if file.Status != from || !model.CanTransitionFile(from, model.FileError) {
		return nil, database.ErrInvalidTransition
	}
	file.Status = model.FileError
	file.ErrorCategory = category
	file.ErrorMessage = message
	now := time.Now()
	file.ProcessedAt = &now
	copied := *file
	return &copied, nil
}

func (s *fakeStore) ResetFilesForRetry(_ context.Context, sessionID primitive.ObjectID, ids []primitive.ObjectID) ([]primitive.ObjectID, error) {
	return nil, nil
}

func (s *fakeStore) InsertCandidateForFile(_ context.Context, candidate *model.Candidate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[candidate.FileRecordID]; exists {
		return false, nil
	}
	candidate.ID = primitive.NewObjectID()
	candidate.CreatedAt = time.Now()
	s.candidates[candidate.FileRecordID] = candidate
	return true, nil
}

func (s *fakeStore) GetCandidateByFileID(_ context.Context, fileID primitive.ObjectID) (*model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, ok := s.candidates[fileID]
	if !ok {
		return nil, errors.New("candidate not found")
	}
	copied := *candidate
	return &copied, nil
}

func (s *fakeStore) CountCandidatesBySession(_ context.Context, sessionID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.candidates {
		if c.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func containsStatus(statuses []model.FileStatus, status model.FileStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// fakeDocStore serves canned blobs by file path
type fakeDocStore struct {
	blobs        map[string][]byte
	downloadErrs map[string]error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		blobs:        map[string][]byte{},
		downloadErrs: map[string]error{},
	}
}

func (d *fakeDocStore) Upload(_ context.Context, sessionID, fileName string, body io.Reader) (string, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	key := sessionID + "/" + fileName
	d.blobs[key] = content
	return key, nil
}

func (d *fakeDocStore) Download(_ context.Context, filePath string) (io.ReadCloser, error) {
	if err, ok := d.downloadErrs[filePath]; ok {
		return nil, err
	}
	content, ok := d.blobs[filePath]
	if !ok {
		return nil, errors.New("no such document")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (d *fakeDocStore) Delete(_ context.Context, filePath string) error {
	delete(d.blobs, filePath)
	return nil
}

func (d *fakeDocStore) Health() error {
	return nil
}

// fakeExtractor returns canned results or failures by file name; onExtract
// runs mid-extraction when set
type fakeExtractor struct {
	results   map[string]*model.ParsedCV
	errs      map[string]error
	onExtract func(fileName string)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		results: map[string]*model.ParsedCV{},
		errs:    map[string]error{},
	}
}

func (e *fakeExtractor) Extract(_ context.Context, fileName string, _ io.Reader) (*model.ParsedCV, error) {
	if e.onExtract != nil {
		e.onExtract(fileName)
	}
	if err, ok := e.errs[fileName]; ok {
		return nil, err
	}
	if result, ok := e.results[fileName]; ok {
		return result, nil
	}
	return &model.ParsedCV{Name: "Unnamed", CVScore: 1}, nil
}

func testConfig() config.ImportConfig {
	return config.ImportConfig{
		StaleThresholdMs:    60_000,
		DefaultBatchSize:    2,
		HeartbeatIntervalMs: 10_000,
		InvokeTimeoutMs:     1_000,
	}
}

// seedSession creates a session with one pending file per name, blobs included
func seedSession(t *testing.T, store *fakeStore, docs *fakeDocStore, names ...string) (*model.ImportSession, []*model.ImportFile) {
	t.Helper()

	session := &model.ImportSession{}
	files := make([]*model.ImportFile, 0, len(names))
	for _, name := range names {
		files = append(files, &model.ImportFile{FileName: name})
	}
	require.NoError(t, store.CreateSessionWithFiles(context.Background(), session, files))
	session.TotalFiles = len(files)

	for _, f := range files {
		path, err := docs.Upload(context.Background(), session.ID.Hex(), f.FileName, bytes.NewReader([]byte("cv body")))
		require.NoError(t, err)
		f.FilePath = path
	}

	return session, files
}

func TestProcessSessionImportsEveryFile(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()
	extractor.results["alice.pdf"] = &model.ParsedCV{Name: "Alice", JobTitle: "Engineer", Sector: "Tech", CVScore: 8.5}

	session, files := seedSession(t, store, docs, "alice.pdf", "bob.pdf", "carol.pdf")

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	for _, f := range files {
		after, err := store.GetFileByID(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, model.FileImported, after.Status)
		require.NotNil(t, after.ParsedData)
	}

	candidate, err := store.GetCandidateByFileID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", candidate.Name)
	assert.Equal(t, 8.5, candidate.CVScore)
	assert.Equal(t, session.ID, candidate.SessionID)

	count, err := store.CountCandidatesBySession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	after, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, after.Status)
	assert.Equal(t, 3, after.ParsedCount)
	assert.Equal(t, 3, after.ImportedCount)
	assert.Zero(t, after.FailedCount)
	assert.Empty(t, after.ErrorBreakdown)
	assert.NotNil(t, after.CompletedAt)
}

func TestProcessSessionRecordsCategorizedFailures(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()
	extractor.errs["throttled.pdf"] = &cvparse.APIError{Code: 429, Title: "Too Many Requests"}
	extractor.errs["garbled.pdf"] = &cvparse.APIError{Code: 422, Title: "Unprocessable Entity"}

	session, files := seedSession(t, store, docs, "throttled.pdf", "garbled.pdf", "fine.pdf")

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	throttled, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileError, throttled.Status)
	assert.Equal(t, model.CategoryRateLimit, throttled.ErrorCategory)
	assert.NotEmpty(t, throttled.ErrorMessage)

	garbled, err := store.GetFileByID(context.Background(), files[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryParseError, garbled.ErrorCategory)

	fine, err := store.GetFileByID(context.Background(), files[2].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileImported, fine.Status)

	// Per-file failures still complete the session; the breakdown carries the detail
	after, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, after.Status)
	assert.Equal(t, 1, after.ParsedCount)
	assert.Equal(t, 1, after.ImportedCount)
	assert.Equal(t, 2, after.FailedCount)
	assert.Equal(t, map[string]int{"RATE_LIMIT": 1, "PARSE_ERROR": 1}, after.ErrorBreakdown)
}

func TestProcessSessionMarksMissingDocumentAsFileError(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "lost.pdf")
	delete(docs.blobs, files[0].FilePath)

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	after, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileError, after.Status)
	assert.Equal(t, model.CategoryFileError, after.ErrorCategory)
}

func TestProcessSessionResumesMidFlightFiles(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "parsed.pdf", "importing.pdf")

	// Simulate records abandoned by a dead worker
	store.files[files[0].ID].Status = model.FileParsed
	store.files[files[0].ID].ParsedData = &model.ParsedCV{Name: "Parsed Earlier", CVScore: 5}
	store.files[files[1].ID].Status = model.FileImporting
	store.files[files[1].ID].ParsedData = &model.ParsedCV{Name: "Importing Earlier", CVScore: 6}

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	for _, f := range files {
		after, err := store.GetFileByID(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, model.FileImported, after.Status)
	}

	// Resumed files were parsed before this invocation, so the counter is untouched
	after, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Zero(t, after.ParsedCount)
	assert.Equal(t, 2, after.ImportedCount)
}

func TestProcessSessionImportIsAtMostOnce(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "dup.pdf")

	// A previous invocation inserted the candidate but died before marking the
	// record imported
	store.files[files[0].ID].Status = model.FileImporting
	store.files[files[0].ID].ParsedData = &model.ParsedCV{Name: "Dup", CVScore: 7}
	_, err := store.InsertCandidateForFile(context.Background(), &model.Candidate{
		FileRecordID: files[0].ID,
		SessionID:    session.ID,
		Name:         "Dup",
	})
	require.NoError(t, err)

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	after, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileImported, after.Status)

	count, err := store.CountCandidatesBySession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "re-invocation must not duplicate the candidate")
}

func TestProcessSessionScopedInvocationSkipsForeignAndTerminalFiles(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "target.pdf", "done.pdf")
	store.files[files[1].ID].Status = model.FileImported

	otherSession, otherFiles := seedSession(t, store, docs, "foreign.pdf")

	w := NewExtractWorker(store, docs, extractor, testConfig())
	scope := []primitive.ObjectID{files[0].ID, files[1].ID, otherFiles[0].ID, primitive.NewObjectID()}
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, scope))

	target, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileImported, target.Status)

	foreign, err := store.GetFileByID(context.Background(), otherFiles[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FilePending, foreign.Status, "files of other sessions are out of scope")

	otherAfter, err := store.GetSessionByID(context.Background(), otherSession.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPending, otherAfter.Status)
}

func TestProcessSessionKeepsParsedFileWhenOverlappingInvocationWins(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "contested.pdf")

	// An overlapping invocation finishes the parse while this one is still
	// extracting
	extractor.onExtract = func(string) {
		store.mu.Lock()
		store.files[files[0].ID].Status = model.FileParsed
		store.files[files[0].ID].ParsedData = &model.ParsedCV{Name: "Winner", CVScore: 9}
		store.mu.Unlock()
	}

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	after, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileParsed, after.Status, "the winning parse must stand")
	assert.Empty(t, after.ErrorCategory)
	assert.Equal(t, "Winner", after.ParsedData.Name)

	sessionAfter, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Zero(t, sessionAfter.FailedCount)
	assert.Equal(t, model.SessionProcessing, sessionAfter.Status, "a parsed file still awaits import")
}

func TestProcessSessionFailureNeverOverwritesAdvancedFile(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()
	extractor.errs["contested.pdf"] = errors.New("extraction blew up")

	session, files := seedSession(t, store, docs, "contested.pdf")

	// The overlapping invocation wins before this one's failure lands
	extractor.onExtract = func(string) {
		store.mu.Lock()
		store.files[files[0].ID].Status = model.FileParsed
		store.files[files[0].ID].ParsedData = &model.ParsedCV{Name: "Winner", CVScore: 9}
		store.mu.Unlock()
	}

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	after, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileParsed, after.Status)
	assert.Empty(t, after.ErrorCategory)

	sessionAfter, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Zero(t, sessionAfter.FailedCount)
}

func TestProcessSessionScopedRunLeavesPendingSiblingsUnfinished(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "target.pdf", "waiting.pdf", "queued.pdf")

	w := NewExtractWorker(store, docs, extractor, testConfig())
	scope := []primitive.ObjectID{files[0].ID}
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, scope))

	target, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileImported, target.Status)

	for _, f := range files[1:] {
		after, err := store.GetFileByID(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, model.FilePending, after.Status)
	}

	// Untouched pending siblings keep the session out of a terminal status
	after, err := store.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionProcessing, after.Status)
	assert.Nil(t, after.CompletedAt)
}

// timeoutError mimics a transient network failure from the document store
type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestProcessSessionKeepsDownloadTimeoutsRetryable(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, files := seedSession(t, store, docs, "slow.pdf")
	docs.downloadErrs[files[0].FilePath] = timeoutError{}

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	after, err := store.GetFileByID(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.FileError, after.Status)
	assert.Equal(t, model.CategoryTimeout, after.ErrorCategory)
	assert.True(t, after.ErrorCategory.Retryable(), "a transient download failure must stay retryable")
}

func TestProcessSessionRollsParseAverageForward(t *testing.T) {
	store := newFakeStore()
	docs := newFakeDocStore()
	extractor := newFakeExtractor()

	session, _ := seedSession(t, store, docs, "one.pdf")

	w := NewExtractWorker(store, docs, extractor, testConfig())
	require.NoError(t, w.ProcessSession(context.Background(), session.ID, nil))

	prior := &model.ImportSession{ParsedCount: 3, AvgParseTimeMs: 100}
	tally := &runTally{parseDurations: []time.Duration{200 * time.Millisecond}}

	avg, ok := w.rollParseAverage(prior, tally)
	require.True(t, ok)
	assert.InDelta(t, 125.0, avg, 0.001)

	_, ok = w.rollParseAverage(prior, &runTally{})
	assert.False(t, ok, "no parses this run means the average stands")
}
