package progress

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/database"
	"talent/internal/model"
	"talent/internal/notify"
)

// fakeStore serves a fixed session and file set for Refresh
type fakeStore struct {
	mu      sync.Mutex
	session *model.ImportSession
	files   []*model.ImportFile
}

func (s *fakeStore) CreateSessionWithFiles(_ context.Context, _ *model.ImportSession, _ []*model.ImportFile) error {
	return nil
}

func (s *fakeStore) GetSessionByID(_ context.Context, id primitive.ObjectID) (*model.ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.session.ID != id {
		return nil, database.ErrSessionNotFound
	}
	copied := *s.session
	return &copied, nil
}

func (s *fakeStore) ListSessionsByUser(_ context.Context, _ string, _, _ int) ([]*model.ImportSession, error) {
	return nil, nil
}

func (s *fakeStore) MarkSessionProcessing(_ context.Context, _ primitive.ObjectID) error { return nil }

func (s *fakeStore) CompleteSession(_ context.Context, _ primitive.ObjectID, _ model.SessionStatus, _ string) error {
	return nil
}

func (s *fakeStore) SetSessionError(_ context.Context, _ primitive.ObjectID, _ string) error {
	return nil
}

func (s *fakeStore) TouchSessionHeartbeat(_ context.Context, _ primitive.ObjectID) error { return nil }

func (s *fakeStore) IncrementSessionCounts(_ context.Context, _ primitive.ObjectID, _, _, _ int) error {
	return nil
}

func (s *fakeStore) SetSessionErrorBreakdown(_ context.Context, _ primitive.ObjectID, _ map[string]int) error {
	return nil
}

func (s *fakeStore) SetSessionAvgParseTime(_ context.Context, _ primitive.ObjectID, _ float64) error {
	return nil
}

func (s *fakeStore) GetFileByID(_ context.Context, _ primitive.ObjectID) (*model.ImportFile, error) {
	return nil, database.ErrFileNotFound
}

func (s *fakeStore) ListFilesBySession(_ context.Context, sessionID primitive.ObjectID) ([]*model.ImportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ImportFile
	for _, f := range s.files {
		if f.SessionID == sessionID {
			copied := *f
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) ListFilesBySessionAndStatuses(_ context.Context, sessionID primitive.ObjectID, _ []model.FileStatus) ([]*model.ImportFile, error) {
	return s.ListFilesBySession(context.Background(), sessionID)
}

func (s *fakeStore) TransitionFile(_ context.Context, _ primitive.ObjectID, _, _ model.FileStatus) (*model.ImportFile, error) {
	return nil, database.ErrInvalidTransition
}

func (s *fakeStore) MarkFileParsed(_ context.Context, _ primitive.ObjectID, _ *model.ParsedCV) (*model.ImportFile, error) {
	return nil, database.ErrInvalidTransition
}

func (s *fakeStore) MarkFileImported(_ context.Context, _ primitive.ObjectID) (*model.ImportFile, error) {
	return nil, database.ErrInvalidTransition
}

func (s *fakeStore) MarkFileErrored(_ context.Context, _ primitive.ObjectID, _ model.FileStatus, _ model.ErrorCategory, _ string) (*model.ImportFile, error) {
	return nil, database.ErrInvalidTransition
}

func (s *fakeStore) ResetFilesForRetry(_ context.Context, _ primitive.ObjectID, _ []primitive.ObjectID) ([]primitive.ObjectID, error) {
	return nil, nil
}

func fileEvent(t *testing.T, file *model.ImportFile) notify.Event {
	t.Helper()
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	return notify.Event{
		Table:     notify.TableFiles,
		Type:      notify.EventUpdate,
		SessionID: file.SessionID.Hex(),
		New:       raw,
	}
}

func sessionEvent(t *testing.T, session *model.ImportSession) notify.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return notify.Event{
		Table:     notify.TableSessions,
		Type:      notify.EventUpdate,
		SessionID: session.ID.Hex(),
		New:       raw,
	}
}

func TestTrackerRefreshAndSnapshot(t *testing.T) {
	sessionID := primitive.NewObjectID()
	now := time.Now()
	staleBeat := now.Add(-5 * time.Minute)

	// Two imported, one retryable error, two never picked up, heartbeat stale
	store := &fakeStore{
		session: &model.ImportSession{
			ID:            sessionID,
			Status:        model.SessionProcessing,
			TotalFiles:    5,
			ParsedCount:   2,
			ImportedCount: 2,
			FailedCount:   1,
			LastHeartbeat: &staleBeat,
		},
		files: []*model.ImportFile{
			{ID: primitive.NewObjectID(), SessionID: sessionID, Status: model.FileImported},
			{ID: primitive.NewObjectID(), SessionID: sessionID, Status: model.FileImported},
			{ID: primitive.NewObjectID(), SessionID: sessionID, Status: model.FileError, ErrorCategory: model.CategoryRateLimit},
			{ID: primitive.NewObjectID(), SessionID: sessionID, Status: model.FilePending},
			{ID: primitive.NewObjectID(), SessionID: sessionID, Status: model.FilePending},
		},
	}

	tracker := NewTracker(store, sessionID, time.Minute)
	tracker.now = func() time.Time { return now }
	require.NoError(t, tracker.Refresh(context.Background()))

	snap := tracker.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, 60, snap.Percent)
	assert.True(t, snap.IsStale)
	assert.True(t, snap.HasPendingWork)
	assert.True(t, snap.HasRetryableErrors)
	assert.Equal(t, map[string]int{"RATE_LIMIT": 1}, snap.ErrorBreakdown)
	assert.Len(t, snap.Files, 5)
}

func TestTrackerAppliesEventsByRecordID(t *testing.T) {
	sessionID := primitive.NewObjectID()
	fileID := primitive.NewObjectID()

	tracker := NewTracker(&fakeStore{}, sessionID, time.Minute)

	tracker.Apply(fileEvent(t, &model.ImportFile{ID: fileID, SessionID: sessionID, Status: model.FileParsing}))
	tracker.Apply(fileEvent(t, &model.ImportFile{ID: fileID, SessionID: sessionID, Status: model.FileParsed}))

	snap := tracker.Snapshot()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, model.FileParsed, snap.Files[0].Status)

	tracker.Apply(sessionEvent(t, &model.ImportSession{ID: sessionID, Status: model.SessionProcessing, TotalFiles: 1}))
	snap = tracker.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, model.SessionProcessing, snap.Session.Status)
}

func TestTrackerToleratesDuplicateAndOutOfOrderEvents(t *testing.T) {
	sessionID := primitive.NewObjectID()
	fileID := primitive.NewObjectID()

	tracker := NewTracker(&fakeStore{}, sessionID, time.Minute)

	imported := &model.ImportFile{ID: fileID, SessionID: sessionID, Status: model.FileImported}
	parsing := &model.ImportFile{ID: fileID, SessionID: sessionID, Status: model.FileParsing}

	tracker.Apply(fileEvent(t, parsing))
	tracker.Apply(fileEvent(t, imported))
	// Duplicate and late events must not regress the record
	tracker.Apply(fileEvent(t, imported))
	tracker.Apply(fileEvent(t, parsing))

	snap := tracker.Snapshot()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, model.FileImported, snap.Files[0].Status)
	assert.False(t, snap.HasPendingWork)
}

func TestTrackerAcceptsRetryReset(t *testing.T) {
	sessionID := primitive.NewObjectID()
	fileID := primitive.NewObjectID()

	tracker := NewTracker(&fakeStore{}, sessionID, time.Minute)

	tracker.Apply(fileEvent(t, &model.ImportFile{
		ID: fileID, SessionID: sessionID,
		Status: model.FileError, ErrorCategory: model.CategoryRateLimit,
	}))

	// The retry moved the record back to pending with a bumped counter
	tracker.Apply(fileEvent(t, &model.ImportFile{
		ID: fileID, SessionID: sessionID,
		Status: model.FilePending, RetryCount: 1,
	}))

	snap := tracker.Snapshot()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, model.FilePending, snap.Files[0].Status)
	assert.True(t, snap.HasPendingWork)
	assert.False(t, snap.HasRetryableErrors)
	assert.Empty(t, snap.ErrorBreakdown)
}

func TestTrackerIgnoresForeignSessionEvents(t *testing.T) {
	sessionID := primitive.NewObjectID()
	otherSession := primitive.NewObjectID()

	tracker := NewTracker(&fakeStore{}, sessionID, time.Minute)

	tracker.Apply(fileEvent(t, &model.ImportFile{
		ID: primitive.NewObjectID(), SessionID: otherSession, Status: model.FilePending,
	}))
	tracker.Apply(sessionEvent(t, &model.ImportSession{ID: otherSession, Status: model.SessionFailed}))

	snap := tracker.Snapshot()
	assert.Empty(t, snap.Files)
	assert.Nil(t, snap.Session)
}

func TestTrackerSignalsChanges(t *testing.T) {
	sessionID := primitive.NewObjectID()

	tracker := NewTracker(&fakeStore{}, sessionID, time.Minute)

	tracker.Apply(sessionEvent(t, &model.ImportSession{ID: sessionID, Status: model.SessionProcessing}))

	select {
	case <-tracker.Changes():
	default:
		t.Fatal("expected a change signal after an applied event")
	}

	// Ignored events must not signal
	tracker.Apply(sessionEvent(t, &model.ImportSession{ID: primitive.NewObjectID()}))
	select {
	case <-tracker.Changes():
		t.Fatal("foreign events must not signal a change")
	default:
	}
}
