package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/database"
	"talent/internal/model"
	"talent/internal/notify"
)

// Store is the pull side of the progress source: a bounded synchronous
// re-read of the full session state
type Store interface {
	database.SessionDatabase
	database.FileDatabase
}

// Snapshot is the derived, display-ready view of one session
type Snapshot struct {
	Session            *model.ImportSession `json:"session"`
	Files              []*model.ImportFile  `json:"files"`
	Percent            int                  `json:"percent"`
	IsStale            bool                 `json:"is_stale"`
	HasPendingWork     bool                 `json:"has_pending_work"`
	HasRetryableErrors bool                 `json:"has_retryable_errors"`
	ErrorBreakdown     map[string]int       `json:"error_breakdown"`
}

// statusRank orders file statuses along the pipeline so stale notifications
// can be recognized. Both terminal statuses share the top rank.
var statusRank = map[model.FileStatus]int{
	model.FilePending:   0,
	model.FileParsing:   1,
	model.FileParsed:    2,
	model.FileImporting: 3,
	model.FileImported:  4,
	model.FileError:     4,
}

// Tracker maintains an eventually-consistent local view of one session from
// change notifications, with Refresh as the polling fallback. Notifications
// may arrive duplicated or out of order; they are applied by record id and a
// stale update never overwrites newer state.
type Tracker struct {
	db             Store
	sessionID      primitive.ObjectID
	staleThreshold time.Duration

	mu      sync.RWMutex
	session *model.ImportSession
	files   map[primitive.ObjectID]*model.ImportFile

	// changed coalesces update signals for watchers, capacity 1
	changed chan struct{}

	// now is swappable for tests
	now func() time.Time
}

func NewTracker(db Store, sessionID primitive.ObjectID, staleThreshold time.Duration) *Tracker {
	return &Tracker{
		db:             db,
		sessionID:      sessionID,
		staleThreshold: staleThreshold,
		files:          make(map[primitive.ObjectID]*model.ImportFile),
		changed:        make(chan struct{}, 1),
		now:            time.Now,
	}
}

// Changes signals after every state update. Signals coalesce, so a watcher
// that reads one should take a fresh Snapshot rather than count them.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changed
}

func (t *Tracker) notifyChanged() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Refresh re-reads the full session state from the store. It is the manual
// fallback for when the push channel is unavailable, and the reconciliation
// step when it recovers.
func (t *Tracker) Refresh(ctx context.Context) error {
	session, err := t.db.GetSessionByID(ctx, t.sessionID)
	if err != nil {
		return err
	}

	files, err := t.db.ListFilesBySession(ctx, t.sessionID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.session = session
	t.files = make(map[primitive.ObjectID]*model.ImportFile, len(files))
	for _, f := range files {
		t.files[f.ID] = f
	}
	t.notifyChanged()

	return nil
}

// Apply folds one change notification into the local view
func (t *Tracker) Apply(event notify.Event) {
	switch event.Table {
	case notify.TableSessions:
		t.applySession(event)
	case notify.TableFiles:
		t.applyFile(event)
	}
}

func (t *Tracker) applySession(event notify.Event) {
	if len(event.New) == 0 {
		return
	}

	var session model.ImportSession
	if err := json.Unmarshal(event.New, &session); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed session notification")
		return
	}
	if session.ID != t.sessionID {
		return
	}

	t.mu.Lock()
	t.session = &session
	t.mu.Unlock()
	t.notifyChanged()
}

func (t *Tracker) applyFile(event notify.Event) {
	if len(event.New) == 0 {
		return
	}

	var file model.ImportFile
	if err := json.Unmarshal(event.New, &file); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed file notification")
		return
	}
	if file.SessionID != t.sessionID {
		return
	}

	t.mu.Lock()
	current, ok := t.files[file.ID]
	if ok && staleUpdate(current, &file) {
		t.mu.Unlock()
		return
	}
	t.files[file.ID] = &file
	t.mu.Unlock()
	t.notifyChanged()
}

// staleUpdate reports whether the incoming record is older news than what is
// already held. A retry resets the pipeline, so the retry counter dominates;
// within one attempt the pipeline only moves forward.
func staleUpdate(current, incoming *model.ImportFile) bool {
	if incoming.RetryCount != current.RetryCount {
		return incoming.RetryCount < current.RetryCount
	}
	return statusRank[incoming.Status] < statusRank[current.Status]
}

// Snapshot derives the display quantities from the current local view
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Files:          make([]*model.ImportFile, 0, len(t.files)),
		ErrorBreakdown: map[string]int{},
	}

	for _, f := range t.files {
		snap.Files = append(snap.Files, f)
		switch {
		case f.Status == model.FileError:
			snap.ErrorBreakdown[string(f.ErrorCategory)]++
			if f.ErrorCategory.Retryable() {
				snap.HasRetryableErrors = true
			}
		case !model.IsTerminalFileStatus(f.Status):
			snap.HasPendingWork = true
		}
	}

	if t.session != nil {
		session := *t.session
		snap.Session = &session
		snap.Percent = session.ProgressPercent()
		snap.IsStale = session.IsStale(t.now(), t.staleThreshold)
	}

	return snap
}
