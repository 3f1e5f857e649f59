package controller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/cache"
	"talent/internal/config"
	"talent/internal/database"
	"talent/internal/model"
	"talent/internal/notify"
	"talent/internal/orchestrator"
	"talent/internal/progress"
)

// ImportController is the API-facing surface for import sessions
type ImportController interface {
	StartImport(ctx context.Context, docs []orchestrator.DocumentUpload, owner orchestrator.Owner) (primitive.ObjectID, error)
	GetSession(ctx context.Context, id primitive.ObjectID) (*model.ImportSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*model.ImportSession, error)
	ListFiles(ctx context.Context, sessionID primitive.ObjectID, statuses []model.FileStatus) ([]*model.ImportFile, error)
	Resume(ctx context.Context, sessionID primitive.ObjectID) (int, error)
	Retry(ctx context.Context, sessionID primitive.ObjectID, fileIDs []primitive.ObjectID) (int, error)
	GetProgress(ctx context.Context, sessionID primitive.ObjectID) (progress.Snapshot, error)
	WatchProgress(ctx context.Context, sessionID primitive.ObjectID) (<-chan progress.Snapshot, func(), error)
}

type importController struct {
	db           database.Database
	cache        cache.Cache
	subscriber   notify.Subscriber
	orchestrator *orchestrator.Orchestrator
	cfg          config.ImportConfig
}

func NewImportController(db database.Database, cache cache.Cache, subscriber notify.Subscriber, orch *orchestrator.Orchestrator, cfg config.ImportConfig) ImportController {
	return &importController{
		db:           db,
		cache:        cache,
		subscriber:   subscriber,
		orchestrator: orch,
		cfg:          cfg,
	}
}

func (ic *importController) StartImport(ctx context.Context, docs []orchestrator.DocumentUpload, owner orchestrator.Owner) (primitive.ObjectID, error) {
	return ic.orchestrator.StartImport(ctx, docs, owner)
}

func (ic *importController) GetSession(ctx context.Context, id primitive.ObjectID) (*model.ImportSession, error) {
	return ic.db.GetSessionByID(ctx, id)
}

func (ic *importController) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*model.ImportSession, error) {
	return ic.db.ListSessionsByUser(ctx, userID, limit, offset)
}

func (ic *importController) ListFiles(ctx context.Context, sessionID primitive.ObjectID, statuses []model.FileStatus) ([]*model.ImportFile, error) {
	if _, err := ic.db.GetSessionByID(ctx, sessionID); err != nil {
		return nil, err
	}
	if len(statuses) > 0 {
		return ic.db.ListFilesBySessionAndStatuses(ctx, sessionID, statuses)
	}
	return ic.db.ListFilesBySession(ctx, sessionID)
}

func (ic *importController) Resume(ctx context.Context, sessionID primitive.ObjectID) (int, error) {
	if _, err := ic.db.GetSessionByID(ctx, sessionID); err != nil {
		return 0, err
	}
	ic.invalidateProgress(ctx, sessionID)
	return ic.orchestrator.ResumePending(ctx, sessionID)
}

func (ic *importController) Retry(ctx context.Context, sessionID primitive.ObjectID, fileIDs []primitive.ObjectID) (int, error) {
	if _, err := ic.db.GetSessionByID(ctx, sessionID); err != nil {
		return 0, err
	}
	ic.invalidateProgress(ctx, sessionID)
	return ic.orchestrator.RetryFailed(ctx, sessionID, fileIDs)
}

// GetProgress serves the derived progress view, cached briefly so polling
// dashboards don't hammer the store
func (ic *importController) GetProgress(ctx context.Context, sessionID primitive.ObjectID) (progress.Snapshot, error) {
	cacheKey := progressCacheKey(sessionID)

	if data, err := ic.cache.Get(ctx, cacheKey); err == nil {
		var snap progress.Snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return snap, nil
		}
		log.Warn().Str("key", cacheKey).Msg("Discarding unreadable cached progress")
	}

	tracker := progress.NewTracker(ic.db, sessionID, ic.staleThreshold())
	if err := tracker.Refresh(ctx); err != nil {
		return progress.Snapshot{}, err
	}
	snap := tracker.Snapshot()

	if data, err := json.Marshal(snap); err == nil {
		ttl := time.Duration(ic.cfg.ProgressCacheTTLSecs) * time.Second
		if err := ic.cache.Set(ctx, cacheKey, data, ttl); err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache progress snapshot")
		}
	}

	return snap, nil
}

// WatchProgress streams snapshots as the session changes. The returned cancel
// must be called when the watcher goes away.
func (ic *importController) WatchProgress(ctx context.Context, sessionID primitive.ObjectID) (<-chan progress.Snapshot, func(), error) {
	if _, err := ic.db.GetSessionByID(ctx, sessionID); err != nil {
		return nil, nil, err
	}

	tracker := progress.NewTracker(ic.db, sessionID, ic.staleThreshold())
	source := progress.NewFallbackSource(
		progress.NewPushSource(ic.subscriber, sessionID),
		progress.NewPullSource(ic.staleThreshold()/2),
	)

	watchCtx, cancel := context.WithCancel(ctx)
	out := make(chan progress.Snapshot, 1)

	go func() {
		if err := source.Run(watchCtx, tracker); err != nil && watchCtx.Err() == nil {
			log.Error().Err(err).Str("sessionID", sessionID.Hex()).Msg("Progress source stopped")
		}
	}()

	go func() {
		defer close(out)
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-tracker.Changes():
				snap := tracker.Snapshot()
				// Drop the stale buffered snapshot, the watcher only wants the latest
				select {
				case <-out:
				default:
				}
				out <- snap
			}
		}
	}()

	return out, cancel, nil
}

func (ic *importController) invalidateProgress(ctx context.Context, sessionID primitive.ObjectID) {
	if err := ic.cache.Delete(ctx, progressCacheKey(sessionID)); err != nil {
		log.Warn().Err(err).Str("sessionID", sessionID.Hex()).Msg("Failed to invalidate cached progress")
	}
}

func (ic *importController) staleThreshold() time.Duration {
	return time.Duration(ic.cfg.StaleThresholdMs) * time.Millisecond
}

func progressCacheKey(sessionID primitive.ObjectID) string {
	return "progress:" + sessionID.Hex()
}
