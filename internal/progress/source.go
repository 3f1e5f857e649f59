package progress

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/notify"
)

// Source feeds a tracker until the context is done. Push and pull delivery
// hide behind the same boundary so consumers never care which one is live.
type Source interface {
	Run(ctx context.Context, tracker *Tracker) error
}

// PushSource applies change notifications as they arrive. The tracker is
// refreshed once up front so events land on a current base, and again if the
// subscription drops and has to be re-established.
type PushSource struct {
	subscriber notify.Subscriber
	sessionID  primitive.ObjectID
}

func NewPushSource(subscriber notify.Subscriber, sessionID primitive.ObjectID) *PushSource {
	return &PushSource{subscriber: subscriber, sessionID: sessionID}
}

func (s *PushSource) Run(ctx context.Context, tracker *Tracker) error {
	for {
		events, cancel, err := s.subscriber.Subscribe(ctx, s.sessionID.Hex())
		if err != nil {
			return err
		}

		if err := tracker.Refresh(ctx); err != nil {
			cancel()
			return err
		}

		open := true
		for open {
			select {
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			case event, ok := <-events:
				if !ok {
					open = false
					break
				}
				tracker.Apply(event)
			}
		}

		cancel()
		log.Warn().
			Str("sessionID", s.sessionID.Hex()).
			Msg("Change subscription dropped, re-subscribing")
	}
}

// PullSource refreshes the tracker from the store on a fixed interval. It is
// the fallback when no notification channel is available.
type PullSource struct {
	interval time.Duration
}

func NewPullSource(interval time.Duration) *PullSource {
	return &PullSource{interval: interval}
}

func (s *PullSource) Run(ctx context.Context, tracker *Tracker) error {
	if err := tracker.Refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := tracker.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("Progress refresh failed, will retry on next tick")
			}
		}
	}
}

// FallbackSource tries push first and degrades to pull when the push side
// fails, so a redis outage downgrades freshness instead of killing the view
type FallbackSource struct {
	push *PushSource
	pull *PullSource
}

func NewFallbackSource(push *PushSource, pull *PullSource) *FallbackSource {
	return &FallbackSource{push: push, pull: pull}
}

func (s *FallbackSource) Run(ctx context.Context, tracker *Tracker) error {
	err := s.push.Run(ctx, tracker)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Warn().Err(err).Msg("Push progress source unavailable, falling back to polling")
	return s.pull.Run(ctx, tracker)
}
