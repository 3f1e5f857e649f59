package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"talent/internal/config"
)

// EventType identifies the kind of store mutation an event describes
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Mutation source tables
const (
	TableSessions = "import_sessions"
	TableFiles    = "import_files"
)

// Event is one change notification. Old and New carry the document before and
// after the mutation; subscribers filter by session id.
type Event struct {
	Table     string          `json:"table"`
	Type      EventType       `json:"event"`
	SessionID string          `json:"session_id"`
	Old       json.RawMessage `json:"old,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
}

// Notifier publishes change notifications for store mutations
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Subscriber delivers change notifications for one session. The returned
// cancel function tears down the subscription and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
}

// RedisChannel implements Notifier and Subscriber over redis pub/sub
type RedisChannel struct {
	client *redis.Client
	prefix string
}

// NewRedisChannel creates the change-notification channel backed by redis
func NewRedisChannel(cfg config.RedisConfig) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis for change notifications")
		return nil, err
	}

	log.Info().
		Str("address", cfg.Address).
		Str("prefix", cfg.Prefix).
		Msg("Change notification channel initialized")

	return &RedisChannel{client: client, prefix: cfg.Prefix}, nil
}

func (r *RedisChannel) channelName(sessionID string) string {
	return fmt.Sprintf("%s:changes:%s", r.prefix, sessionID)
}

// Publish sends one event to the session's channel. Publish failures are
// logged and returned but never block the store mutation that produced them.
func (r *RedisChannel) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := r.client.Publish(ctx, r.channelName(event.SessionID), payload).Err(); err != nil {
		log.Error().
			Err(err).
			Str("table", event.Table).
			Str("event", string(event.Type)).
			Str("sessionID", event.SessionID).
			Msg("Failed to publish change event")
		return err
	}

	log.Debug().
		Str("table", event.Table).
		Str("event", string(event.Type)).
		Str("sessionID", event.SessionID).
		Msg("Published change event")

	return nil
}

// Subscribe starts listening for one session's change events
func (r *RedisChannel) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channelName(sessionID))

	// Force the subscription onto the wire before handing the channel out
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to change channel: %w", err)
	}

	events := make(chan Event)
	done := make(chan struct{})

	go func() {
		defer close(events)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("sessionID", sessionID).Msg("Dropping malformed change event")
					continue
				}
				select {
				case events <- event:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		pubsub.Close()
	}

	log.Info().Str("sessionID", sessionID).Msg("Subscribed to change notifications")
	return events, cancel, nil
}

func (r *RedisChannel) Close() error {
	return r.client.Close()
}

// NopNotifier discards events; used where no push channel is configured
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }
func (NopNotifier) Close() error                         { return nil }
