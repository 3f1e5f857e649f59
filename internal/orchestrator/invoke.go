package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"talent/internal/config"
	"talent/internal/rabbitmq"
)

// InvokeRequest is the Extraction Worker RPC payload. The worker reads the
// session's eligible file records itself; FileIDs, when present, scope the
// invocation to a subset.
type InvokeRequest struct {
	SessionID string   `json:"session_id"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

// Invoker hands an invocation to the out-of-process extraction worker. The
// returned handle tracks only the hand-off, never the extraction itself.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) *TaskHandle
}

// TaskHandle is the cancelable future for one worker hand-off
type TaskHandle struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Done is closed once the hand-off has succeeded or failed
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Err reports the hand-off outcome; only valid after Done is closed
func (h *TaskHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Cancel abandons the hand-off. It has no effect on a worker that already
// received the invocation.
func (h *TaskHandle) Cancel() {
	h.cancel()
}

// Wait blocks until the hand-off finishes or the context expires
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type rabbitInvoker struct {
	client  rabbitmq.Client
	cfg     config.RabbitMQConfig
	timeout time.Duration
}

// NewRabbitInvoker builds the production invoker over the invoke queue,
// declaring the exchange, queue, and binding up front
func NewRabbitInvoker(client rabbitmq.Client, cfg config.RabbitMQConfig, invokeTimeout time.Duration) (Invoker, error) {
	if err := client.DeclareExchange(cfg.ExchangeName, "direct"); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := client.DeclareQueue(cfg.QueueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.QueueName, err)
	}
	if err := client.BindQueue(cfg.QueueName, cfg.ExchangeName, cfg.RoutingKey); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", cfg.QueueName, err)
	}

	return &rabbitInvoker{
		client:  client,
		cfg:     cfg,
		timeout: invokeTimeout,
	}, nil
}

// Invoke publishes the request under a timeout; the caller chooses whether to
// await the hand-off
func (i *rabbitInvoker) Invoke(ctx context.Context, req InvokeRequest) *TaskHandle {
	invokeCtx, cancel := context.WithTimeout(ctx, i.timeout)
	handle := &TaskHandle{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(handle.done)
		defer cancel()

		start := time.Now()

		body, err := json.Marshal(req)
		if err != nil {
			handle.err = fmt.Errorf("failed to marshal invoke request: %w", err)
			return
		}

		headers := amqp.Table{
			"session_id": req.SessionID,
		}

		publishErr := make(chan error, 1)
		go func() {
			publishErr <- i.client.Publish(i.cfg.ExchangeName, i.cfg.RoutingKey, body, headers)
		}()

		select {
		case err := <-publishErr:
			if err != nil {
				handle.err = fmt.Errorf("failed to publish invoke request: %w", err)
				log.Error().
					Err(err).
					Str("sessionID", req.SessionID).
					Int("fileIDs", len(req.FileIDs)).
					Dur("duration", time.Since(start)).
					Msg("Worker invocation failed")
				return
			}
		case <-invokeCtx.Done():
			handle.err = fmt.Errorf("worker invocation timed out: %w", invokeCtx.Err())
			log.Error().
				Str("sessionID", req.SessionID).
				Dur("timeout", i.timeout).
				Msg("Worker invocation timed out")
			return
		}

		log.Info().
			Str("sessionID", req.SessionID).
			Int("fileIDs", len(req.FileIDs)).
			Dur("duration", time.Since(start)).
			Msg("Worker invoked")
	}()

	return handle
}
