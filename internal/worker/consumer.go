package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/config"
	"talent/internal/orchestrator"
	"talent/internal/rabbitmq"
)

// Consumer pulls invoke requests off the queue and feeds them to the
// extraction worker. One consumer per worker process.
type Consumer struct {
	rabbitClient rabbitmq.Client
	rabbitConfig config.RabbitMQConfig
	worker       *ExtractWorker
	consumerTag  string
	shutdown     chan struct{}
	wg           sync.WaitGroup
}

func NewConsumer(rabbitClient rabbitmq.Client, rabbitConfig config.RabbitMQConfig, worker *ExtractWorker) *Consumer {
	return &Consumer{
		rabbitClient: rabbitClient,
		rabbitConfig: rabbitConfig,
		worker:       worker,
		shutdown:     make(chan struct{}),
	}
}

// Start declares the invoke topology and begins consuming
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.rabbitClient.DeclareExchange(c.rabbitConfig.ExchangeName, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := c.rabbitClient.DeclareQueue(c.rabbitConfig.QueueName)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.rabbitConfig.QueueName, err)
	}

	if err := c.rabbitClient.BindQueue(queue.Name, c.rabbitConfig.ExchangeName, c.rabbitConfig.RoutingKey); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue.Name, err)
	}

	c.consumerTag = fmt.Sprintf("extract-consumer-%s", primitive.NewObjectID().Hex())
	c.startConsumer(ctx, queue.Name, c.consumerTag)

	log.Info().Str("queue", queue.Name).Msg("Extraction worker consuming invoke requests")
	return nil
}

// Stop drains the consumer goroutine
func (c *Consumer) Stop() {
	close(c.shutdown)
	c.wg.Wait()
	log.Info().Msg("Extraction worker stopped")
}

func (c *Consumer) startConsumer(ctx context.Context, queueName, consumerTag string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		log.Info().
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Starting invoke consumer")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("consumerTag", consumerTag).Msg("Context cancelled, stopping consumer")
				return
			case <-c.shutdown:
				log.Info().Str("consumerTag", consumerTag).Msg("Shutdown signal received, stopping consumer")
				return
			default:
			}

			deliveries, err := c.rabbitClient.Consume(queueName, consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", queueName).
					Msg("Failed to consume from queue")

				time.Sleep(5 * time.Second)
				continue
			}

			for delivery := range deliveries {
				c.processDelivery(ctx, delivery)
			}

			log.Warn().
				Str("queue", queueName).
				Str("consumerTag", consumerTag).
				Msg("Consumer channel closed, reconnecting...")

			time.Sleep(5 * time.Second)
		}
	}()
}

// processDelivery handles a single invoke request
func (c *Consumer) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	var req orchestrator.InvokeRequest
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		log.Error().Err(err).Msg("Malformed invoke request, rejecting")
		delivery.Nack(false, false) // Don't requeue malformed messages
		return
	}

	sessionID, err := primitive.ObjectIDFromHex(req.SessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionID", req.SessionID).Msg("Invalid session id in invoke request, rejecting")
		delivery.Nack(false, false)
		return
	}

	fileIDs := make([]primitive.ObjectID, 0, len(req.FileIDs))
	for _, raw := range req.FileIDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			log.Warn().Str("fileID", raw).Msg("Invalid file id in invoke request, skipping")
			continue
		}
		fileIDs = append(fileIDs, id)
	}

	logger := log.With().
		Str("sessionID", sessionID.Hex()).
		Int("fileIDs", len(fileIDs)).
		Logger()

	logger.Info().Msg("Processing invoke request")

	if err := c.worker.ProcessSession(ctx, sessionID, fileIDs); err != nil {
		logger.Error().Err(err).Msg("Session processing failed")
		// The session record carries the failure; the message is spent either way
		delivery.Ack(false)
		return
	}

	logger.Info().Msg("Invoke request processed")
	delivery.Ack(false)
}
