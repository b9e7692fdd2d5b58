package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SourceChangeHandler applies a batch of source changes
type SourceChangeHandler interface {
	HandleChanges(ctx context.Context, changes []model.SourceChange) error
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer consumes deposit source change events and projects them into the
// source store. A message is committed only after it has been applied.
type Consumer struct {
	reader   messageReader
	handler  SourceChangeHandler
	throttle time.Duration
	logger   *zap.Logger
}

// ConsumerConfig configures the source change consumer
type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Throttle time.Duration // pause before a failed message is retried
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, handler SourceChangeHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return newConsumer(reader, handler, cfg.Throttle, logger)
}

func newConsumer(reader messageReader, handler SourceChangeHandler, throttle time.Duration, logger *zap.Logger) *Consumer {
	if throttle <= 0 {
		throttle = time.Second
	}
	return &Consumer{
		reader:   reader,
		handler:  handler,
		throttle: throttle,
		logger:   logger,
	}
}

// Start consumes until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to fetch message", zap.Error(err))
			if !c.pause(ctx) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			return nil
		}
	}
}

// process applies msg until it succeeds and commits it. It returns false
// once ctx is done.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.handleMessage(ctx, msg)
		if err == nil {
			break
		}
		if errors.Is(err, errPoisonMessage) {
			c.logger.Error("Skipping undecodable message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			break
		}

		c.logger.Error("Failed to handle message, retrying",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Duration("throttle", c.throttle),
			zap.Error(err),
		)
		if !c.pause(ctx) {
			return false
		}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("Failed to commit message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
	return true
}

var errPoisonMessage = errors.New("undecodable message")

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var change model.SourceChange
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		return fmt.Errorf("%w: unmarshal source change: %w", errPoisonMessage, err)
	}
	if change.SourceID == "" {
		change.SourceID = string(msg.Key)
	}

	c.logger.Debug("Received source change",
		zap.String("sourceId", change.SourceID),
		zap.Int64("eventId", change.EventID),
	)

	return c.handler.HandleChanges(ctx, []model.SourceChange{change})
}

func (c *Consumer) pause(ctx context.Context) bool {
	timer := time.NewTimer(c.throttle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
