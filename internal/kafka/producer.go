package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes payout change notifications keyed by payout id, so the
// events of one payout stay in order on a single partition
type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string, writeTimeout time.Duration, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: writeTimeout,
	}
	return &Producer{writer: writer, logger: logger}
}

func (p *Producer) Publish(ctx context.Context, event model.PayoutEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payout event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PayoutID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "change", Value: []byte(event.Change.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write payout event: %w", err)
	}

	p.logger.Debug("Published payout event",
		zap.String("payoutId", event.PayoutID),
		zap.Int("sequenceId", event.SequenceID),
		zap.String("change", event.Change.Type),
	)
	return nil
}

// Close flushes pending writes
func (p *Producer) Close() error {
	return p.writer.Close()
}
