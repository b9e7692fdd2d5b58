// Package rabbitmq publishes payout change notifications to a RabbitMQ
// topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/movra/payout-manager/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName     = "payouts"
	RoutingKeyPrefix = "payout."
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements service.EventPublisher over RabbitMQ
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	logger  *zap.Logger
}

// NewPublisher dials url and declares the payouts exchange
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, logger: logger}, nil
}

func (p *Publisher) Publish(ctx context.Context, event model.PayoutEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payout event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		RoutingKeyPrefix+event.Change.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.PayoutID + ":" + strconv.Itoa(event.SequenceID),
			Timestamp:    event.CreatedAt,
			Headers:      amqp.Table{"payoutId": event.PayoutID},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish payout event: %w", err)
	}

	p.logger.Debug("Published payout event",
		zap.String("payoutId", event.PayoutID),
		zap.Int("sequenceId", event.SequenceID),
	)
	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
