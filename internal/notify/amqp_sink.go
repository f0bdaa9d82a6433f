package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange = "netyora.notifications"
	routingKey      = "notifications.bulk"
)

// AMQPSink publishes bulk notification records on a topic exchange.
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewAMQPSink dials amqpURL and declares the exchange.
func NewAMQPSink(amqpURL, exchange string, logger *zap.Logger) (*AMQPSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger.Info("Notification exchange ready", zap.String("exchange", exchange))
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

func (s *AMQPSink) SendBulk(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	stamp(notifications)

	body, err := json.Marshal(BulkRequest{Notifications: notifications})
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	// amqp channels are not safe for concurrent publishes
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, s.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
