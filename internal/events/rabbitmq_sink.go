package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeKind = "topic"

// RabbitMQSink publishes events as JSON to a durable topic exchange, routed by
// event type.
type RabbitMQSink struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQSink dials the broker and declares the exchange.
func NewRabbitMQSink(amqpURL, exchange string, logger *zap.Logger) (*RabbitMQSink, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &RabbitMQSink{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends the event, reopening the channel once if the first attempt fails.
func (s *RabbitMQSink) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.channel.PublishWithContext(ctx, s.exchange, string(event.Type), false, false, msg)
	if err == nil {
		return nil
	}

	s.logger.Warn("publish failed, reopening channel",
		zap.String("exchange", s.exchange),
		zap.String("routing_key", string(event.Type)),
		zap.Error(err),
	)
	if reopenErr := s.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return s.channel.PublishWithContext(ctx, s.exchange, string(event.Type), false, false, msg)
}

func (s *RabbitMQSink) reopen() error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(s.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		return err
	}
	s.channel.Close()
	s.channel = ch
	return nil
}

// Close closes the channel and the connection.
func (s *RabbitMQSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.channel.Close(), s.conn.Close())
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
