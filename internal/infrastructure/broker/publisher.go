package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	order "main/internal/domain/entity/order"
)

// Publisher emits order-changed events to the downstream indexing pipeline
// on a fanout exchange.
type Publisher struct {
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

// NewPublisher dials the broker and declares the order-events exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{exchange: exchange, conn: conn, channel: ch}, nil
}

// Publish sends one order-changed event. Called only after the batch flush,
// so every published order is already persisted.
func (p *Publisher) Publish(ctx context.Context, result order.Result) error {
	body, err := json.Marshal(OrderEventMessage{
		EventID:       uuid.New(),
		OrderID:       result.ID,
		TxHash:        result.TxHash,
		TriggerReason: result.TriggerReason,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the AMQP channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
