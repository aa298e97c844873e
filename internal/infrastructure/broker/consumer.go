package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"main/internal/config"
	order "main/internal/domain/entity/order"
	pool "main/internal/domain/entity/pool"
)

// Reconciler is the batch entry point the consumer feeds.
type Reconciler interface {
	Reconcile(ctx context.Context, events []pool.TriggerEvent) ([]order.Result, error)
}

// Consumer subscribes to the pool-events fanout exchange and forwards
// trigger events into the reconciler via a buffered batch.
type Consumer struct {
	cfg     config.RabbitMQConfig
	service Reconciler
	logger  *logrus.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
	batcher *eventBuffer
}

// NewConsumer prepares a consumer for the given configuration.
func NewConsumer(cfg config.RabbitMQConfig, service Reconciler, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	consumer := &Consumer{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}
	batchCfg := BatchConfig{
		Size:    cfg.BatchSize,
		Timeout: cfg.BatchTimeout,
	}
	consumer.batcher = newEventBuffer(batchCfg, consumer.reconcileBatch, logger.WithField("component", "trigger_consumer"))
	return consumer, nil
}

// Start establishes the AMQP connection and begins consuming trigger events.
func (c *Consumer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn
	c.batcher.setContext(ctx)

	ch, err := conn.Channel()
	if err != nil {
		c.Close(ctx)
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.PoolEventsExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close(ctx)
		return fmt.Errorf("declare exchange %s: %w", c.cfg.PoolEventsExchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		c.Close(ctx)
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", c.cfg.PoolEventsExchange, false, nil); err != nil {
		ch.Close()
		c.Close(ctx)
		return fmt.Errorf("bind queue %s: %w", queue.Name, err)
	}
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		c.Close(ctx)
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		c.Close(ctx)
		return fmt.Errorf("start consume: %w", err)
	}
	c.channel = ch
	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)

	c.logger.Infof("trigger consumer started: exchange=%s", c.cfg.PoolEventsExchange)
	return nil
}

// Close stops consumption, flushes the pending batch, and releases resources.
func (c *Consumer) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.wg.Wait()
	if c.batcher == nil {
		return nil
	}
	return c.batcher.drain(ctx)
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.WithField("component", "trigger_consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.handleDelivery(&delivery); err != nil {
				log.WithError(err).Warn("failed to process message")
				_ = delivery.Nack(false, true)
				continue
			}
			if err := delivery.Ack(false); err != nil {
				log.WithError(err).Warn("failed to ack delivery")
			}
		}
	}
}

func (c *Consumer) handleDelivery(delivery *amqp.Delivery) error {
	var payload TriggerEventMessage
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.Pool == "" {
		return errors.New("trigger event has no pool address")
	}
	return c.batcher.enqueue(payload.toEntity())
}

func (c *Consumer) reconcileBatch(ctx context.Context, events []pool.TriggerEvent) error {
	results, err := c.service.Reconcile(ctx, events)
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"events": len(events),
		"orders": len(results),
	}).Info("trigger batch reconciled")
	return nil
}
