package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	// RetryHeader counts redeliveries of a message body.
	RetryHeader = "x-retry"

	// DefaultMaxRetries is applied when SubscribeOptions leaves it zero.
	DefaultMaxRetries = 3

	dlqSuffix = ".dlq"
)

// Handler processes one decoded message body. A non-nil error triggers
// the retry/DLQ path; the message is always acked afterwards so the
// broker never redelivers on its own.
type Handler func(ctx context.Context, body []byte) error

// SubscribeOptions tune one subscription.
type SubscribeOptions struct {
	MaxRetries int
}

// Consumer binds per-subscriber isolated queues to topic exchanges. Each
// subscription gets its own durable queue named
// "{service}.{exchange}.{key}.queue" plus a parallel DLQ queue, and is
// consumed with prefetch 1.
type Consumer struct {
	url     string
	service string
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  *logrus.Entry
}

// NewConsumer connects a named service to the broker.
func NewConsumer(url, service string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	logger := logrus.WithFields(logrus.Fields{
		"component": "broker.consumer",
		"service":   service,
	})
	logger.Info("Consumer connected")
	return &Consumer{url: url, service: service, conn: conn, ch: ch, logger: logger}, nil
}

// QueueName derives the isolated queue name for a binding.
func QueueName(service, exchange, routingKey string) string {
	safeKey := strings.ReplaceAll(routingKey, ".", "_")
	safeKey = strings.ReplaceAll(safeKey, "*", "all")
	safeKey = strings.ReplaceAll(safeKey, "#", "any")
	return fmt.Sprintf("%s.%s.%s.queue", service, exchange, safeKey)
}

// DLQExchange derives the dead-letter exchange for a source exchange.
func DLQExchange(exchange string) string {
	return exchange + dlqSuffix
}

// Subscribe binds a durable queue and its DLQ, then consumes in a
// goroutine until ctx is cancelled.
func (c *Consumer) Subscribe(ctx context.Context, exchange, routingKey string, handler Handler, opts SubscribeOptions) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	dlqExchange := DLQExchange(exchange)
	for _, name := range []string{exchange, dlqExchange} {
		if err := c.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	queueName := QueueName(c.service, exchange, routingKey)
	dlqQueueName := QueueName(c.service, dlqExchange, routingKey)

	queue, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := c.ch.QueueBind(queue.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queueName, err)
	}

	dlqQueue, err := c.ch.QueueDeclare(dlqQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dlq queue %s: %w", dlqQueueName, err)
	}
	if err := c.ch.QueueBind(dlqQueue.Name, routingKey, dlqExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq queue %s: %w", dlqQueueName, err)
	}

	deliveries, err := c.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	c.logger.WithFields(logrus.Fields{
		"queue":       queueName,
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Info("Subscription bound")

	go c.consumeLoop(ctx, deliveries, exchange, dlqExchange, routingKey, queueName, handler, maxRetries)
	return nil
}

// SubscribeDLQ binds to every routing key on the dead-letter exchange of
// a source exchange. Used by the orchestrator to terminate jobs whose
// messages exhausted their retries.
func (c *Consumer) SubscribeDLQ(ctx context.Context, sourceExchange string, handler Handler) error {
	dlqExchange := DLQExchange(sourceExchange)
	if err := c.ch.ExchangeDeclare(dlqExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", dlqExchange, err)
	}

	queueName := QueueName(c.service, dlqExchange, "#")
	queue, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := c.ch.QueueBind(queue.Name, "#", dlqExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queueName, err)
	}

	deliveries, err := c.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	c.logger.WithField("queue", queueName).Info("DLQ subscription bound")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := handler(ctx, d.Body); err != nil {
					c.logger.WithError(err).Error("DLQ handler failed")
				}
				if err := d.Ack(false); err != nil {
					c.logger.WithError(err).Error("DLQ ack failed")
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, exchange, dlqExchange, routingKey, queueName string, handler Handler, maxRetries int) {
	logger := c.logger.WithField("queue", queueName)
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("Delivery channel closed")
				return
			}
			c.handleDelivery(ctx, d, exchange, dlqExchange, routingKey, logger, handler, maxRetries)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, exchange, dlqExchange, routingKey string, logger *logrus.Entry, handler Handler, maxRetries int) {
	err := handler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Error("Ack failed")
		}
		return
	}

	retries := retryCount(d.Headers)
	logger.WithError(err).WithField("retries", retries).Warn("Handler failed")

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}

	var target string
	if retries < maxRetries {
		headers[RetryHeader] = int32(retries + 1)
		target = exchange
	} else {
		headers[RetryHeader] = int32(retries)
		target = dlqExchange
	}

	pubErr := c.ch.PublishWithContext(ctx, target, routingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	})
	if pubErr != nil {
		logger.WithError(pubErr).Error("Republish failed, rejecting without requeue")
		if rejErr := d.Reject(false); rejErr != nil {
			logger.WithError(rejErr).Error("Reject failed")
		}
		return
	}

	if target == dlqExchange {
		logger.WithField("retries", retries).Error("Message moved to DLQ")
	}
	if ackErr := d.Ack(false); ackErr != nil {
		logger.WithError(ackErr).Error("Ack failed after republish")
	}
}

func retryCount(headers amqp.Table) int {
	raw, ok := headers[RetryHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Close releases the channel and connection.
func (c *Consumer) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
