// Package broker adapts RabbitMQ topic exchanges for the pipeline.
// Delivery is at-least-once: consumers ack manually, failed handlers
// republish with an incremented x-retry header, and exhausted messages
// land on a parallel dead-letter exchange.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher is the outbound surface the orchestrator and workers use.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message any) error
}

// Producer publishes JSON messages to topic exchanges. Exchanges are
// declared once and cached per connection.
type Producer struct {
	url    string
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	known  map[string]bool
	logger *logrus.Entry
}

// NewProducer connects and opens a publishing channel.
func NewProducer(url string) (*Producer, error) {
	p := &Producer{
		url:    url,
		known:  make(map[string]bool),
		logger: logrus.WithField("component", "broker.producer"),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Producer) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.known = make(map[string]bool)
	p.logger.Info("Producer connected")
	return nil
}

func (p *Producer) ensureExchange(name string) error {
	if p.known[name] {
		return nil
	}
	if err := p.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	p.known[name] = true
	return nil
}

// Publish sends one persistent JSON message. The connection is re-dialed
// transparently when it has been lost.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		p.logger.Warn("Connection lost, reconnecting")
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.ensureExchange(exchange); err != nil {
		return err
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.WithFields(logrus.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Debug("Published message")
	return nil
}

// Close releases the channel and connection.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
