package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventPublisher performs fire-and-forget publishes over a single channel on
// an already-open connection. Messages are marked persistent with content
// type application/json; mandatory and immediate stay disabled so the broker
// may drop unroutable messages, which is acceptable for a best-effort
// logging sink. There are no publisher confirms and no retries.
type EventPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex
}

// NewEventPublisher creates a publisher with its own channel on conn.
func NewEventPublisher(conn *amqp.Connection) (*EventPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: connection cannot be nil", ErrInvalidConfiguration)
	}

	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &EventPublisher{
		conn:    conn,
		channel: channel,
	}, nil
}

// Publish sends one message to the given exchange and routing key. The call
// blocks only for the synchronous write into the client library; whatever
// timeout behavior the underlying publish primitive provides is inherited.
func (p *EventPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil {
		return ErrPublisherClosed
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	err := p.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory; don't return unsendable messages
		false, // immediate; allow messages to be queued
		publishing,
	)
	if err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	return nil
}

// Close closes the publisher's channel. The connection stays open; it
// belongs to the connection manager.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		err := p.channel.Close()
		p.channel = nil
		return err
	}

	return nil
}
