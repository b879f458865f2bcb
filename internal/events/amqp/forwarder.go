// Package amqp forwards report events to a RabbitMQ topic exchange so
// other services can react to them.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kiranshivaraju/scoutreport/internal/events"
)

// Channel is the subset of *amqp.Channel the forwarder uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Forwarder publishes each event to the exchange with the event kind as
// routing key.
type Forwarder struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string) (*Forwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	f, err := NewForwarder(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	f.conn = conn
	return f, nil
}

func NewForwarder(ch Channel, exchange string) (*Forwarder, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Forwarder{ch: ch, exchange: exchange}, nil
}

// Handle satisfies events.Handler.
func (f *Forwarder) Handle(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	err = f.ch.PublishWithContext(ctx, f.exchange, string(e.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	return nil
}

func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.ch.Close()
	if f.conn != nil {
		if cerr := f.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
