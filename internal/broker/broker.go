// Package broker forwards hook events to an AMQP topic exchange so other
// services can follow registry, execution and ledger activity.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
)

// DefaultExchange is used when Config.Exchange is empty.
const DefaultExchange = "swarm.events"

// Config describes the AMQP connection.
type Config struct {
	URL      string
	Exchange string
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the JSON body of every published event.
type Message struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher publishes hook events with the event name as routing key.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      *logging.Logger
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(cfg Config, log *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := NewPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an open channel. The exchange must already exist.
func NewPublisher(ch Channel, exchange string, log *logging.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange, log: log.Sub("broker")}
}

// Attach subscribes the publisher to every event on hm.
func (p *Publisher) Attach(hm *hooks.Manager) {
	hm.OnAll("broker", p.handle)
}

// Detach removes the subscriptions made by Attach.
func (p *Publisher) Detach(hm *hooks.Manager) {
	hm.Detach("broker")
}

func (p *Publisher) handle(ctx context.Context, payload hooks.Payload) error {
	return p.Publish(ctx, payload.Event, payload.Data)
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, event string, data map[string]any) error {
	body, err := json.Marshal(Message{Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         event,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	p.log.Debug().Str("event", event).Str("exchange", p.exchange).Msg("event published")
	return nil
}

// Close closes the channel and, when the publisher dialed it, the
// connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
