package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wortley/unichess/internal/game"
)

// ErrBrokerUnavailable wraps transport-level broker failures.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

const dialTimeout = 30 * time.Second

// queueName names the queue for one (session, connection) pair.
func queueName(id, connID string) string {
	return id + "." + connID
}

// AMQPGateway implements Gateway on a single AMQP connection and channel.
// The client library does not support unsynchronized concurrent use of one
// channel, so every operation is serialized by the gateway's mutex.
type AMQPGateway struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPGateway dials the broker, retrying with exponential backoff. A
// connection lost after startup is not re-dialed: the worker is expected to
// restart, and surviving clients rebuild their topology by rejoining.
func NewAMQPGateway(url string) (*AMQPGateway, error) {
	var conn *amqp.Connection
	dial := func() error {
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			slog.Warn("Broker dial failed, retrying", "error", err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = dialTimeout
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	slog.Info("Connected to message broker")
	return &AMQPGateway{conn: conn, ch: ch}, nil
}

// channel returns a usable channel, reopening it if a prior channel-level
// exception (e.g. operating on a deleted queue) closed it.
func (g *AMQPGateway) channel() (*amqp.Channel, error) {
	if g.ch != nil && !g.ch.IsClosed() {
		return g.ch, nil
	}
	ch, err := g.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	g.ch = ch
	return ch, nil
}

// isNotFound reports whether err is the broker telling us the resource is
// already gone, which teardown treats as success.
func isNotFound(err error) bool {
	var aerr *amqp.Error
	return errors.As(err, &aerr) && aerr.Code == amqp.NotFound
}

func (g *AMQPGateway) OpenSession(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(id, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", id, err)
	}
	return nil
}

func (g *AMQPGateway) OpenPlayerChannel(id, connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return err
	}
	queue := queueName(id, connID)
	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range []string{connID, game.BroadcastKey} {
		if err := ch.QueueBind(queue, key, id, false, nil); err != nil {
			return fmt.Errorf("bind queue %s with key %s: %w", queue, key, err)
		}
	}
	return nil
}

func (g *AMQPGateway) Publish(ctx context.Context, id string, ev game.Event, routingKey string) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, id, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Name, id, err)
	}
	return nil
}

func (g *AMQPGateway) Consume(id, connID string) (<-chan game.Event, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return nil, "", err
	}
	queue := queueName(id, connID)
	deliveries, err := ch.Consume(queue, queue, true, false, false, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("consume queue %s: %w", queue, err)
	}

	events := make(chan game.Event)
	go func() {
		defer close(events)
		for d := range deliveries {
			var ev game.Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				slog.Error("Failed to unmarshal broker message", "queue", queue, "error", err)
				continue
			}
			events <- ev
		}
	}()
	return events, queue, nil
}

func (g *AMQPGateway) Cancel(tag string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return err
	}
	if err := ch.Cancel(tag, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("cancel consumer %s: %w", tag, err)
	}
	return nil
}

func (g *AMQPGateway) Unbind(id, connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := queueName(id, connID)
	for _, key := range []string{connID, game.BroadcastKey} {
		ch, err := g.channel()
		if err != nil {
			return err
		}
		if err := ch.QueueUnbind(queue, key, id, nil); err != nil && !isNotFound(err) {
			return fmt.Errorf("unbind queue %s from %s: %w", queue, id, err)
		}
	}

	ch, err := g.channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDelete(queue, false, false, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete queue %s: %w", queue, err)
	}
	return nil
}

func (g *AMQPGateway) CloseSession(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, err := g.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDelete(id, false, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete exchange %s: %w", id, err)
	}
	return nil
}

func (g *AMQPGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ch != nil && !g.ch.IsClosed() {
		if err := g.ch.Close(); err != nil {
			slog.Warn("Failed to close broker channel", "error", err)
		}
	}
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("close broker connection: %w", err)
	}
	return nil
}
