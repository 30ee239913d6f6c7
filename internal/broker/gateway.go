// Package broker drives the publish/subscribe topology that routes game
// events across worker processes: one topic exchange per session, one queue
// per (session, connection) bound with the connection's own routing key plus
// the broadcast key. Connections are pinned to the worker that accepted them,
// so each player's queue is consumed by that worker, while any worker can
// publish into the session's exchange.
package broker

import (
	"context"

	"github.com/wortley/unichess/internal/game"
)

// Gateway is the broker surface used by the session and play controllers.
// Teardown operations are idempotent: tearing down a resource that is already
// gone is treated as success, since teardown can be triggered by disconnect
// races.
type Gateway interface {
	// OpenSession declares the session's topic exchange.
	OpenSession(id string) error
	// OpenPlayerChannel declares the (session, connection) queue and binds it
	// to the session exchange under both the connection id and the broadcast
	// key.
	OpenPlayerChannel(id, connID string) error
	// Publish serializes the event and publishes it to the session exchange
	// with the given routing key.
	Publish(ctx context.Context, id string, ev game.Event, routingKey string) error
	// Consume starts delivering the (session, connection) queue's messages on
	// the returned channel, which is closed when the consumer stops. The
	// returned tag cancels the consumer.
	Consume(id, connID string) (<-chan game.Event, string, error)
	// Cancel stops the consumer identified by tag.
	Cancel(tag string) error
	// Unbind removes the (session, connection) queue's bindings and the queue.
	Unbind(id, connID string) error
	// CloseSession deletes the session's exchange.
	CloseSession(id string) error
	// Close tears down the broker connection at worker shutdown.
	Close() error
}
