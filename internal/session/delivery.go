package session

import (
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/wortley/unichess/internal/game"
)

// maxEmitAttempts bounds delivery retries for one event. Delivery is
// best-effort: after the ceiling the event is dropped and only logged, since
// the recipient is by definition unreachable.
const maxEmitAttempts = 5

// startDelivery begins forwarding the (session, connection) queue to the
// connection. One delivery loop runs per live player channel on the worker
// that owns the connection.
func (c *Controller) startDelivery(gameID, connID string) error {
	events, tag, err := c.gateway.Consume(gameID, connID)
	if err != nil {
		return fmt.Errorf("start delivery %s/%s: %w", gameID, connID, err)
	}
	c.registry.AddConsumer(gameID, tag)

	slog.Info("Delivery path started", "gameID", gameID, "connID", connID, "tag", tag)
	go c.deliveryLoop(connID, events)
	return nil
}

// deliveryLoop drains the consumer channel until the consumer is cancelled.
// Each event is delivered asynchronously so a slow or failing delivery never
// blocks receipt of the next message; attempts start in receipt order but
// completion order across concurrent attempts is not guaranteed.
func (c *Controller) deliveryLoop(connID string, events <-chan game.Event) {
	for ev := range events {
		go c.emitWithRetry(connID, ev)
	}
	slog.Info("Delivery path stopped", "connID", connID)
}

// emitWithRetry attempts delivery up to maxEmitAttempts times, retrying
// immediately on failure.
func (c *Controller) emitWithRetry(connID string, ev game.Event) {
	attempt := 0
	emit := func() error {
		attempt++
		if err := c.emitter.Emit(connID, ev); err != nil {
			slog.Error("Emit event failed, retrying", "event", ev.Name, "connID", connID, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxEmitAttempts-1)
	if err := backoff.Retry(emit, policy); err != nil {
		slog.Error("Emit event failed, giving up", "event", ev.Name, "connID", connID, "attempts", attempt)
	}
}
