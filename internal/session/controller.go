// Package session implements the game-session lifecycle and the event
// delivery path. Workers share no memory: all cross-worker coordination goes
// through the session store and the broker gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/wortley/unichess/internal/broker"
	"github.com/wortley/unichess/internal/game"
	"github.com/wortley/unichess/internal/registry"
	"github.com/wortley/unichess/internal/rules"
	"github.com/wortley/unichess/internal/store"
)

// Emitter delivers an event to a connection owned by this worker.
type Emitter interface {
	Emit(connID string, ev game.Event) error
}

// Config bounds session creation.
type Config struct {
	// MaxConcurrentSessions caps live sessions across all workers.
	MaxConcurrentSessions int
}

// Controller owns the session lifecycle: create, join, rematch, teardown.
type Controller struct {
	store    store.Store
	gateway  broker.Gateway
	registry *registry.Registry
	emitter  Emitter
	engine   rules.Engine
	config   Config
}

func NewController(st store.Store, gw broker.Gateway, reg *registry.Registry, em Emitter, en rules.Engine, cfg Config) *Controller {
	return &Controller{
		store:    st,
		gateway:  gw,
		registry: reg,
		emitter:  em,
		engine:   en,
		config:   cfg,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// mapStoreErr converts store failures into user-visible errors addressed to
// connID.
func mapStoreErr(err error, connID string) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return game.NewError(game.KindSessionNotFound, "Game not found", connID)
	case errors.Is(err, store.ErrStoreUnavailable):
		return game.NewError(game.KindStoreUnavailable, "Server error, please try again later", connID)
	}
	return err
}

// sessionFor loads the session recorded for connID on this worker.
func (c *Controller) sessionFor(ctx context.Context, connID string) (*game.Session, error) {
	gameID, ok := c.registry.Game(connID)
	if !ok {
		return nil, game.NewError(game.KindSessionNotFound, "You are not in a game", connID)
	}
	sess, err := c.store.Get(ctx, gameID)
	if err != nil {
		return nil, mapStoreErr(err, connID)
	}
	return sess, nil
}

// Create starts a new session with connID as its only player and returns the
// session id. The id goes to the creator alone via a direct "gameId" emit;
// there is no second player to broadcast to yet.
func (c *Controller) Create(ctx context.Context, connID string, timeControl int) (string, error) {
	active, err := c.store.CountActive(ctx)
	if err != nil {
		return "", mapStoreErr(err, connID)
	}
	if active > c.config.MaxConcurrentSessions {
		return "", game.NewError(game.KindCapacityExceeded, "Server concurrent game limit reached. Please try again later", connID)
	}

	id := uuid.NewString()
	budget := int64(timeControl) * game.MillisPerMinute
	sess := &game.Session{
		ID:            id,
		Players:       []string{connID},
		FEN:           c.engine.NewPosition(),
		WhiteMs:       budget,
		BlackMs:       budget,
		TurnStartedAt: game.TurnNotStarted,
		TimeControl:   timeControl,
	}

	c.registry.SetGame(connID, id)
	if err := c.store.Save(ctx, sess); err != nil {
		c.registry.RemoveGame(connID)
		return "", mapStoreErr(err, connID)
	}

	if err := c.emitter.Emit(connID, game.Event{Name: "gameId", Data: id}); err != nil {
		slog.Warn("Failed to emit gameId", "gameID", id, "connID", connID, "error", err)
	}

	if err := c.gateway.OpenSession(id); err != nil {
		return "", fmt.Errorf("open session %s: %w", id, err)
	}
	if err := c.openPlayerChannel(id, connID); err != nil {
		return "", err
	}

	slog.Info("Game created", "gameID", id, "connID", connID, "timeControl", timeControl)
	return id, nil
}

// Join adds connID as the session's second player, randomly assigns colours
// and starts both clocks. Each player receives its own "start" event under
// its private routing key because the payload differs per player.
func (c *Controller) Join(ctx context.Context, connID, gameID string) error {
	sess, err := c.store.Get(ctx, gameID)
	if err != nil {
		return mapStoreErr(err, connID)
	}
	if sess.Full() {
		return game.NewError(game.KindSessionFull, "This game already has two players", connID)
	}

	sess.Players = append(sess.Players, connID)

	// Fair colour assignment, independent of arrival order. The order is
	// never re-shuffled afterward.
	if rand.IntN(2) == 1 {
		sess.Players[0], sess.Players[1] = sess.Players[1], sess.Players[0]
	}
	sess.TurnStartedAt = nowMillis()

	if err := c.store.Save(ctx, sess); err != nil {
		return mapStoreErr(err, connID)
	}
	c.registry.SetGame(connID, gameID)

	if err := c.openPlayerChannel(gameID, connID); err != nil {
		return err
	}

	slog.Info("Game joined", "gameID", gameID, "connID", connID)
	return c.publishStarts(ctx, sess)
}

// publishStarts sends each player its colour and remaining clock.
func (c *Controller) publishStarts(ctx context.Context, sess *game.Session) error {
	for i, colour := range []game.Colour{game.White, game.Black} {
		ev := game.Event{Name: "start", Data: game.StartData{
			Colour:        colour,
			TimeRemaining: sess.Clock(colour),
		}}
		if err := c.gateway.Publish(ctx, sess.ID, ev, sess.Players[i]); err != nil {
			return fmt.Errorf("publish start to %s: %w", sess.Players[i], err)
		}
	}
	return nil
}

// OfferRematch notifies the requester's opponent, and only the opponent.
func (c *Controller) OfferRematch(ctx context.Context, connID string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	opponent := sess.Opponent(connID)
	if opponent == "" {
		return game.NewError(game.KindBadRequest, "No opponent to offer a rematch to", connID)
	}
	return c.gateway.Publish(ctx, sess.ID, game.Event{Name: "rematchOffer", Data: 1}, opponent)
}

// AcceptRematch resets the position and clocks and swaps colours.
// The original service never tracked whether an offer was actually
// outstanding; that behavior is preserved.
func (c *Controller) AcceptRematch(ctx context.Context, connID string) error {
	sess, err := c.sessionFor(ctx, connID)
	if err != nil {
		return err
	}
	if !sess.Full() {
		return game.NewError(game.KindBadRequest, "No opponent to rematch", connID)
	}

	sess.FEN = c.engine.NewPosition()
	sess.Players[0], sess.Players[1] = sess.Players[1], sess.Players[0]
	budget := int64(sess.TimeControl) * game.MillisPerMinute
	sess.WhiteMs = budget
	sess.BlackMs = budget
	sess.TurnStartedAt = nowMillis()

	if err := c.store.Save(ctx, sess); err != nil {
		return mapStoreErr(err, connID)
	}

	slog.Info("Rematch accepted", "gameID", sess.ID, "connID", connID)
	return c.publishStarts(ctx, sess)
}

// Leave removes connID from its session, tearing the session down entirely
// when it was the last player. It is a no-op when the registry holds no
// mapping for connID, so duplicate invocations (explicit exit followed by
// disconnect) are safe, as is any "resource already gone" race during the
// broker teardown steps.
func (c *Controller) Leave(ctx context.Context, connID string) error {
	gameID, ok := c.registry.Game(connID)
	if !ok {
		return nil
	}

	sess, err := c.store.Get(ctx, gameID)
	if errors.Is(err, store.ErrSessionNotFound) {
		// Another worker already tore the session down; just forget it.
		c.registry.RemoveGame(connID)
		return nil
	}
	if err != nil {
		return mapStoreErr(err, connID)
	}

	c.registry.RemoveGame(connID)
	if err := c.gateway.Unbind(gameID, connID); err != nil {
		slog.Warn("Failed to unbind player queue", "gameID", gameID, "connID", connID, "error", err)
	}

	if len(sess.Players) > 1 {
		remaining := make([]string, 0, len(sess.Players)-1)
		for _, p := range sess.Players {
			if p != connID {
				remaining = append(remaining, p)
			}
		}
		sess.Players = remaining
		if err := c.store.Save(ctx, sess); err != nil {
			return mapStoreErr(err, connID)
		}
		slog.Info("Player left game", "gameID", gameID, "connID", connID)
		return nil
	}

	// Last player out: cancel this worker's consumers and drop the session.
	for _, tag := range c.registry.Consumers(gameID) {
		if err := c.gateway.Cancel(tag); err != nil {
			slog.Warn("Failed to cancel consumer", "gameID", gameID, "tag", tag, "error", err)
		}
	}
	c.registry.RemoveConsumers(gameID)
	if err := c.gateway.CloseSession(gameID); err != nil {
		slog.Warn("Failed to close session exchange", "gameID", gameID, "error", err)
	}
	if err := c.store.Delete(ctx, gameID); err != nil {
		return mapStoreErr(err, connID)
	}

	slog.Info("Game closed", "gameID", gameID, "connID", connID)
	return nil
}

// openPlayerChannel declares and binds the player's queue and starts its
// delivery path.
func (c *Controller) openPlayerChannel(gameID, connID string) error {
	if err := c.gateway.OpenPlayerChannel(gameID, connID); err != nil {
		return fmt.Errorf("open player channel %s/%s: %w", gameID, connID, err)
	}
	return c.startDelivery(gameID, connID)
}
